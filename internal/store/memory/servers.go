package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/rocketd/internal/models"
)

// ServerStore is an in-memory implementation of interfaces.ServerStore.
type ServerStore struct {
	mu     sync.Mutex
	byName map[string]*models.Server
}

func newServerStore() *ServerStore {
	return &ServerStore{byName: make(map[string]*models.Server)}
}

func (s *ServerStore) Upsert(ctx context.Context, server *models.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *server
	s.byName[server.Name] = &cp
	return nil
}

func (s *ServerStore) Find(ctx context.Context, name string) (*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", name, errNotFound)
	}
	cp := *srv
	return &cp, nil
}

func (s *ServerStore) List(ctx context.Context) ([]*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Server, 0, len(s.byName))
	for _, srv := range s.byName {
		cp := *srv
		out = append(out, &cp)
	}
	return out, nil
}

func (s *ServerStore) Heartbeat(ctx context.Context, name string, now time.Time, activeThreads int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("server %s: %w", name, errNotFound)
	}
	srv.Heartbeat = models.Heartbeat{UpdatedAt: now, ActiveThreads: activeThreads}
	return nil
}

func (s *ServerStore) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byName, name)
	return nil
}

// ConfigStore is an in-memory implementation of interfaces.ConfigStore.
type ConfigStore struct {
	mu  sync.Mutex
	cfg *models.Config
}

func newConfigStore() *ConfigStore {
	return &ConfigStore{}
}

func (c *ConfigStore) Load(ctx context.Context) (*models.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return &models.Config{
			MaxWorkerThreads: 10,
			HeartbeatSeconds: 5,
			MaxPollSeconds:   5,
			ReCheckSeconds:   30,
		}, nil
	}
	cp := *c.cfg
	return &cp, nil
}

func (c *ConfigStore) Save(ctx context.Context, cfg *models.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *cfg
	c.cfg = &cp
	return nil
}
