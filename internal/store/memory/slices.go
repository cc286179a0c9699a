package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/rocketd/internal/models"
)

// SliceStore is an in-memory implementation of interfaces.SliceStore,
// scoped to one job's input or output collection.
type SliceStore struct {
	mu   sync.Mutex
	byID map[string]*models.Slice
}

func newSliceStore() *SliceStore {
	return &SliceStore{byID: make(map[string]*models.Slice)}
}

func (s *SliceStore) Insert(ctx context.Context, slice *models.Slice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[slice.ID]; exists {
		return nil // duplicate key on insert is treated as success (idempotent)
	}
	cp := *slice
	s.byID[slice.ID] = &cp
	return nil
}

func (s *SliceStore) NextSlice(ctx context.Context, serverName string, now time.Time) (*models.Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []*models.Slice
	for _, sl := range s.byID {
		if sl.State == models.SliceQueued {
			queued = append(queued, sl)
		}
	}
	if len(queued) == 0 {
		return nil, nil
	}
	sort.Slice(queued, func(a, b int) bool { return queued[a].ID < queued[b].ID })

	slice := queued[0]
	slice.State = models.SliceRunning
	slice.ServerName = serverName
	started := now
	slice.StartedAt = &started
	cp := *slice
	return &cp, nil
}

func (s *SliceStore) Update(ctx context.Context, slice *models.Slice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *slice
	s.byID[slice.ID] = &cp
	return nil
}

func (s *SliceStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *SliceStore) Find(ctx context.Context, id string) (*models.Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("slice %s: %w", id, errNotFound)
	}
	cp := *sl
	return &cp, nil
}

func (s *SliceStore) sortedIDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *SliceStore) First(ctx context.Context) (*models.Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.sortedIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	cp := *s.byID[ids[0]]
	return &cp, nil
}

func (s *SliceStore) Last(ctx context.Context) (*models.Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.sortedIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	cp := *s.byID[ids[len(ids)-1]]
	return &cp, nil
}

func (s *SliceStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*models.Slice)
	return nil
}

func (s *SliceStore) Drop(ctx context.Context) error { return s.Clear(ctx) }

func (s *SliceStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID), nil
}

func (s *SliceStore) countState(state models.SliceState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.byID {
		if sl.State == state {
			n++
		}
	}
	return n
}

func (s *SliceStore) QueuedCount(ctx context.Context) (int, error) {
	return s.countState(models.SliceQueued), nil
}

func (s *SliceStore) ActiveCount(ctx context.Context) (int, error) {
	return s.countState(models.SliceRunning), nil
}

func (s *SliceStore) FailedCount(ctx context.Context) (int, error) {
	return s.countState(models.SliceFailed), nil
}

func (s *SliceStore) RequeueFailed(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.byID {
		if sl.State == models.SliceFailed {
			sl.State = models.SliceQueued
			sl.ServerName = ""
			sl.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *SliceStore) RequeueRunning(ctx context.Context, serverName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.byID {
		if sl.State == models.SliceRunning && sl.ServerName == serverName {
			sl.State = models.SliceQueued
			sl.ServerName = ""
			sl.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *SliceStore) Each(ctx context.Context, fn func(*models.Slice) error) error {
	s.mu.Lock()
	ids := s.sortedIDs()
	slices := make([]*models.Slice, 0, len(ids))
	for _, id := range ids {
		cp := *s.byID[id]
		slices = append(slices, &cp)
	}
	s.mu.Unlock()

	for _, sl := range slices {
		if err := fn(sl); err != nil {
			return err
		}
	}
	return nil
}

func (s *SliceStore) EachFailedRecord(ctx context.Context, fn func(record string, slice *models.Slice) error) error {
	s.mu.Lock()
	var failed []*models.Slice
	for _, sl := range s.byID {
		if sl.State == models.SliceFailed && sl.Exception != nil {
			cp := *sl
			failed = append(failed, &cp)
		}
	}
	s.mu.Unlock()

	sort.Slice(failed, func(a, b int) bool { return failed[a].ID < failed[b].ID })
	for _, sl := range failed {
		idx := sl.Exception.RecordNumber - 1
		if idx < 0 || idx >= len(sl.Records) {
			continue
		}
		if err := fn(sl.Records[idx], sl); err != nil {
			return err
		}
	}
	return nil
}
