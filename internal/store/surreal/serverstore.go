package surreal

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ServerStore implements interfaces.ServerStore against the "servers"
// table, unique on name.
type ServerStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewServerStore creates a new ServerStore.
func NewServerStore(db *surrealdb.DB, logger *common.Logger) *ServerStore {
	return &ServerStore{db: db, logger: logger}
}

func (s *ServerStore) rid(name string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("servers", name)
}

func (s *ServerStore) Upsert(ctx context.Context, server *models.Server) error {
	sql := "UPSERT $rid CONTENT $server"
	vars := map[string]any{"rid": s.rid(server.Name), "server": server}
	if _, err := surrealdb.Query[[]models.Server](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("upsert server %s: %w", server.Name, err)
	}
	return nil
}

func (s *ServerStore) Find(ctx context.Context, name string) (*models.Server, error) {
	sql := "SELECT * FROM $rid"
	vars := map[string]any{"rid": s.rid(name)}
	results, err := surrealdb.Query[[]models.Server](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("find server %s: %w", name, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("server %s: %w", name, errNotFound)
	}
	server := (*results)[0].Result[0]
	return &server, nil
}

func (s *ServerStore) List(ctx context.Context) ([]*models.Server, error) {
	sql := "SELECT * FROM servers ORDER BY name ASC"
	results, err := surrealdb.Query[[]models.Server](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	var out []*models.Server
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

func (s *ServerStore) Heartbeat(ctx context.Context, name string, now time.Time, activeThreads int) error {
	sql := "UPDATE $rid SET heartbeat.updated_at = $now, heartbeat.active_threads = $threads"
	vars := map[string]any{"rid": s.rid(name), "now": now, "threads": activeThreads}
	if _, err := surrealdb.Query[[]models.Server](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("heartbeat server %s: %w", name, err)
	}
	return nil
}

func (s *ServerStore) Remove(ctx context.Context, name string) error {
	sql := "DELETE $rid"
	vars := map[string]any{"rid": s.rid(name)}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("remove server %s: %w", name, err)
	}
	return nil
}
