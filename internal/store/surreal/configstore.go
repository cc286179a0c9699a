package surreal

import (
	"context"
	"fmt"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// configRecordID is the fixed key of the single process-wide config
// document (spec.md §4.8/C10) — there is only ever one row in "config".
const configRecordID = "singleton"

// ConfigStore implements interfaces.ConfigStore against the "config"
// table's single document.
type ConfigStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewConfigStore creates a new ConfigStore.
func NewConfigStore(db *surrealdb.DB, logger *common.Logger) *ConfigStore {
	return &ConfigStore{db: db, logger: logger}
}

func (c *ConfigStore) rid() surrealmodels.RecordID {
	return surrealmodels.NewRecordID("config", configRecordID)
}

func (c *ConfigStore) Load(ctx context.Context) (*models.Config, error) {
	sql := "SELECT * FROM $rid"
	vars := map[string]any{"rid": c.rid()}
	results, err := surrealdb.Query[[]models.Config](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return &models.Config{
			MaxWorkerThreads: 10,
			HeartbeatSeconds: 5,
			MaxPollSeconds:   5,
			ReCheckSeconds:   30,
		}, nil
	}
	cfg := (*results)[0].Result[0]
	return &cfg, nil
}

func (c *ConfigStore) Save(ctx context.Context, cfg *models.Config) error {
	sql := "UPSERT $rid CONTENT $cfg"
	vars := map[string]any{"rid": c.rid(), "cfg": cfg}
	if _, err := surrealdb.Query[[]models.Config](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
