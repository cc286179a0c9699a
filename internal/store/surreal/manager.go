// Package surreal implements the rocketd store contracts against
// SurrealDB, grounded on the teacher's internal/storage/surrealdb package
// (manager.go's connect/sign-in/use-namespace sequence and jobqueue.go's
// select-then-conditional-update claim pattern).
package surreal

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

// Manager implements interfaces.Store against two SurrealDB connections:
// jobsDB backs the jobs/servers/config collections, and slicesDB backs the
// per-job input/output slice collections. The split matches spec's
// recommendation to isolate slice throughput from the control-plane
// connection.
type Manager struct {
	jobsDB   *surrealdb.DB
	slicesDB *surrealdb.DB
	logger   *common.Logger

	jobStore    *JobStore
	serverStore *ServerStore
	configStore *ConfigStore
}

// NewManager connects both SurrealDB endpoints named in cfg, defines the
// control-plane tables, and returns a ready Manager.
func NewManager(logger *common.Logger, cfg *common.Config) (*Manager, error) {
	ctx := context.Background()

	jobsDB, err := connect(ctx, cfg.Storage.Jobs)
	if err != nil {
		return nil, fmt.Errorf("connect jobs database: %w", err)
	}

	slicesDB, err := connect(ctx, cfg.Storage.Slices)
	if err != nil {
		jobsDB.Close(ctx)
		return nil, fmt.Errorf("connect slices database: %w", err)
	}

	for _, table := range []string{"jobs", "servers", "config"} {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, jobsDB, sql, nil); err != nil {
			return nil, fmt.Errorf("define table %s: %w", table, err)
		}
	}

	m := &Manager{
		jobsDB:   jobsDB,
		slicesDB: slicesDB,
		logger:   logger,
	}
	m.jobStore = NewJobStore(jobsDB, logger)
	m.serverStore = NewServerStore(jobsDB, logger)
	m.configStore = NewConfigStore(jobsDB, logger)

	logger.Info().
		Str("jobs_address", cfg.Storage.Jobs.Address).
		Str("slices_address", cfg.Storage.Slices.Address).
		Msg("SurrealDB store initialized")

	return m, nil
}

func connect(ctx context.Context, cfg common.SurrealConfig) (*surrealdb.DB, error) {
	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB at %s: %w", cfg.Address, err)
	}

	if cfg.Username != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	return db, nil
}

func (m *Manager) Jobs() interfaces.JobStore       { return m.jobStore }
func (m *Manager) Servers() interfaces.ServerStore { return m.serverStore }
func (m *Manager) Config() interfaces.ConfigStore  { return m.configStore }

// InputSlices and OutputSlices open (and lazily define) this job's
// inputs_<jobId> / outputs_<jobId> table. SurrealDB table names can't
// contain dots, so the spec's `inputs.<jobId>` naming is translated with
// an underscore (see DESIGN.md).
func (m *Manager) InputSlices(jobID string) interfaces.SliceStore {
	return NewSliceStore(m.slicesDB, m.logger, "inputs_"+sanitizeTable(jobID))
}

func (m *Manager) OutputSlices(jobID string) interfaces.SliceStore {
	return NewSliceStore(m.slicesDB, m.logger, "outputs_"+sanitizeTable(jobID))
}

// DropSlices removes both slice tables for jobID entirely, called on
// destroy_on_complete and on abort.
func (m *Manager) DropSlices(ctx context.Context, jobID string) error {
	suffix := sanitizeTable(jobID)
	for _, table := range []string{"inputs_" + suffix, "outputs_" + suffix} {
		sql := fmt.Sprintf("REMOVE TABLE IF EXISTS %s", table)
		if _, err := surrealdb.Query[any](ctx, m.slicesDB, sql, nil); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) Close() error {
	ctx := context.Background()
	m.jobsDB.Close(ctx)
	m.slicesDB.Close(ctx)
	return nil
}

// sanitizeTable maps a job ID to a valid bare SurrealDB table-name
// fragment: only letters, digits, and underscores survive.
func sanitizeTable(jobID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, jobID)
}
