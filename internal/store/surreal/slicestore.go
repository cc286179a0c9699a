package surreal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// SliceStore implements interfaces.SliceStore against a per-job table
// (inputs_<jobId> or outputs_<jobId>), mirroring the teacher's pattern of
// one struct per collection wrapping a shared *surrealdb.DB handle.
type SliceStore struct {
	db     *surrealdb.DB
	logger *common.Logger
	table  string
}

// NewSliceStore returns a SliceStore scoped to table, defining it if it
// does not already exist.
func NewSliceStore(db *surrealdb.DB, logger *common.Logger, table string) *SliceStore {
	s := &SliceStore{db: db, logger: logger, table: table}
	sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
	if _, err := surrealdb.Query[any](context.Background(), db, sql, nil); err != nil {
		logger.Warn().Str("table", table).Err(err).Msg("failed to define slice table")
	}
	return s
}

func (s *SliceStore) rid(id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(s.table, id)
}

func (s *SliceStore) Insert(ctx context.Context, slice *models.Slice) error {
	createSQL := "CREATE $rid CONTENT $slice"
	vars := map[string]any{"rid": s.rid(slice.ID), "slice": slice}
	if _, err := surrealdb.Query[[]models.Slice](ctx, s.db, createSQL, vars); err != nil {
		if isDuplicateErr(err) {
			return nil // duplicate key on insert is treated as success (idempotent)
		}
		return fmt.Errorf("insert slice %s into %s: %w", slice.ID, s.table, err)
	}
	return nil
}

// NextSlice atomically claims one queued slice: select the lowest-ID
// queued candidate, then conditionally update it to running only if it is
// still queued, matching JobStore.NextJob's select-then-claim shape.
func (s *SliceStore) NextSlice(ctx context.Context, serverName string, now time.Time) (*models.Slice, error) {
	selectSQL := fmt.Sprintf("SELECT * FROM %s WHERE state = $queued ORDER BY id ASC LIMIT 1", s.table)
	vars := map[string]any{"queued": models.SliceQueued}
	results, err := surrealdb.Query[[]models.Slice](ctx, s.db, selectSQL, vars)
	if err != nil {
		return nil, fmt.Errorf("select candidate slice from %s: %w", s.table, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	candidate := (*results)[0].Result[0]

	claimSQL := "UPDATE $rid SET state = $running, server_name = $serverName, started_at = $now WHERE state = $queued"
	claimVars := map[string]any{
		"rid":        s.rid(candidate.ID),
		"running":    models.SliceRunning,
		"serverName": serverName,
		"now":        now,
		"queued":     models.SliceQueued,
	}
	claimed, err := surrealdb.Query[[]models.Slice](ctx, s.db, claimSQL, claimVars)
	if err != nil {
		return nil, fmt.Errorf("claim slice %s in %s: %w", candidate.ID, s.table, err)
	}
	if claimed == nil || len(*claimed) == 0 || len((*claimed)[0].Result) == 0 {
		return nil, nil // lost the race
	}
	claimedSlice := (*claimed)[0].Result[0]
	return &claimedSlice, nil
}

func (s *SliceStore) Update(ctx context.Context, slice *models.Slice) error {
	sql := "UPDATE $rid CONTENT $slice"
	vars := map[string]any{"rid": s.rid(slice.ID), "slice": slice}
	if _, err := surrealdb.Query[[]models.Slice](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("update slice %s in %s: %w", slice.ID, s.table, err)
	}
	return nil
}

func (s *SliceStore) Remove(ctx context.Context, id string) error {
	sql := "DELETE $rid"
	vars := map[string]any{"rid": s.rid(id)}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("remove slice %s from %s: %w", id, s.table, err)
	}
	return nil
}

func (s *SliceStore) Find(ctx context.Context, id string) (*models.Slice, error) {
	sql := "SELECT * FROM $rid"
	vars := map[string]any{"rid": s.rid(id)}
	results, err := surrealdb.Query[[]models.Slice](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("find slice %s in %s: %w", id, s.table, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("slice %s: %w", id, errNotFound)
	}
	slice := (*results)[0].Result[0]
	return &slice, nil
}

func (s *SliceStore) First(ctx context.Context) (*models.Slice, error) {
	sql := fmt.Sprintf("SELECT * FROM %s ORDER BY id ASC LIMIT 1", s.table)
	return s.queryOne(ctx, sql, nil)
}

func (s *SliceStore) Last(ctx context.Context) (*models.Slice, error) {
	sql := fmt.Sprintf("SELECT * FROM %s ORDER BY id DESC LIMIT 1", s.table)
	return s.queryOne(ctx, sql, nil)
}

func (s *SliceStore) queryOne(ctx context.Context, sql string, vars map[string]any) (*models.Slice, error) {
	results, err := surrealdb.Query[[]models.Slice](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("query slice in %s: %w", s.table, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	slice := (*results)[0].Result[0]
	return &slice, nil
}

func (s *SliceStore) Clear(ctx context.Context) error {
	sql := fmt.Sprintf("DELETE FROM %s", s.table)
	if _, err := surrealdb.Query[any](ctx, s.db, sql, nil); err != nil {
		return fmt.Errorf("clear %s: %w", s.table, err)
	}
	return nil
}

func (s *SliceStore) Drop(ctx context.Context) error {
	sql := fmt.Sprintf("REMOVE TABLE IF EXISTS %s", s.table)
	if _, err := surrealdb.Query[any](ctx, s.db, sql, nil); err != nil {
		return fmt.Errorf("drop table %s: %w", s.table, err)
	}
	return nil
}

func (s *SliceStore) Count(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "")
}

func (s *SliceStore) QueuedCount(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "state = $queued", "queued", models.SliceQueued)
}

func (s *SliceStore) ActiveCount(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "state = $running", "running", models.SliceRunning)
}

func (s *SliceStore) FailedCount(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "state = $failed", "failed", models.SliceFailed)
}

func (s *SliceStore) countWhere(ctx context.Context, where string, kv ...any) (int, error) {
	sql := fmt.Sprintf("SELECT count() AS cnt FROM %s", s.table)
	vars := map[string]any{}
	if where != "" {
		sql += " WHERE " + where
	}
	for i := 0; i+1 < len(kv); i += 2 {
		vars[kv[i].(string)] = kv[i+1]
	}
	sql += " GROUP ALL"

	type countResult struct {
		Cnt int `json:"cnt"`
	}
	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

func (s *SliceStore) RequeueFailed(ctx context.Context) (int, error) {
	sql := fmt.Sprintf("UPDATE %s SET state = $queued, server_name = NONE, started_at = NONE WHERE state = $failed", s.table)
	vars := map[string]any{"queued": models.SliceQueued, "failed": models.SliceFailed}
	results, err := surrealdb.Query[[]models.Slice](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("requeue failed slices in %s: %w", s.table, err)
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

func (s *SliceStore) RequeueRunning(ctx context.Context, serverName string) (int, error) {
	sql := fmt.Sprintf("UPDATE %s SET state = $queued, server_name = NONE, started_at = NONE WHERE state = $running AND server_name = $serverName", s.table)
	vars := map[string]any{"queued": models.SliceQueued, "running": models.SliceRunning, "serverName": serverName}
	results, err := surrealdb.Query[[]models.Slice](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("requeue running slices owned by %s in %s: %w", serverName, s.table, err)
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

func (s *SliceStore) Each(ctx context.Context, fn func(*models.Slice) error) error {
	sql := fmt.Sprintf("SELECT * FROM %s ORDER BY id ASC", s.table)
	results, err := surrealdb.Query[[]models.Slice](ctx, s.db, sql, nil)
	if err != nil {
		return fmt.Errorf("list slices in %s: %w", s.table, err)
	}
	if results == nil || len(*results) == 0 {
		return nil
	}
	for i := range (*results)[0].Result {
		if err := fn(&(*results)[0].Result[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SliceStore) EachFailedRecord(ctx context.Context, fn func(record string, slice *models.Slice) error) error {
	sql := fmt.Sprintf("SELECT * FROM %s WHERE state = $failed ORDER BY id ASC", s.table)
	vars := map[string]any{"failed": models.SliceFailed}
	results, err := surrealdb.Query[[]models.Slice](ctx, s.db, sql, vars)
	if err != nil {
		return fmt.Errorf("list failed slices in %s: %w", s.table, err)
	}
	if results == nil || len(*results) == 0 {
		return nil
	}
	for i := range (*results)[0].Result {
		slice := &(*results)[0].Result[i]
		if slice.Exception == nil {
			continue
		}
		idx := slice.Exception.RecordNumber - 1
		if idx < 0 || idx >= len(slice.Records) {
			continue
		}
		if err := fn(slice.Records[idx], slice); err != nil {
			return err
		}
	}
	return nil
}

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already contains")
}
