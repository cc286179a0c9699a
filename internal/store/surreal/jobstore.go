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

// JobStore implements interfaces.JobStore against the "jobs" table.
type JobStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *surrealdb.DB, logger *common.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

func (s *JobStore) rid(id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("jobs", id)
}

func (s *JobStore) Insert(ctx context.Context, job *models.Job) error {
	sql := "CREATE $rid CONTENT $job"
	vars := map[string]any{"rid": s.rid(job.ID), "job": job}
	if _, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil // duplicate key on insert is treated as success
		}
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) Find(ctx context.Context, id string) (*models.Job, error) {
	sql := "SELECT * FROM $rid"
	vars := map[string]any{"rid": s.rid(id)}
	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, errNotFound)
	}
	job := (*results)[0].Result[0]
	return &job, nil
}

// NextJob mirrors the teacher's two-step select-then-conditional-update
// dequeue (internal/storage/surrealdb/jobqueue.go): select the
// highest-priority runnable candidate, then only mutate it into running
// when it is still queued. A sliced job already running-and-processing is
// returned as-is so a second worker can join it without racing the job's
// own state — only its slices are contested, via SliceStore.NextSlice.
func (s *JobStore) NextJob(ctx context.Context, serverName string, now time.Time) (*models.Job, error) {
	selectSQL := `SELECT * FROM jobs
		WHERE (state = $queued OR (state = $running AND sub_state = $processing))
		AND (run_at = NONE OR run_at <= $now)
		ORDER BY priority ASC, created_at ASC LIMIT 1`
	vars := map[string]any{
		"queued":     models.StateQueued,
		"running":    models.StateRunning,
		"processing": models.SubStateProcessing,
		"now":        now,
	}

	results, err := surrealdb.Query[[]models.Job](ctx, s.db, selectSQL, vars)
	if err != nil {
		return nil, fmt.Errorf("select candidate job: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	candidate := (*results)[0].Result[0]

	if candidate.State != models.StateQueued {
		// Already running a sliced job in progress: join without a CAS.
		return &candidate, nil
	}

	// The claim fires the "start" transition's side effects inline
	// (started_at, and sub_state=before for sliced jobs) since nothing else
	// in the dispatch path calls Engine.Start after NextJob returns.
	subState := models.SubStateNone
	if candidate.Kind == models.KindSliced {
		subState = models.SubStateBefore
	}
	claimSQL := "UPDATE $rid SET state = $running, server_name = $serverName, started_at = $now, sub_state = $subState WHERE state = $queued"
	claimVars := map[string]any{
		"rid":        s.rid(candidate.ID),
		"running":    models.StateRunning,
		"serverName": serverName,
		"now":        now,
		"queued":     models.StateQueued,
		"subState":   subState,
	}
	claimed, err := surrealdb.Query[[]models.Job](ctx, s.db, claimSQL, claimVars)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", candidate.ID, err)
	}
	if claimed == nil || len(*claimed) == 0 || len((*claimed)[0].Result) == 0 {
		// Another server won the race between select and claim.
		return nil, nil
	}

	claimedJob := (*claimed)[0].Result[0]
	return &claimedJob, nil
}

func (s *JobStore) CompareAndSwap(ctx context.Context, id string, expectState models.State, mutate func(*models.Job)) (*models.Job, error) {
	job, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != expectState {
		return nil, fmt.Errorf("job %s: expected state %q, got %q: %w", id, expectState, job.State, errNotFound)
	}
	mutate(job)

	sql := "UPDATE $rid CONTENT $job WHERE state = $expect"
	vars := map[string]any{"rid": s.rid(id), "job": job, "expect": expectState}
	updated, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("compare-and-swap job %s: %w", id, err)
	}
	if updated == nil || len(*updated) == 0 || len((*updated)[0].Result) == 0 {
		return nil, fmt.Errorf("job %s: lost race on state %q: %w", id, expectState, errNotFound)
	}
	return job, nil
}

func (s *JobStore) CompareAndSwapSubState(ctx context.Context, id string, expectState models.State, expectSubState models.SubState, mutate func(*models.Job)) (*models.Job, error) {
	job, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != expectState || job.SubState != expectSubState {
		return nil, fmt.Errorf("job %s: expected (%q,%q), got (%q,%q): %w", id, expectState, expectSubState, job.State, job.SubState, errNotFound)
	}
	mutate(job)

	sql := "UPDATE $rid CONTENT $job WHERE state = $expect AND sub_state = $expectSub"
	vars := map[string]any{"rid": s.rid(id), "job": job, "expect": expectState, "expectSub": expectSubState}
	updated, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("compare-and-swap subState job %s: %w", id, err)
	}
	if updated == nil || len(*updated) == 0 || len((*updated)[0].Result) == 0 {
		return nil, fmt.Errorf("job %s: lost race on subState %q: %w", id, expectSubState, errNotFound)
	}
	return job, nil
}

func (s *JobStore) Update(ctx context.Context, job *models.Job) error {
	sql := "UPDATE $rid CONTENT $job"
	vars := map[string]any{"rid": s.rid(job.ID), "job": job}
	if _, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	sql := "DELETE $rid"
	vars := map[string]any{"rid": s.rid(id)}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (s *JobStore) ListRunning(ctx context.Context) ([]*models.Job, error) {
	sql := "SELECT * FROM jobs WHERE state = $running"
	vars := map[string]any{"running": models.StateRunning}
	return s.queryJobs(ctx, sql, vars)
}

func (s *JobStore) List(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT * FROM jobs ORDER BY created_at DESC LIMIT $limit"
	vars := map[string]any{"limit": limit}
	return s.queryJobs(ctx, sql, vars)
}

func (s *JobStore) queryJobs(ctx context.Context, sql string, vars map[string]any) ([]*models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	var jobs []*models.Job
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			jobs = append(jobs, &(*results)[0].Result[i])
		}
	}
	return jobs, nil
}
