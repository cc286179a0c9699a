package rocket

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/rocketd/internal/codec"
	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
)

// Engine carries the explicit dependencies every job transition and work
// loop needs: the store, the worker registry, the codec, and a logger. No
// package-level globals are used anywhere in this package, per the
// "explicit configuration" design note — every caller constructs one
// Engine and threads it through.
type Engine struct {
	Store      interfaces.Store
	Registry   interfaces.Registry
	Codec      *codec.Codec
	Logger     *common.Logger
	InlineMode bool
}

// NewEngine constructs an Engine from its four explicit dependencies.
func NewEngine(store interfaces.Store, registry interfaces.Registry, cdc *codec.Codec, logger *common.Logger) *Engine {
	return &Engine{Store: store, Registry: registry, Codec: cdc, Logger: logger}
}

// fire performs one atomic (id, state) CAS transition: validates the event
// is legal from the job's current in-memory state, then asks the store to
// apply it only if the stored state still matches. If another worker raced
// ahead, the store's CAS fails and fire returns that store error wrapped.
func (e *Engine) fire(ctx context.Context, job *models.Job, event Event, exc *models.Exception) (*models.Job, error) {
	target, err := validate(event, job.State)
	if err != nil {
		return nil, err
	}
	expect := job.State
	updated, err := e.Store.Jobs().CompareAndSwap(ctx, job.ID, expect, func(j *models.Job) {
		j.State = target
		applySideEffects(event, j, time.Now(), exc)
	})
	if err != nil {
		return nil, fmt.Errorf("rocket: fire %q on job %s: %w", event, job.ID, err)
	}
	return updated, nil
}

// casSubState atomically moves a sliced job from one sub-state to another
// without touching State, returning the store's CAS error wrapped when
// another worker already won the race.
func (e *Engine) casSubState(ctx context.Context, job *models.Job, from, to models.SubState, mutate func(*models.Job)) (*models.Job, error) {
	updated, err := e.Store.Jobs().CompareAndSwapSubState(ctx, job.ID, job.State, from, func(j *models.Job) {
		j.SubState = to
		if mutate != nil {
			mutate(j)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("rocket: subState CAS %q->%q on job %s: %w", from, to, job.ID, err)
	}
	return updated, nil
}

// Start transitions queued -> running.
func (e *Engine) Start(ctx context.Context, job *models.Job) (*models.Job, error) {
	return e.fire(ctx, job, EventStart, nil)
}

// Complete transitions running -> completed, and deletes the job (plus its
// slice collections, for sliced jobs) when DestroyOnComplete is set.
func (e *Engine) Complete(ctx context.Context, job *models.Job) (*models.Job, error) {
	updated, err := e.fire(ctx, job, EventComplete, nil)
	if err != nil {
		return nil, err
	}
	if updated.DestroyOnComplete {
		if updated.Sliced() {
			if err := e.Store.DropSlices(ctx, updated.ID); err != nil {
				e.Logger.Warn().Str("job_id", updated.ID).Err(err).Msg("failed to drop slice collections on destroy")
			}
		}
		if err := e.Store.Jobs().Delete(ctx, updated.ID); err != nil {
			e.Logger.Warn().Str("job_id", updated.ID).Err(err).Msg("failed to delete job on destroy")
		}
	}
	return updated, nil
}

// Fail transitions running -> failed, recording exc and incrementing
// FailureCount.
func (e *Engine) Fail(ctx context.Context, job *models.Job, exc models.Exception) (*models.Job, error) {
	return e.fire(ctx, job, EventFail, &exc)
}

// Retry transitions failed -> running. For sliced jobs it also requeues
// failed input slices so the next worker picks the job back up where it
// left off.
func (e *Engine) Retry(ctx context.Context, job *models.Job) (*models.Job, error) {
	updated, err := e.fire(ctx, job, EventRetry, nil)
	if err != nil {
		return nil, err
	}
	if updated.Sliced() {
		if _, err := e.Store.InputSlices(updated.ID).RequeueFailed(ctx); err != nil {
			return nil, fmt.Errorf("rocket: requeue failed slices for job %s: %w", updated.ID, err)
		}
	}
	return updated, nil
}

// RetryEligibleFailures scans failed singleton jobs and fires retry on
// every one whose RunAt backoff (set by Fail via RetryDelay) has elapsed,
// implementing the Sidekiq/delayed_job-style automatic retry cadence from
// spec §5's back-off formula. Sliced jobs are skipped: their failures are
// retried per-slice (SliceStore.RequeueFailed via an explicit Retry call),
// not on a job-level timer. Intended to be called once per supervisor
// heartbeat.
func (e *Engine) RetryEligibleFailures(ctx context.Context, now time.Time) (int, error) {
	jobs, err := e.Store.Jobs().List(ctx, 1000)
	if err != nil {
		return 0, fmt.Errorf("rocket: list jobs for retry sweep: %w", err)
	}
	retried := 0
	for _, job := range jobs {
		if job.State != models.StateFailed || job.Sliced() {
			continue
		}
		if job.RunAt == nil || job.RunAt.After(now) {
			continue
		}
		if _, err := e.Retry(ctx, job); err != nil {
			e.Logger.Warn().Str("job_id", job.ID).Err(err).Msg("automatic retry sweep failed to retry job")
			continue
		}
		retried++
	}
	return retried, nil
}

// Pause transitions running -> paused.
func (e *Engine) Pause(ctx context.Context, job *models.Job) (*models.Job, error) {
	return e.fire(ctx, job, EventPause, nil)
}

// Resume transitions paused -> running.
func (e *Engine) Resume(ctx context.Context, job *models.Job) (*models.Job, error) {
	return e.fire(ctx, job, EventResume, nil)
}

// Abort transitions queued|running -> aborted and drops the job's slice
// collections if it is sliced.
func (e *Engine) Abort(ctx context.Context, job *models.Job) (*models.Job, error) {
	updated, err := e.fire(ctx, job, EventAbort, nil)
	if err != nil {
		return nil, err
	}
	if updated.Sliced() {
		if err := e.Store.DropSlices(ctx, updated.ID); err != nil {
			return nil, fmt.Errorf("rocket: drop slices on abort for job %s: %w", updated.ID, err)
		}
	}
	return updated, nil
}

// Work dispatches to the singleton or sliced work loop by job.Kind.
// reCheckSeconds is only consulted for sliced jobs: it bounds how long the
// loop stays on this job before yielding back to the dispatcher.
func (e *Engine) Work(ctx context.Context, job *models.Job, server Server, reCheckSeconds int) error {
	if job.Sliced() {
		return e.workSliced(ctx, job, server, reCheckSeconds)
	}
	return e.workSingleton(ctx, job, server.Name())
}
