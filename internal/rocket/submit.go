package rocket

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/google/uuid"
)

// JobOptions configures an unsaved job under construction by Build/Later,
// covering the subset of Job's fields a client chooses at submission time.
// Unset fields fall back to Job's documented defaults.
type JobOptions struct {
	ID        string
	Priority  int
	RunAt     *time.Time
	ExpiresAt *time.Time
	Schedule  string

	CollectOutput     bool
	DestroyOnComplete bool
	Repeatable        bool
	LogLevel          string
	Group             string

	// Sliced-job fields; Kind defaults to KindSingleton when left zero.
	Kind             models.Kind
	Compress         bool
	Encrypt          bool
	SliceSize        int
	MaxActiveWorkers int
	CollectNilOutput bool
}

// Build assembles an unsaved Job for className/method with args, applying
// opts, implementing spec §4.5's `build(method, ...args){ configure job }`
// client entry point. The caller decides whether and when to persist it.
func (e *Engine) Build(className, method string, args []any, opts JobOptions) *models.Job {
	if method == "" {
		method = models.DefaultPerformMethod
	}
	priority := opts.Priority
	if priority == 0 {
		priority = models.DefaultPriority
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()[:8]
	}
	kind := opts.Kind
	if kind == "" {
		kind = models.KindSingleton
	}

	return &models.Job{
		ID:            id,
		Kind:          kind,
		ClassName:     className,
		PerformMethod: method,
		Arguments:     args,
		Priority:      priority,
		State:         models.StateQueued,
		CreatedAt:     time.Now(),

		RunAt:     opts.RunAt,
		ExpiresAt: opts.ExpiresAt,
		Schedule:  opts.Schedule,

		CollectOutput:     opts.CollectOutput,
		DestroyOnComplete: opts.DestroyOnComplete,
		Repeatable:        opts.Repeatable,
		LogLevel:          opts.LogLevel,
		Group:             opts.Group,

		Compress:         opts.Compress,
		Encrypt:          opts.Encrypt,
		SliceSize:        opts.SliceSize,
		MaxActiveWorkers: opts.MaxActiveWorkers,
		CollectNilOutput: opts.CollectNilOutput,
	}
}

// Later persists a job built from className/method/args/opts, implementing
// spec §4.5's `later(method, ...args){ configure }` client entry point. In
// InlineMode it drives the job through start, work, and completion
// synchronously in the calling goroutine instead of leaving it queued for
// a dispatcher, per spec's "in inlineMode, drives it to completion
// synchronously" note; otherwise it returns the persisted, still-queued
// job for a supervisor's workers to pick up.
func (e *Engine) Later(ctx context.Context, className, method string, args []any, opts JobOptions) (*models.Job, error) {
	job := e.Build(className, method, args, opts)
	if err := e.Store.Jobs().Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("rocket: persist job %s: %w", job.ID, err)
	}
	if !e.InlineMode {
		return job, nil
	}
	return e.runInline(ctx, job)
}

// PerformLater is Later's perform=method shorthand, implementing spec
// §4.5's `performLater(...)` entry point.
func (e *Engine) PerformLater(ctx context.Context, className string, args []any, opts JobOptions) (*models.Job, error) {
	return e.Later(ctx, className, models.DefaultPerformMethod, args, opts)
}

// PerformBuild is Build's perform=method shorthand, implementing spec
// §4.5's `performBuild(...)` entry point.
func (e *Engine) PerformBuild(className string, args []any, opts JobOptions) *models.Job {
	return e.Build(className, models.DefaultPerformMethod, args, opts)
}

// runInline drives a freshly persisted job from queued through its work
// loop to a terminal state, then reloads and returns the final document.
func (e *Engine) runInline(ctx context.Context, job *models.Job) (*models.Job, error) {
	started, err := e.Start(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("rocket: inline start job %s: %w", job.ID, err)
	}
	if err := e.Work(ctx, started, inlineServer{}, 0); err != nil {
		return nil, fmt.Errorf("rocket: inline work job %s: %w", job.ID, err)
	}
	final, err := e.Store.Jobs().Find(ctx, job.ID)
	if err != nil {
		if job.DestroyOnComplete {
			// Complete's destroy-on-complete path already deleted the
			// document; that's the expected outcome, not a failure.
			completed := *started
			completed.State = models.StateCompleted
			completed.PercentComplete = 100
			return &completed, nil
		}
		return nil, fmt.Errorf("rocket: reload inline job %s: %w", job.ID, err)
	}
	return final, nil
}

// inlineServer is the Server Later drives jobs against in InlineMode:
// always running, since there is no worker pool or supervisor to
// attribute the claim to.
type inlineServer struct{}

func (inlineServer) Running() bool { return true }
func (inlineServer) Name() string  { return "inline" }
