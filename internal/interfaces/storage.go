// Package interfaces defines the store contracts rocketd depends on.
// Two implementations exist: internal/store/surreal (a real document
// database) and internal/store/memory (an in-process fake used by tests
// and inline mode).
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/rocketd/internal/models"
)

// Store bundles the three persistent collections plus the single config
// document behind one handle, matching spec's "two separate connections"
// requirement: JobStore/ServerStore/ConfigStore may share a durable
// connection while SliceStore(jobID) opens against a separate,
// throughput-oriented connection.
type Store interface {
	Jobs() JobStore
	Servers() ServerStore
	Config() ConfigStore

	// InputSlices and OutputSlices open the per-job `inputs_<jobId>` /
	// `outputs_<jobId>` collections (dots aren't legal in SurrealDB table
	// names, so the spec's `inputs.<jobId>` naming is translated with an
	// underscore; see DESIGN.md).
	InputSlices(jobID string) SliceStore
	OutputSlices(jobID string) SliceStore

	// DropSlices removes both the input and output collections for a job,
	// called on destroy/abort.
	DropSlices(ctx context.Context, jobID string) error

	Close() error
}

// JobStore is the persistent jobs collection, indexed by {state, priority}.
type JobStore interface {
	Insert(ctx context.Context, job *models.Job) error
	Find(ctx context.Context, id string) (*models.Job, error)

	// NextJob atomically claims the highest-priority runnable job: query
	// state==queued OR (state==running AND subState==processing), filtered
	// by runAt<=now, sorted by priority ASC then createdAt ASC, and sets
	// serverName (and state=running if it was queued). Returns nil, nil
	// when no job is runnable.
	NextJob(ctx context.Context, serverName string, now time.Time) (*models.Job, error)

	// CompareAndSwap performs the atomic (id, state) CAS central to every
	// job transition. It only applies mutate when the stored job's State
	// still equals expectState; returns an error wrapping the store's own
	// not-found sentinel when the precondition fails so the caller can
	// reload and re-evaluate.
	CompareAndSwap(ctx context.Context, id string, expectState models.State, mutate func(*models.Job)) (*models.Job, error)

	// CompareAndSwapSubState is the sliced-job analogue of CompareAndSwap:
	// it additionally requires SubState to still equal expectSubState,
	// implementing invariant 2's atomic CAS on the (state, subState) pair
	// so at most one worker performs a given before/processing/after
	// transition.
	CompareAndSwapSubState(ctx context.Context, id string, expectState models.State, expectSubState models.SubState, mutate func(*models.Job)) (*models.Job, error)

	Update(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id string) error

	// ListRunning returns jobs with State==running, used by dead-server
	// recovery.
	ListRunning(ctx context.Context) ([]*models.Job, error)
	List(ctx context.Context, limit int) ([]*models.Job, error)
}

// SliceStore is a typed collection of slice documents scoped to one job's
// input or output table.
type SliceStore interface {
	Insert(ctx context.Context, slice *models.Slice) error

	// NextSlice atomically claims one queued slice: find-and-modify
	// matching {state=queued}, sorted by id, setting
	// {state=running, serverName, startedAt=now}. Returns nil, nil when
	// none are queued.
	NextSlice(ctx context.Context, serverName string, now time.Time) (*models.Slice, error)

	Update(ctx context.Context, slice *models.Slice) error
	Remove(ctx context.Context, id string) error
	Find(ctx context.Context, id string) (*models.Slice, error)
	First(ctx context.Context) (*models.Slice, error)
	Last(ctx context.Context) (*models.Slice, error)
	Clear(ctx context.Context) error
	Drop(ctx context.Context) error

	Count(ctx context.Context) (int, error)
	QueuedCount(ctx context.Context) (int, error)
	ActiveCount(ctx context.Context) (int, error)
	FailedCount(ctx context.Context) (int, error)

	// Each iterates every slice in ascending id order, used by the output
	// channel to reconstruct the original record order on download.
	Each(ctx context.Context, fn func(*models.Slice) error) error

	// RequeueFailed clears serverName/startedAt and sets state=queued on
	// every failed slice. Returns the count changed.
	RequeueFailed(ctx context.Context) (int, error)

	// RequeueRunning does the same for running slices owned by the given
	// (presumed dead) server.
	RequeueRunning(ctx context.Context, serverName string) (int, error)

	// EachFailedRecord iterates failed slices and invokes fn with the
	// offending record (slice.Records[exception.RecordNumber-1]) and the
	// slice itself.
	EachFailedRecord(ctx context.Context, fn func(record string, slice *models.Slice) error) error
}

// ServerStore is the persistent servers collection, unique on {name}.
type ServerStore interface {
	Upsert(ctx context.Context, server *models.Server) error
	Find(ctx context.Context, name string) (*models.Server, error)
	List(ctx context.Context) ([]*models.Server, error)
	Heartbeat(ctx context.Context, name string, now time.Time, activeThreads int) error
	Remove(ctx context.Context, name string) error
}

// ConfigStore is the single-document process-wide configuration record.
type ConfigStore interface {
	Load(ctx context.Context) (*models.Config, error)
	Save(ctx context.Context, cfg *models.Config) error
}
