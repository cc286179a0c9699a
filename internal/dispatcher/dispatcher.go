// Package dispatcher implements the atomic find-and-modify dispatch loop
// (spec C8): picking the next highest-priority runnable job and backing
// off with jitter-free exponential sleeps when the queue is empty.
package dispatcher

import (
	"context"
	"time"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
	"golang.org/x/time/rate"
)

// Dispatcher wraps a JobStore's NextJob with the empty-poll backoff loop
// and a shared rate limiter, generalizing the teacher's
// JobQueueStore.Dequeue (a single select-then-claim query) into the full
// spec query plus the surrounding poll behavior described in spec.md §4.6.
type Dispatcher struct {
	Jobs   interfaces.JobStore
	Logger *common.Logger

	// MaxPollSeconds bounds the exponential back-off applied between empty
	// polls. MinPollInterval is the starting (and floor) sleep duration.
	MaxPollSeconds  int
	MinPollInterval time.Duration

	// limiter caps the aggregate rate of poll queries a server's worker
	// pool issues against the store, the same golang.org/x/time/rate
	// module the teacher uses for per-client throttling in
	// internal/clients/navexa/client.go — here protecting the shared store
	// from a thundering herd when max_worker_threads is large. This is an
	// ambient concern, not a change to dispatch semantics.
	limiter *rate.Limiter
}

// New returns a Dispatcher bound to jobs, rate-limiting poll queries to
// pollsPerSecond (burst of int(pollsPerSecond)+1). A non-positive pollsPerSecond
// disables limiting.
func New(jobs interfaces.JobStore, logger *common.Logger, maxPollSeconds int, pollsPerSecond float64) *Dispatcher {
	d := &Dispatcher{
		Jobs:            jobs,
		Logger:          logger,
		MaxPollSeconds:  maxPollSeconds,
		MinPollInterval: 250 * time.Millisecond,
	}
	if pollsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(pollsPerSecond), int(pollsPerSecond)+1)
	}
	return d
}

// NextJob runs the atomic find-and-modify query once: state==queued OR
// (state==running AND subState==processing), filtered by runAt<=now,
// sorted priority ASC then createdAt ASC. Returns nil, nil when nothing is
// runnable right now; the caller is expected to back off and retry (see
// Poll).
func (d *Dispatcher) NextJob(ctx context.Context, serverName string) (*models.Job, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return d.Jobs.NextJob(ctx, serverName, time.Now())
}

// Poll blocks until NextJob returns a job, the context is cancelled, or
// shuttingDown reports true, sleeping with exponential back-off between
// empty polls starting at MinPollInterval and capped at MaxPollSeconds.
func (d *Dispatcher) Poll(ctx context.Context, serverName string, shuttingDown func() bool) (*models.Job, error) {
	maxInterval := time.Duration(d.MaxPollSeconds) * time.Second
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}
	minInterval := d.MinPollInterval
	if minInterval <= 0 {
		minInterval = 250 * time.Millisecond
	}

	empties := 0
	for {
		if shuttingDown != nil && shuttingDown() {
			return nil, nil
		}
		job, err := d.NextJob(ctx, serverName)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollBackoff(empties, minInterval, maxInterval)):
		}
		empties++
	}
}

// pollBackoff returns the exponential back-off duration for the k-th
// consecutive empty dispatch poll: minInterval doubled k times, capped at
// maxInterval, per spec §5's "exponential back-off capped by
// maxPollSeconds".
func pollBackoff(k int, minInterval, maxInterval time.Duration) time.Duration {
	d := minInterval << uint(k)
	if d > maxInterval || d <= 0 {
		return maxInterval
	}
	return d
}
