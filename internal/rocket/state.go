package rocket

import (
	"fmt"
	"time"

	"github.com/bobmcallan/rocketd/internal/models"
)

// Event names a job-level transition. Each event is an atomic
// compare-and-set on (id, state), carried out by the store, followed by
// writing the new state plus any timestamps.
type Event string

const (
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
	EventRetry    Event = "retry"
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventAbort    Event = "abort"
)

type rule struct {
	from []models.State
	to   models.State
}

// transitions is the table-driven replacement for the source's mixed-in
// state-machine library: one legal adjacency per event, enforced before
// any store write is attempted.
var transitions = map[Event]rule{
	EventStart:    {from: []models.State{models.StateQueued}, to: models.StateRunning},
	EventComplete: {from: []models.State{models.StateRunning}, to: models.StateCompleted},
	EventFail:     {from: []models.State{models.StateRunning}, to: models.StateFailed},
	EventRetry:    {from: []models.State{models.StateFailed}, to: models.StateRunning},
	EventPause:    {from: []models.State{models.StateRunning}, to: models.StatePaused},
	// Resume transitions paused -> running. The source's resume event
	// appears to target "paused" a second time, which looks like a typo;
	// this table implements the only adjacency that makes sense.
	EventResume: {from: []models.State{models.StatePaused}, to: models.StateRunning},
	EventAbort:  {from: []models.State{models.StateQueued, models.StateRunning}, to: models.StateAborted},
}

// validate checks whether event may fire from the given state and returns
// the resulting state. It returns ErrValidation (not ErrNotFound) because
// an illegal adjacency is a programming error, distinct from a CAS race.
func validate(event Event, from models.State) (models.State, error) {
	r, ok := transitions[event]
	if !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrValidation, event)
	}
	for _, f := range r.from {
		if f == from {
			return r.to, nil
		}
	}
	return "", fmt.Errorf("%w: event %q not legal from state %q", ErrValidation, event, from)
}

// applySideEffects mutates job in place for the side effects named in
// spec's transition table. It does not touch job.State; the caller sets
// that from validate's return value as part of the same CAS mutate
// closure.
func applySideEffects(event Event, job *models.Job, now time.Time, exc *models.Exception) {
	switch event {
	case EventStart:
		job.StartedAt = &now
		if job.Sliced() {
			job.SubState = models.SubStateBefore
		}
	case EventComplete:
		job.CompletedAt = &now
		job.PercentComplete = 100
	case EventFail:
		job.CompletedAt = &now
		job.FailureCount++
		job.Exception = exc
		if !job.Sliced() {
			// Singleton jobs get an automatic backoff RunAt so
			// Engine.RetryEligibleFailures can pick them back up later;
			// sliced-job failures are retried per-slice instead (see
			// SliceStore.RequeueFailed), so their job-level RunAt is unused.
			runAt := now.Add(RetryDelay(job.FailureCount))
			job.RunAt = &runAt
		}
	case EventRetry:
		job.CompletedAt = nil
		// SubState is left untouched; sliced jobs resume where they left
		// off. The caller is responsible for calling SliceStore.RequeueFailed.
	case EventPause:
		job.CompletedAt = &now // repurposed as the pause timestamp, per spec
	case EventResume:
		job.CompletedAt = nil
	case EventAbort:
		job.CompletedAt = &now
	}
}
