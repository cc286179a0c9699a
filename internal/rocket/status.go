package rocket

import (
	"math"
	"time"

	"github.com/bobmcallan/rocketd/internal/models"
)

// Status is a read-only snapshot of a job's progress, assembled on demand
// for operator tooling; it is never itself persisted.
type Status struct {
	State           models.State
	SubState        models.SubState
	ElapsedSeconds  float64
	PercentComplete float64
	RecordCount     int
	QueuedSlices    int
	ActiveSlices    int
	FailedSlices    int
	OutputSlices    int
	RecordsPerHour  float64
	// RemainingMinutes is nil when PercentComplete is 0 or the job is not
	// running.
	RemainingMinutes *float64
}

// BuildStatus computes a Status snapshot for job given live slice counts.
// Callers obtain the slice counts from the job's SliceStore; BuildStatus
// itself does no I/O so it can be unit tested without a store.
func BuildStatus(job *models.Job, now time.Time, queued, active, failed, output int) Status {
	s := Status{
		State:           job.State,
		SubState:        job.SubState,
		RecordCount:     job.RecordCount,
		QueuedSlices:    queued,
		ActiveSlices:    active,
		FailedSlices:    failed,
		OutputSlices:    output,
		PercentComplete: job.PercentComplete,
	}

	start := job.StartedAt
	if start == nil {
		return s
	}
	end := now
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	s.ElapsedSeconds = end.Sub(*start).Seconds()

	if s.ElapsedSeconds > 0 && job.ProcessedRecords > 0 {
		s.RecordsPerHour = float64(job.ProcessedRecords) / s.ElapsedSeconds * 3600
	}

	if job.State == models.StateRunning && s.PercentComplete > 0 {
		totalSeconds := s.ElapsedSeconds / s.PercentComplete * 100
		remaining := math.Round((totalSeconds - s.ElapsedSeconds) / 60)
		s.RemainingMinutes = &remaining
	}

	return s
}

// percentComplete recomputes the job's percentComplete field from its
// ProcessedRecords/RecordCount ratio, the single definition chosen to
// resolve the two conflicting formulas named in spec's design notes.
func percentComplete(job *models.Job) float64 {
	if job.RecordCount <= 0 {
		return 0
	}
	pct := float64(job.ProcessedRecords) / float64(job.RecordCount) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
