package app

import (
	"context"
	"time"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// startRecurringScheduler polls completed jobs carrying a cron-like
// Schedule string (spec.md §3's "schedule (optional cron-like string for
// recurring jobs)") and re-enqueues a fresh copy once the schedule's next
// fire time has passed, generalizing the teacher's fixed-interval
// startPriceScheduler from a single hardcoded refresh job into per-job
// cron expressions.
func startRecurringScheduler(ctx context.Context, store interfaces.Store, logger *common.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("recurring scheduler: stopped")
			return
		case <-ticker.C:
			reenqueueDueJobs(ctx, store, logger)
		}
	}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func reenqueueDueJobs(ctx context.Context, store interfaces.Store, logger *common.Logger) {
	jobs, err := store.Jobs().List(ctx, 0)
	if err != nil {
		logger.Warn().Err(err).Msg("recurring scheduler: list jobs failed")
		return
	}

	now := time.Now()
	for _, job := range jobs {
		if job.Schedule == "" || job.State != models.StateCompleted {
			continue
		}
		sched, err := cronParser.Parse(job.Schedule)
		if err != nil {
			logger.Warn().Str("job_id", job.ID).Str("schedule", job.Schedule).Err(err).Msg("recurring scheduler: invalid cron expression")
			continue
		}

		base := job.CreatedAt
		if job.CompletedAt != nil {
			base = *job.CompletedAt
		}
		if sched.Next(base).After(now) {
			continue // not due yet
		}

		clone := *job
		clone.ID = uuid.New().String()[:8]
		clone.State = models.StateQueued
		clone.SubState = ""
		clone.CreatedAt = now
		clone.StartedAt = nil
		clone.CompletedAt = nil
		clone.ServerName = ""
		clone.FailureCount = 0
		clone.Exception = nil
		clone.PercentComplete = 0
		clone.Output = nil

		if err := store.Jobs().Insert(ctx, &clone); err != nil {
			logger.Warn().Str("job_id", job.ID).Err(err).Msg("recurring scheduler: re-enqueue failed")
			continue
		}

		// Clear the fired instance's Schedule so it is not re-matched on the
		// next tick; the clone carries the same Schedule forward.
		if _, err := store.Jobs().CompareAndSwap(ctx, job.ID, models.StateCompleted, func(j *models.Job) {
			j.Schedule = ""
		}); err != nil {
			logger.Warn().Str("job_id", job.ID).Err(err).Msg("recurring scheduler: failed to clear fired schedule")
		}

		logger.Info().Str("source_job_id", job.ID).Str("new_job_id", clone.ID).Str("schedule", job.Schedule).Msg("re-enqueued recurring job")
	}
}
