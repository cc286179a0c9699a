package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
)

// RecoverDeadServers implements spec §4.7's dead-server recovery: any
// Server whose heartbeat is older than 3*heartbeatSeconds is considered
// dead. For every job that server was running, sliced jobs requeue their
// running input slices (input.requeueRunning(deadName)) and singleton jobs
// are reset to queued with serverName cleared, generalizing the teacher's
// single-call JobQueueStore.ResetRunningJobs into a per-kind recovery
// step.
func RecoverDeadServers(ctx context.Context, store interfaces.Store, logger *common.Logger, heartbeatSeconds int) error {
	servers, err := store.Servers().List(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: list servers for recovery: %w", err)
	}

	now := time.Now()
	for _, server := range servers {
		if !server.Dead(now, heartbeatSeconds) {
			continue
		}
		if err := recoverServer(ctx, store, logger, server.Name); err != nil {
			logger.Warn().Str("server", server.Name).Err(err).Msg("failed to recover dead server")
			continue
		}
		if err := store.Servers().Remove(ctx, server.Name); err != nil {
			logger.Warn().Str("server", server.Name).Err(err).Msg("failed to remove dead server record")
		}
	}
	return nil
}

func recoverServer(ctx context.Context, store interfaces.Store, logger *common.Logger, deadName string) error {
	running, err := store.Jobs().ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}

	for _, job := range running {
		if job.ServerName != deadName {
			continue
		}

		if job.Sliced() {
			n, err := store.InputSlices(job.ID).RequeueRunning(ctx, deadName)
			if err != nil {
				logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to requeue running slices for dead server")
				continue
			}
			logger.Info().Str("job_id", job.ID).Str("server", deadName).Int("slices", n).Msg("requeued slices from dead server")
			continue
		}

		_, err := store.Jobs().CompareAndSwap(ctx, job.ID, models.StateRunning, func(j *models.Job) {
			j.State = models.StateQueued
			j.ServerName = ""
		})
		if err != nil {
			logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to requeue singleton job from dead server")
			continue
		}
		logger.Info().Str("job_id", job.ID).Str("server", deadName).Msg("requeued singleton job from dead server")
	}
	return nil
}
