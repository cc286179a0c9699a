// Package supervisor owns a bounded worker pool per spec §4.7: it emits
// heartbeats, re-reads configuration every N heartbeats, recovers slices
// from dead servers on startup, and shuts down gracefully — generalizing
// the teacher's JobManager.Start/Stop/safeGo
// (internal/services/jobmanager/manager.go) from a fixed processor pool
// into the full supervisor contract.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/dispatcher"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/bobmcallan/rocketd/internal/rocket"
)

// Supervisor runs one server process's heartbeat and worker pool against a
// shared store. Many Supervisors (one per process) may run concurrently
// against the same cluster.
type Supervisor struct {
	Store      interfaces.Store
	Engine     *rocket.Engine
	Dispatcher *dispatcher.Dispatcher
	Logger     *common.Logger

	ServerName        string
	MaxThreads        int
	HeartbeatSeconds  int
	MaxPollSeconds    int
	ReCheckSeconds    int
	ConfigReloadEvery int // reload Config every N heartbeats; 0 disables

	shutdown atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Supervisor. name conventionally identifies the process
// as "hostname:pid", matching models.Server's doc comment.
func New(store interfaces.Store, engine *rocket.Engine, d *dispatcher.Dispatcher, logger *common.Logger, name string, cfg common.RocketConfig) *Supervisor {
	reload := cfg.ConfigReloadEvery
	if reload <= 0 {
		reload = 10
	}
	return &Supervisor{
		Store:             store,
		Engine:            engine,
		Dispatcher:        d,
		Logger:            logger,
		ServerName:        name,
		MaxThreads:        cfg.MaxWorkerThreads,
		HeartbeatSeconds:  cfg.HeartbeatSeconds,
		MaxPollSeconds:    cfg.MaxPollSeconds,
		ReCheckSeconds:    cfg.ReCheckSeconds,
		ConfigReloadEvery: reload,
	}
}

// Running reports whether the supervisor has not been asked to shut down.
// Implements rocket.Server.
func (s *Supervisor) Running() bool { return !s.shutdown.Load() }

// Name implements rocket.Server.
func (s *Supervisor) Name() string { return s.ServerName }

// safeGo launches fn in a goroutine tracked by wg, recovering and logging
// any panic rather than crashing the process, matching the teacher's
// JobManager.safeGo.
func (s *Supervisor) safeGo(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.Logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in supervisor goroutine")
			}
		}()
		fn()
	}()
}

// Start recovers dead-server state, registers this server, and launches
// the heartbeat loop and worker pool. Safe to call once per Supervisor.
func (s *Supervisor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := RecoverDeadServers(runCtx, s.Store, s.Logger, s.HeartbeatSeconds); err != nil {
		s.Logger.Warn().Err(err).Msg("dead-server recovery failed")
	}

	now := time.Now()
	if err := s.Store.Servers().Upsert(runCtx, &models.Server{
		Name:           s.ServerName,
		State:          models.ServerRunning,
		MaxThreads:     s.MaxThreads,
		StartedAt:      now,
		Heartbeat:      models.Heartbeat{UpdatedAt: now},
		ReCheckSeconds: s.ReCheckSeconds,
	}); err != nil {
		return fmt.Errorf("supervisor: register server %s: %w", s.ServerName, err)
	}

	s.safeGo("heartbeat", func() { s.heartbeatLoop(runCtx) })
	s.adjustThreads(runCtx)

	s.Logger.Info().Str("server", s.ServerName).Int("max_threads", s.MaxThreads).Msg("supervisor started")
	return nil
}

// Stop sets the shutdown flag so workers exit after completing their
// current slice (no forced preemption) and blocks until every goroutine
// this Supervisor launched has returned.
func (s *Supervisor) Stop() {
	s.shutdown.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.Logger.Info().Str("server", s.ServerName).Msg("supervisor stopped")
}

// heartbeatLoop writes heartbeat.updatedAt/activeThreads every
// HeartbeatSeconds until shutdown, reloading config and passing it to
// applyConfig every ConfigReloadEvery heartbeats.
func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(s.HeartbeatSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	beats := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		beats++
		now := time.Now()
		if err := s.Store.Servers().Heartbeat(ctx, s.ServerName, now, int(s.activeWorkerCount())); err != nil {
			s.Logger.Warn().Str("server", s.ServerName).Err(err).Msg("heartbeat write failed")
		}

		if retried, err := s.Engine.RetryEligibleFailures(ctx, now); err != nil {
			s.Logger.Warn().Err(err).Msg("automatic retry sweep failed")
		} else if retried > 0 {
			s.Logger.Info().Int("retried", retried).Msg("automatic retry sweep retried backed-off failed jobs")
		}

		if s.ConfigReloadEvery > 0 && beats%s.ConfigReloadEvery == 0 {
			cfg, err := s.Store.Config().Load(ctx)
			if err != nil {
				s.Logger.Warn().Err(err).Msg("config reload failed")
				continue
			}
			s.applyConfig(cfg)
		}

		if s.shutdown.Load() {
			return
		}
	}
}

// applyConfig copies a freshly loaded Config's MaxWorkerThreads into
// MaxThreads, which the heartbeat reports as activeThreads. The running
// pool is not resized: no worker is started or stopped here, and
// adjustThreads runs only at Start.
func (s *Supervisor) applyConfig(cfg *models.Config) {
	if cfg.MaxWorkerThreads == s.MaxThreads {
		return
	}
	s.Logger.Info().Int("from", s.MaxThreads).Int("to", cfg.MaxWorkerThreads).Msg("adjusting worker pool size")
	s.MaxThreads = cfg.MaxWorkerThreads
}

// activeWorkerCount reports MaxThreads as the heartbeat record's active
// thread count; the number of live worker goroutines is not tracked.
func (s *Supervisor) activeWorkerCount() int32 {
	return int32(s.MaxThreads)
}

// adjustThreads spawns MaxThreads worker loops. Called once at Start;
// a worker loop that exits is not replaced mid-run. Worker loops exit only
// on shutdown or when the run context is cancelled, both of which end the
// supervisor's lifetime anyway; poll errors are logged and retried.
func (s *Supervisor) adjustThreads(ctx context.Context) {
	for i := 0; i < s.MaxThreads; i++ {
		name := fmt.Sprintf("worker-%d", i)
		s.safeGo(name, func() { s.workerLoop(ctx) })
	}
}

// workerLoop repeatedly polls the dispatcher for the next runnable job and
// works it, breaking on shutdown; an unexpected dispatcher or work error
// is logged fatally for that iteration but does not kill the process.
func (s *Supervisor) workerLoop(ctx context.Context) {
	for {
		if s.shutdown.Load() {
			return
		}

		job, err := s.Dispatcher.Poll(ctx, s.ServerName, s.shutdown.Load)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.Logger.Error().Err(err).Msg("dispatcher poll failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue // shutting down
		}

		// NextJob's atomic claim already fires the "start" transition's
		// side effects (started_at, and sub_state=before for sliced jobs),
		// so Work starts directly; before_<method> is run by the singleton
		// and sliced work loops themselves once they observe that sub_state.
		if err := s.Engine.Work(ctx, job, s, s.ReCheckSeconds); err != nil {
			s.Logger.Error().Str("job_id", job.ID).Err(err).Msg("job work loop exited with error")
		}
	}
}
