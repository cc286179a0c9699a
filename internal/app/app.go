// Package app wires rocketd's store, codec, worker registry, dispatcher,
// supervisor, and HTTP status surface into one Runtime, generalizing the
// teacher's App (internal/app/app.go) from an investment-research service
// bundle into the batch engine's own dependency graph.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/rocketd/internal/codec"
	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/dispatcher"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/rocket"
	"github.com/bobmcallan/rocketd/internal/server"
	"github.com/bobmcallan/rocketd/internal/store/memory"
	"github.com/bobmcallan/rocketd/internal/store/surreal"
	"github.com/bobmcallan/rocketd/internal/supervisor"
	"github.com/bobmcallan/rocketd/internal/worker"
)

// App holds every initialized component a running rocketd process needs.
type App struct {
	Config     *common.Config
	Logger     *common.Logger
	Store      interfaces.Store
	Registry   *worker.Registry
	Codec      *codec.Codec
	Engine     *rocket.Engine
	Dispatcher *dispatcher.Dispatcher
	Supervisor *supervisor.Supervisor
	Hub        *server.Hub
	HTTP       *server.Server

	StartupTime time.Time

	schedulerCancel context.CancelFunc
}

// NewApp initializes all rocketd components. configPath may be empty, in
// which case ROCKETD_CONFIG and a development-relative fallback are tried.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	if configPath == "" {
		configPath = os.Getenv("ROCKETD_CONFIG")
	}
	if configPath == "" {
		configPath = "config/rocketd.toml"
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	var store interfaces.Store
	if config.Rocket.InlineMode {
		store = memory.New()
		logger.Info().Msg("inline mode: using in-process store, bypassing the dispatcher's store round-trips")
	} else {
		manager, err := surreal.NewManager(logger, config)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		store = manager
	}

	registry := worker.NewRegistry()

	cdc := &codec.Codec{
		Keys:           map[byte][]byte{byte(config.Codec.KeyVersion): []byte(config.Codec.MasterSecret)},
		CurrentVersion: byte(config.Codec.KeyVersion),
	}

	engine := rocket.NewEngine(store, registry, cdc, logger)
	engine.InlineMode = config.Rocket.InlineMode

	pollsPerSecond := float64(config.Rocket.MaxWorkerThreads) * 2
	d := dispatcher.New(store.Jobs(), logger, config.Rocket.MaxPollSeconds, pollsPerSecond)

	serverName := fmt.Sprintf("%s:%d", hostname(), os.Getpid())
	sup := supervisor.New(store, engine, d, logger, serverName, config.Rocket)

	hub := server.NewHub(logger)
	httpServer := server.New(store, logger, hub, common.GetVersion(), common.GetBuild(), common.GetGitCommit())

	a := &App{
		Config:      config,
		Logger:      logger,
		Store:       store,
		Registry:    registry,
		Codec:       cdc,
		Engine:      engine,
		Dispatcher:  d,
		Supervisor:  sup,
		Hub:         hub,
		HTTP:        httpServer,
		StartupTime: startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("app initialized")
	return a, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return h
}

// Start launches the WebSocket hub and the supervisor's heartbeat/worker
// pool. Workers in InlineMode bypass the dispatcher entirely and are
// driven synchronously by the caller, so Supervisor is not started in
// that mode.
func (a *App) Start(ctx context.Context) error {
	go a.Hub.Run()

	if a.Config.Rocket.InlineMode {
		return nil
	}

	if err := a.Supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}
	a.StartRecurringScheduler()
	return nil
}

// StartRecurringScheduler launches the background cron re-enqueue loop.
func (a *App) StartRecurringScheduler() {
	schedulerCtx, cancel := context.WithCancel(context.Background())
	a.schedulerCancel = cancel
	go startRecurringScheduler(schedulerCtx, a.Store, a.Logger, time.Minute)
}

// Close releases every resource Start acquired. Shutdown order: stop the
// supervisor (drains workers), cancel the scheduler, stop the hub, close
// the store.
func (a *App) Close() {
	if a.Supervisor != nil && !a.Config.Rocket.InlineMode {
		a.Supervisor.Stop()
	}
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
