// Command rocketd runs the batch job engine: the HTTP status surface
// (health, version, job list/detail, dashboard, websocket push), the
// server supervisor (heartbeats, worker pool, dead-server recovery), and
// the recurring-job scheduler — generalized from the teacher's
// cmd/vire-server/main.go, which wired a single MCP+REST process the same
// way.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/rocketd/internal/app"
	"github.com/bobmcallan/rocketd/internal/common"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := os.Getenv("ROCKETD_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize app: %v\n", err)
		return 1
	}

	common.PrintBanner(a.Config, a.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("failed to start app")
		return 1
	}

	host := a.Config.Server.Host
	port := a.Config.Server.Port

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      a.HTTP.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		a.Logger.Info().Int("port", port).Msg("starting HTTP server")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	a.Logger.Info().Str("url", fmt.Sprintf("http://localhost:%d", port)).Msg("rocketd ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	a.Close()
	common.PrintShutdownBanner(a.Logger)

	return 0
}
