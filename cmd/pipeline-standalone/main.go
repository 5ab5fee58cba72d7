package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tendant/cutimage-pipeline/internal/logging"
	"github.com/tendant/cutimage-pipeline/pkg/runner"
	"gitlab.com/tozd/go/errors"
)

// Standalone pipeline for local use: filesystem storage and an in-process
// queue. No database needed.
func main() {
	cfg, err := runner.LoadConfig()
	if err != nil {
		l := logging.New("info", "console")
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	// Standalone always runs in-process
	cfg.DBOSDatabaseURL = ""

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("service", "pipeline-standalone").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	r, err := runner.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize pipeline")
	}
	r.StartRetention(ctx)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("storage_dir", cfg.StorageDir).
			Int("concurrency", cfg.Concurrency).
			Msg("pipeline standalone ready")
		logger.Info().Msg("upload: curl -F file=@products.xlsx http://localhost" + cfg.HTTPAddr + "/v1/batches")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	// Wait for running batches to finish
	if err := r.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}
	logger.Info().Msg("server stopped")
}
