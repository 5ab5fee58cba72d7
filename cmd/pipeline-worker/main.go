package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/logging"
	"github.com/tendant/cutimage-pipeline/pkg/runner"
	"gitlab.com/tozd/go/errors"
)

// Durable pipeline worker: runs go through the DBOS queue and survive restarts
func main() {
	cfg, err := runner.LoadConfig()
	if err != nil {
		l := logging.New("info", "console")
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("service", "pipeline-worker").Logger()

	// DBOS is required for the worker
	if !cfg.Durable() {
		logger.Fatal().Msg("DBOS_SYSTEM_DATABASE_URL is required")
	}

	if err := serve(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func serve(cfg *runner.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	r, err := runner.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()
	r.StartRetention(ctx)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("queue", cfg.DBOSQueueName).Msg("pipeline worker starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
