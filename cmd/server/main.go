package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"trainlog/internal/app"
	"trainlog/internal/config"
	"trainlog/internal/logger"
)

func main() {
	boot := bootLogger(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	lb := logger.New()
	if cfg.LogPath != "" {
		lb = lb.FromPath(cfg.LogPath)
	}
	built, err := lb.Make()
	if err != nil {
		boot.Fatal().Err(err).Msg("failed to open log")
	}
	defer built.Close()
	log := built.Logger

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize New Relic")
		} else {
			log.Info().Str("app", cfg.NewRelic.AppName).Msg("New Relic enabled")
		}
	}

	a, err := app.New(ctx, cfg, log, nrApp, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open stores")
	}
	defer a.Close()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	// In-flight transactions must finish before the stores close.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info().Msg("server exited")
}

// bootLogger reports failures that happen before the configured logger exists.
func bootLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("component", "server").Logger()
}
