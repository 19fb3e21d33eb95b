package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jakobkummerow/weinkeller-sub000/internal/config"
	"github.com/jakobkummerow/weinkeller-sub000/internal/observability"
	"github.com/jakobkummerow/weinkeller-sub000/internal/presence"
	"github.com/jakobkummerow/weinkeller-sub000/internal/server"
	"github.com/jakobkummerow/weinkeller-sub000/internal/snapshot"
	"github.com/jakobkummerow/weinkeller-sub000/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	persist := storage.New(resources.Postgres)
	if err := persist.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to create schema")
	}

	archive, err := persist.LoadArchive(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load archive")
	}
	data := server.NewDataFromArchive(logger, archive)
	logger.Info().Str("uuid", data.UUID()).Int64("commit", data.Commit()).Msg("database restored")

	roster := presence.NewService(resources.Redis, logger, presence.WithTTL(cfg.PresenceTTL))

	backups := snapshot.NewWorker(data, resources.Object, cfg.ObjectBucket, logger,
		snapshot.WithInterval(cfg.BackupInterval))
	backups.Start(ctx)

	handler := server.NewHandler(data, persist, roster, backups, logger)
	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: handler.Routes()}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.HealthcheckProbe)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := resources.HealthCheck(context.Background()); err != nil {
					logger.Error().Err(err).Msg("dependency healthcheck failed")
				} else {
					logger.Debug().Msg("dependency healthcheck ok")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}

	done := make(chan struct{})
	go func() {
		resources.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}
