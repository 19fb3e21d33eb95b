package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jakobkummerow/weinkeller-sub000/internal/config"
	"github.com/jakobkummerow/weinkeller-sub000/internal/localdb"
	"github.com/jakobkummerow/weinkeller-sub000/internal/observability"
	"github.com/jakobkummerow/weinkeller-sub000/internal/store"
	"github.com/jakobkummerow/weinkeller-sub000/internal/syncengine"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Str("client", cfg.ClientID).Logger()
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

	db, err := localdb.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open local database")
	}
	defer db.Close()

	snap, err := db.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load local database")
	}

	st := store.NewFromSnapshot(store.Options{
		Persister: db,
		Logger:    logger,
	}, snap)
	logger.Info().Int("bottles", st.TotalCount()).Msg("local database loaded")

	engine := syncengine.New(syncengine.Options{
		Store:     st,
		Transport: syncengine.NewHTTPTransport(cfg.ServerURL, cfg.ClientID),
		Logger:    logger,
		Confirm:   confirmOnTerminal,
	})
	st.SetKicker(engine.Kick)
	engine.Start(ctx)

	logger.Info().Str("server", cfg.ServerURL).Msg("sync engine running")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
}

// confirmOnTerminal blocks on stdin for a yes/no answer. Anything other
// than an explicit yes counts as no.
func confirmOnTerminal(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
