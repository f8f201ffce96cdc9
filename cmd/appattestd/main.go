// Command appattestd is the composition root: it loads configuration,
// constructs the store and router, and serves HTTP until signaled to
// stop. Everything it wires is a value passed down explicitly (spec §9),
// except the Prometheus collectors, which are package-level variables in
// internal/metrics that it registers here.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/appattest/server/internal/attestation"
	"github.com/appattest/server/internal/config"
	"github.com/appattest/server/internal/httpapi"
	"github.com/appattest/server/internal/logging"
	"github.com/appattest/server/internal/metrics"
	"github.com/appattest/server/internal/store/pgstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println(err.Error())
		os.Exit(1)
	}

	logger := logging.New(cfg.DevMode)
	logger.Info().Bool("dev_mode", cfg.DevMode).Str("bundle_id", cfg.BundleIdentifier).Msg("starting appattestd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connecting to database")
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, pgstore.Schema); err != nil {
		logger.Fatal().Err(err).Msg("applying schema")
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	router := httpapi.NewRouter(httpapi.Deps{
		Store: pgstore.New(pool),
		Env: attestation.Environment{
			TeamID:   cfg.AppleTeamID,
			BundleID: cfg.BundleIdentifier,
			DevMode:  cfg.DevMode,
		},
		Logger: logger,
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
