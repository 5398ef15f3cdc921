package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ovillere/dinerate/internal/aggregate"
	"github.com/ovillere/dinerate/internal/cache"
	"github.com/ovillere/dinerate/internal/config"
	"github.com/ovillere/dinerate/internal/database"
	"github.com/ovillere/dinerate/internal/identity"
	"github.com/ovillere/dinerate/internal/logging"
	"github.com/ovillere/dinerate/internal/models"
	"github.com/ovillere/dinerate/internal/monitoring"
	"github.com/ovillere/dinerate/internal/offline"
	"github.com/ovillere/dinerate/internal/propagate"
	"github.com/ovillere/dinerate/internal/ratelimit"
	"github.com/ovillere/dinerate/internal/server"
	"github.com/ovillere/dinerate/internal/store"
	"github.com/ovillere/dinerate/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Msg("Starting DineRate API server")

	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	redis, err := cache.New(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer redis.Close()

	local, err := offline.OpenStore(&cfg.Offline)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open offline store")
	}
	defer local.Close()

	monitoring.Init()
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	// Rating pipeline wiring: probe -> gate -> store -> propagate ->
	// aggregate -> offline mirror.
	feed := store.NewChangeFeed()
	ratings := store.NewPostgresStore(db.Pool, feed)

	prober := identity.NewProber(local)
	limiter := ratelimit.NewRedisLimiter(redis, &cfg.RateLimit)
	gate := validation.NewGate(ratings, limiter, &cfg.Fraud)
	engine := aggregate.NewEngine(ratings, &cfg.Aggregation)

	propagator := propagate.New(engine, feed, &cfg.Propagation)
	defer propagator.Close()

	policy := offline.NewConnectivityPolicy()
	continuity := offline.NewContinuity(engine, ratings, local, policy, &cfg.Offline, &cfg.Aggregation)

	// Every freshly propagated aggregate is mirrored locally so reads
	// survive a connectivity loss.
	unsubscribe := propagator.Subscribe(uuid.Nil, func(agg models.Aggregate) {
		continuity.Mirror(agg)
	})
	defer unsubscribe()

	health := map[string]server.HealthChecker{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Health(ctx)
		},
		"redis": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redis.Health(ctx)
		},
	}

	srv := server.NewAPIServer(cfg, prober, gate, ratings, continuity, health)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().Int("port", port).Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
