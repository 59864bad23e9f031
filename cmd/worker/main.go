package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/consult-api/internal/config"
	"github.com/jwalitptl/consult-api/internal/email"
	"github.com/jwalitptl/consult-api/internal/repository/postgres"
	"github.com/jwalitptl/consult-api/internal/service/notification"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/messaging/redis"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

func setupHealthCheck(addr string, registry *prometheus.Registry, ready func(ctx context.Context) error, logger *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/health/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ZL.Error().Err(err).Msg("Health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	lg := logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	}).With("notification-worker")
	log.Logger = lg.ZL

	if cfg.Redis.URL == "" {
		lg.ZL.Fatal().Msg("redis.url is required: the worker consumes notifications from Redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database; the worker only reads the users directory.
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		lg.ZL.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis broker
	client, err := redis.NewClient(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	if err != nil {
		lg.ZL.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	broker := redis.NewRedisBroker(client, lg.ZL)
	defer broker.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(cfg.Server.MetricsPrefix+"_worker", registry)

	sender := email.NewLogSender(lg.ZL)
	if cfg.SMTP.Enabled() {
		sender = email.NewSMTPSender(cfg.SMTP)
	} else {
		lg.ZL.Warn().Msg("smtp.host not set, notifications will only be logged")
	}

	dispatcher := notification.NewDispatcher(postgres.NewUserRepository(db), sender, m, lg.ZL)
	consumer := notification.NewConsumer(broker, cfg.Redis.Channel, dispatcher, lg.ZL)

	// Setup health check endpoints
	health := setupHealthCheck(":8081", registry, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		return client.Ping(ctx).Err()
	}, lg)

	if err := consumer.Run(ctx); err != nil {
		lg.ZL.Error().Err(err).Msg("Notification consumer stopped")
	}

	lg.ZL.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)
}
