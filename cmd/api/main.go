package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/consult-api/internal/app"
	"github.com/jwalitptl/consult-api/internal/config"
	"github.com/jwalitptl/consult-api/internal/email"
	"github.com/jwalitptl/consult-api/internal/handler/health"
	"github.com/jwalitptl/consult-api/internal/repository/memory"
	"github.com/jwalitptl/consult-api/internal/repository/postgres"
	"github.com/jwalitptl/consult-api/internal/service/notification"
	"github.com/jwalitptl/consult-api/pkg/auth"
	"github.com/jwalitptl/consult-api/pkg/cache"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/messaging/redis"
	"github.com/jwalitptl/consult-api/pkg/metrics"
	"github.com/jwalitptl/consult-api/pkg/validator"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize logger
	lg := logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	log.Logger = lg.ZL

	if err := validator.RegisterGin(); err != nil {
		lg.Fatal(err, "failed to register validators")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(cfg.Server.MetricsPrefix, registry)
	checks := map[string]health.Checker{}

	// Initialize storage
	var repos app.Repositories
	switch cfg.Database.Driver {
	case "memory":
		lg.ZL.Warn().Msg("using in-memory storage, data is lost on restart")
		repos = app.MemoryRepositories(memory.NewStore())
	default:
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			lg.Fatal(err, "failed to connect to database")
		}
		defer db.Close()

		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				lg.Fatal(err, "failed to migrate database")
			}
		}
		checks["database"] = db.PingContext
		repos = app.PostgresRepositories(db)
	}

	// Redis carries notifications to the worker and caches slot listings.
	// Without it both stay in-process.
	var (
		slotCache cache.Cache
		notifier  notification.Notifier
	)
	if cfg.Redis.URL != "" {
		client, err := redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			lg.Fatal(err, "failed to connect to Redis")
		}
		defer client.Close()

		broker := redis.NewRedisBroker(client, lg.ZL)
		redisCache := cache.NewRedis(client)
		slotCache = redisCache
		notifier = notification.NewBrokerNotifier(broker, cfg.Redis.Channel, lg.ZL)
		checks["redis"] = redisCache.Ping
	} else {
		slotCache = cache.NewLocal(cfg.Cache.SlotTTL)
		sender := email.NewLogSender(lg.ZL)
		if cfg.SMTP.Enabled() {
			sender = email.NewSMTPSender(cfg.SMTP)
		}
		dispatcher := notification.NewDispatcher(repos.Users, sender, m, lg.ZL)
		notifier = notification.NewAsync(dispatcher)
	}

	a := app.New(cfg, repos, app.Deps{
		JWT:      auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL),
		Cache:    slotCache,
		Notifier: notifier,
		Registry: registry,
		Metrics:  m,
		Checks:   checks,
		Logger:   lg.ZL,
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Router.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		lg.ZL.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.ZL.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	lg.ZL.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.ZL.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	lg.ZL.Info().Msg("server exited properly")
}
