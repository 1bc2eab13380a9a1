/**
 * @description
 * This is the main entry point for the rewards-service.
 * It initializes the configuration, database connection, event producer, batch
 * coordinator lock, metrics server, cron scheduler and the HTTP server, then waits
 * for a termination signal to shut everything down.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 * - github.com/redis/go-redis/v9: Daily batch coordinator lock.
 * - pkg/rabbitmq: Event publishing.
 * - pkg/metrics: Prometheus metrics.
 */
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/rewards-service/internal/api"
	"github.com/transfa/rewards-service/internal/app"
	"github.com/transfa/rewards-service/internal/config"
	"github.com/transfa/rewards-service/internal/logging"
	"github.com/transfa/rewards-service/internal/store"
	"github.com/transfa/rewards-service/internal/store/migrations"
	"github.com/transfa/rewards-service/pkg/metrics"
	"github.com/transfa/rewards-service/pkg/rabbitmq"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	// Load application configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		bootLogger := logging.New(os.Stdout, "info", "json")
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	sqlDB := stdlib.OpenDBFromPool(dbpool)
	if err := migrations.Apply(ctx, sqlDB); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	sqlDB.Close()
	logger.Info("database migrations applied")

	// The ledger keeps working without a broker; events are dropped with a log line.
	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		logger.Warn("rabbitmq url missing; using fallback producer")
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
	} else {
		defer producer.Close()
		publisher = producer
		logger.Info("rabbitmq producer connected")
	}

	collector := metrics.NewCollector(logger)
	metricsServer := collector.StartServer(cfg.MetricsAddr)

	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, logger, app.SettingsFromConfig(cfg), app.Options{
		Publisher: publisher,
		Exchange:  cfg.EventsExchange,
		Metrics:   collector,
	})

	var scheduler *app.Scheduler
	if cfg.SchedulerEnabled {
		var lock app.BatchLock
		if redisClient := connectRedis(cfg.RedisURL, logger); redisClient != nil {
			defer redisClient.Close()
			lock = app.NewRedisBatchLock(redisClient, cfg.BatchLockKey)
		} else {
			logger.Warn("daily batch runs without a coordinator lock; run a single replica")
		}

		jobs := app.NewJobs(service.Orchestrator, lock, 30*time.Minute, logger)
		scheduler = app.NewScheduler(jobs, logger, cfg.DailyBatchSchedule)
		if err := scheduler.Start(); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
		logger.Info("scheduler started")
	}

	handler := api.NewHandler(service, logger)
	if cfg.InternalAPIKey == "" {
		logger.Warn("internal api key missing; internal routes will reject every request", "env", "INTERNAL_API_KEY")
	}
	router := api.NewRouter(handler, api.NewJWKSCache(cfg.JWKSURL), cfg.InternalAPIKey)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("rewards-service listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	if scheduler != nil {
		stopCtx := scheduler.Stop()
		<-stopCtx.Done()
		logger.Info("scheduler stopped gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}

func connectRedis(redisURL string, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Warn("redis url missing; batch coordinator lock disabled", "env", "REDIS_URL")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; batch coordinator lock disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; batch coordinator lock disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
