package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/quantfold/lobstream/internal/api"
	"github.com/quantfold/lobstream/internal/api/handlers"
	"github.com/quantfold/lobstream/internal/cache"
	"github.com/quantfold/lobstream/internal/config"
	"github.com/quantfold/lobstream/internal/database"
	"github.com/quantfold/lobstream/internal/logging"
	"github.com/quantfold/lobstream/internal/services"
	"github.com/quantfold/lobstream/internal/session"
	"github.com/quantfold/lobstream/internal/source"
	"github.com/quantfold/lobstream/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Setup(cfg.LogLevel, cfg.Environment)

	tracing, err := telemetry.Init(cfg.Environment != "test")
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(); err != nil {
			logrus.WithError(err).Error("Failed to shutdown telemetry")
		}
	}()

	// Database and Redis are both optional: without the database the
	// source fallback chain moves on to CSV or synthetic, and without
	// Redis the latest-snapshot cache is skipped.
	var db *database.PostgresDB
	var replayDB source.DB
	if pg, err := database.NewPostgresConnection(cfg); err != nil {
		logrus.WithError(err).Warn("Running without PostgreSQL")
	} else {
		db = pg
		replayDB = pg.Pool
		defer db.Close()
	}

	var redisClient *database.RedisClient
	snapshotCache := cache.NewSnapshotCache(nil, cfg.Replay.CacheTTL)
	if rc, err := database.NewRedisConnection(cfg); err != nil {
		logrus.WithError(err).Warn("Running without Redis")
	} else {
		redisClient = rc
		snapshotCache = cache.NewSnapshotCache(rc.Client, cfg.Replay.CacheTTL)
		defer redisClient.Close()
	}

	notifier := services.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	indicators := services.NewIndicatorService(cfg.Indicators)

	manager := session.NewManager(
		session.Deps{DB: replayDB, Cache: snapshotCache, Notifier: notifier},
		session.Options{
			BufferCapacity: cfg.Replay.BufferCapacity,
			CSVPath:        cfg.Replay.CSVPath,
			PostgresDelay:  cfg.Replay.PostgresDelay,
			CSVDelay:       cfg.Replay.CSVDelay,
			Synthetic:      cfg.Synthetic,
			Analytics:      cfg.Analytics,
		},
	)
	defer manager.Shutdown()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(telemetry.ServiceName))

	sessionHandler := handlers.NewSessionHandler(manager, snapshotCache, indicators)
	api.SetupRoutes(router, sessionHandler, db, redisClient)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"service": telemetry.ServiceName,
			"version": telemetry.ServiceVersion,
			"port":    cfg.Server.Port,
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logrus.Info("Server exited gracefully")
	return nil
}
