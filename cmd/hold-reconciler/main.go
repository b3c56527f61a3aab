package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/internal/di"
	"github.com/prohmpiriya/rail-reservation/internal/metrics"
	"github.com/prohmpiriya/rail-reservation/internal/repository"
	"github.com/prohmpiriya/rail-reservation/internal/worker"
	"github.com/prohmpiriya/rail-reservation/pkg/config"
	"github.com/prohmpiriya/rail-reservation/pkg/database"
	"github.com/prohmpiriya/rail-reservation/pkg/logger"
	pkgredis "github.com/prohmpiriya/rail-reservation/pkg/redis"
	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

const serviceName = "hold-reconciler"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Hold Reconciler...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, di.TelemetryConfig(cfg, serviceName)); err != nil {
		appLog.Warn("Telemetry initialization failed, continuing without export", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()
	if err := metrics.Init(); err != nil {
		appLog.Warn("Reconciler metrics unavailable", zap.Error(err))
	}

	// Initialize database connection
	dbCfg := di.PostgresConfig(cfg)
	dbCfg.MaxConns = 10
	dbCfg.MinConns = 2
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	// Initialize Redis connection
	redis, err := pkgredis.NewClient(ctx, di.RedisConfig(cfg))
	if err != nil {
		appLog.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	appLog.Info("Redis connected")

	// Initialize repositories
	bookingRepo := repository.NewPostgresBookingRepository(db.Pool())
	ledger := repository.NewRedisSeatLedger(redis)

	// Pre-load Lua scripts into Redis
	if err := ledger.LoadScripts(ctx); err != nil {
		appLog.Warn("Failed to pre-load Lua scripts", zap.Error(err))
	} else {
		appLog.Info("Lua scripts pre-loaded into Redis")
	}

	// Create worker
	reconciler := worker.NewHoldReconciler(ledger, bookingRepo, &worker.HoldReconcilerConfig{
		Interval:  cfg.Reconciler.Interval,
		BatchSize: cfg.Reconciler.BatchSize,
	}, appLog)

	if err := reconciler.Start(ctx); err != nil {
		appLog.Fatal("Failed to start reconciler", zap.Error(err))
	}
	appLog.Info("Hold Reconciler started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down reconciler...")
	reconciler.Stop()
	cancel()

	stats := reconciler.GetStats()
	appLog.Info("Reconciler exited gracefully",
		zap.Int64("confirmed", stats.TotalConfirmed),
		zap.Int64("released", stats.TotalReleased),
		zap.Int64("cancellations_released", stats.TotalCancellationsReleased),
		zap.Int64("failed", stats.TotalFailed),
	)
}
