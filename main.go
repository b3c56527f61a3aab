package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/internal/di"
	"github.com/prohmpiriya/rail-reservation/internal/metrics"
	"github.com/prohmpiriya/rail-reservation/internal/repository"
	"github.com/prohmpiriya/rail-reservation/internal/service"
	"github.com/prohmpiriya/rail-reservation/pkg/config"
	"github.com/prohmpiriya/rail-reservation/pkg/database"
	"github.com/prohmpiriya/rail-reservation/pkg/logger"
	"github.com/prohmpiriya/rail-reservation/pkg/middleware"
	pkgredis "github.com/prohmpiriya/rail-reservation/pkg/redis"
	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

const serviceName = "reservation-api"

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
	appLog.Info("Starting Reservation API...",
		zap.String("version", cfg.App.Version),
		zap.String("strategy", cfg.Reservation.Strategy),
	)

	ctx := context.Background()

	// Initialize telemetry before any instrumented client is built
	if _, err := telemetry.Init(ctx, di.TelemetryConfig(cfg, serviceName)); err != nil {
		appLog.Warn("Telemetry initialization failed, continuing without export", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			appLog.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	if err := metrics.Init(); err != nil {
		appLog.Warn("Booking metrics unavailable", zap.Error(err))
	}

	// Initialize database connection
	dbCfg := di.PostgresConfig(cfg)
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()
	appLog.Info("Database connected", zap.Int32("min_conns", dbCfg.MinConns), zap.Int32("max_conns", dbCfg.MaxConns))

	// Initialize Redis connection
	redisCfg := di.RedisConfig(cfg)
	redisClient, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()
	appLog.Info("Redis connected", zap.Int("pool_size", redisCfg.PoolSize))

	// Initialize Kafka event publisher
	var eventPublisher service.EventPublisher = service.NewNoOpEventPublisher()
	if cfg.Kafka.Enabled {
		publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			TopicPrefix: cfg.Kafka.TopicPrefix,
			ServiceName: serviceName,
			ClientID:    cfg.Kafka.ClientID,
		})
		if err != nil {
			appLog.Warn("Kafka connection failed, using no-op publisher", zap.Error(err))
		} else {
			eventPublisher = publisher
			appLog.Info("Kafka event publisher connected")
		}
	}
	defer eventPublisher.Close()

	// Initialize repositories
	var catalogRepo repository.CatalogRepository = repository.NewPostgresCatalogRepository(db.Pool())
	if cfg.Catalog.CacheEnabled {
		catalogRepo = repository.NewCachedCatalogRepository(catalogRepo, redisClient, cfg.Catalog.CacheTTL)
	}

	containerCfg := &di.ContainerConfig{
		DB:             db,
		Redis:          redisClient,
		CatalogRepo:    catalogRepo,
		UserDirectory:  repository.NewPostgresUserDirectory(db.Pool()),
		InventoryRepo:  repository.NewPostgresInventoryRepository(db.Pool()),
		BookingRepo:    repository.NewPostgresBookingRepository(db.Pool()),
		EventPublisher: eventPublisher,
		ServiceConfig:  di.BookingServiceConfig(cfg),
		Logger:         appLog,
	}

	if cfg.Reservation.Strategy == service.StrategyTwoPhase {
		ledger := repository.NewRedisSeatLedger(redisClient)
		if err := ledger.LoadScripts(ctx); err != nil {
			appLog.Warn("Failed to pre-load Lua scripts", zap.Error(err))
		} else {
			appLog.Info("Lua scripts pre-loaded into Redis")
		}
		containerCfg.SeatLedger = ledger
	}

	// Build dependency injection container
	container, err := di.NewContainer(containerCfg)
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.IdempotencyKeyHeader, middleware.RequestIDHeader, middleware.UserIDHeader},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader, telemetry.TraceIDHeader, "Retry-After"},
		MaxAge:        12 * time.Hour,
	}))
	router.Use(middleware.RequestID())
	router.Use(telemetry.TracingMiddleware(serviceName, "/health", "/ready", "/metrics")...)
	router.Use(middleware.Logger(appLog, "/health", "/ready", "/metrics"))

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)
	router.GET("/metrics", container.HealthHandler.Metrics)

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":   "ok",
				"version":  cfg.App.Version,
				"service":  serviceName,
				"strategy": cfg.Reservation.Strategy,
			})
		})

		authed := v1.Group("")
		authed.Use(middleware.Auth(middleware.AuthConfig{
			Secret:            cfg.JWT.Secret,
			Issuer:            cfg.JWT.Issuer,
			DevHeaderFallback: cfg.JWT.DevHeaderFallback && cfg.IsDevelopment(),
		}))

		// Only booking creation is replayed for a repeated idempotency key
		idempotency := middleware.Idempotency(middleware.DefaultIdempotencyConfig(redisClient.Client()))
		container.BookingHandler.RegisterRoutes(authed, idempotency)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Reservation API listening on %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}
