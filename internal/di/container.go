package di

import (
	"fmt"

	"github.com/prohmpiriya/rail-reservation/internal/handler"
	"github.com/prohmpiriya/rail-reservation/internal/repository"
	"github.com/prohmpiriya/rail-reservation/internal/service"
	"github.com/prohmpiriya/rail-reservation/pkg/database"
	"github.com/prohmpiriya/rail-reservation/pkg/logger"
	"github.com/prohmpiriya/rail-reservation/pkg/redis"
)

// Container holds all dependencies for the reservation API
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	CatalogRepo   repository.CatalogRepository
	UserDirectory repository.UserDirectory
	InventoryRepo repository.InventoryRepository
	BookingRepo   repository.BookingRepository
	SeatLedger    repository.SeatLedger

	// Publishers
	EventPublisher service.EventPublisher

	// Services
	BookingService service.BookingService

	// Handlers
	HealthHandler  *handler.HealthHandler
	BookingHandler *handler.BookingHandler
}

// ContainerConfig contains configuration for building the container.
// SeatLedger may be nil unless the strategy is two-phase.
type ContainerConfig struct {
	DB             *database.PostgresDB
	Redis          *redis.Client
	CatalogRepo    repository.CatalogRepository
	UserDirectory  repository.UserDirectory
	InventoryRepo  repository.InventoryRepository
	BookingRepo    repository.BookingRepository
	SeatLedger     repository.SeatLedger
	EventPublisher service.EventPublisher
	ServiceConfig  *service.BookingServiceConfig
	Logger         *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		CatalogRepo:    cfg.CatalogRepo,
		UserDirectory:  cfg.UserDirectory,
		InventoryRepo:  cfg.InventoryRepo,
		BookingRepo:    cfg.BookingRepo,
		SeatLedger:     cfg.SeatLedger,
		EventPublisher: cfg.EventPublisher,
	}

	// Initialize services
	bookingService, err := service.NewBookingService(service.BookingServiceDeps{
		Catalog:   c.CatalogRepo,
		Users:     c.UserDirectory,
		Inventory: c.InventoryRepo,
		Bookings:  c.BookingRepo,
		Ledger:    c.SeatLedger,
		Publisher: c.EventPublisher,
		Logger:    cfg.Logger,
	}, cfg.ServiceConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build booking service: %w", err)
	}
	c.BookingService = bookingService

	strategy := service.StrategyTransactional
	if cfg.ServiceConfig != nil && cfg.ServiceConfig.Strategy != "" {
		strategy = cfg.ServiceConfig.Strategy
	}

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(c.DB, c.Redis, strategy)
	c.BookingHandler = handler.NewBookingHandler(c.BookingService)

	return c, nil
}
