package di

import (
	"github.com/prohmpiriya/rail-reservation/internal/service"
	"github.com/prohmpiriya/rail-reservation/pkg/config"
	"github.com/prohmpiriya/rail-reservation/pkg/database"
	"github.com/prohmpiriya/rail-reservation/pkg/redis"
	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

// PostgresConfig maps the database section onto pool settings
func PostgresConfig(cfg *config.Config) *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  database.DefaultPostgresConfig().ConnectTimeout,
		MaxRetries:      cfg.Database.MaxRetries,
		RetryInterval:   cfg.Database.RetryInterval,
		EnableTracing:   cfg.Database.Tracing,
	}
}

// RedisConfig maps the redis section onto client settings
func RedisConfig(cfg *config.Config) *redis.Config {
	return &redis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    cfg.Redis.MaxRetries,
		RetryInterval: cfg.Redis.RetryInterval,
		EnableTracing: cfg.Redis.Tracing,
	}
}

// TelemetryConfig maps the otel section, naming the process serviceName
// unless the config overrides it
func TelemetryConfig(cfg *config.Config, serviceName string) *telemetry.Config {
	name := cfg.OTel.ServiceName
	if name == "" {
		name = serviceName
	}
	return &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		MetricsEnabled: cfg.OTel.MetricsEnabled,
		ServiceName:    name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
		MetricInterval: cfg.OTel.MetricInterval,
	}
}

// BookingServiceConfig maps the reservation section onto the booking service
func BookingServiceConfig(cfg *config.Config) *service.BookingServiceConfig {
	return &service.BookingServiceConfig{
		Strategy:       cfg.Reservation.Strategy,
		MaxAttempts:    cfg.Reservation.MaxAttempts,
		BackoffInitial: cfg.Reservation.BackoffInitial,
		BackoffMax:     cfg.Reservation.BackoffMax,
		HoldTTL:        cfg.Reservation.HoldTTL,
		FareTolerance:  cfg.Reservation.FareTolerance,
		MaxPassengers:  cfg.Reservation.MaxPassengers,
		PNRAttempts:    cfg.Reservation.PNRAttempts,
		Location:       cfg.Location(),
	}
}
