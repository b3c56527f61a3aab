package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/internal/di"
	"github.com/prohmpiriya/rail-reservation/migrations"
	"github.com/prohmpiriya/rail-reservation/pkg/config"
	"github.com/prohmpiriya/rail-reservation/pkg/database"
	"github.com/prohmpiriya/rail-reservation/pkg/logger"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [up|down|status|reset]\n")
	}
	timeout := flag.Duration("timeout", 2*time.Minute, "overall migration timeout")
	flag.Parse()

	command := database.MigrateUp
	if flag.NArg() > 0 {
		command = database.MigrationCommand(flag.Arg(0))
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "reservation-migrate",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	appLog := logger.Get()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dbCfg := di.PostgresConfig(cfg)
	dbCfg.MaxConns = 2
	dbCfg.MinConns = 1
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()

	appLog.Info("Running migrations", zap.String("command", string(command)), zap.String("database", dbCfg.Database))
	if err := db.Migrate(ctx, migrations.FS, migrations.Dir, command); err != nil {
		appLog.Fatal("Migration failed", zap.Error(err))
	}
	appLog.Info("Migrations finished", zap.String("command", string(command)))
}
