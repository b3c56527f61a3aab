package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// MigrationCommand is a goose command understood by Migrate
type MigrationCommand string

const (
	MigrateUp     MigrationCommand = "up"
	MigrateDown   MigrationCommand = "down"
	MigrateStatus MigrationCommand = "status"
	MigrateReset  MigrationCommand = "reset"
)

// Migrate runs goose migrations from fsys (rooted at dir) over the pool
func (db *PostgresDB) Migrate(ctx context.Context, fsys fs.FS, dir string, cmd MigrationCommand) error {
	sqlDB := stdlib.OpenDBFromPool(db.pool)
	defer sqlDB.Close()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	var err error
	switch cmd {
	case MigrateUp:
		err = goose.UpContext(ctx, sqlDB, dir)
	case MigrateDown:
		err = goose.DownContext(ctx, sqlDB, dir)
	case MigrateStatus:
		err = goose.StatusContext(ctx, sqlDB, dir)
	case MigrateReset:
		err = goose.ResetContext(ctx, sqlDB, dir)
	default:
		return fmt.Errorf("unknown migration command: %q", cmd)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", cmd, err)
	}
	return nil
}
