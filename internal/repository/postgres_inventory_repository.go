package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

// PostgresInventoryRepository reads inventory_buckets rows
type PostgresInventoryRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresInventoryRepository creates a new PostgresInventoryRepository
func NewPostgresInventoryRepository(pool *pgxpool.Pool) *PostgresInventoryRepository {
	return &PostgresInventoryRepository{pool: pool}
}

// GetBucket returns the committed count and version, or a zero bucket
func (r *PostgresInventoryRepository) GetBucket(ctx context.Context, key domain.BucketKey) (*domain.InventoryBucket, error) {
	bucket := &domain.InventoryBucket{Key: key}

	err := r.pool.QueryRow(ctx, `
		SELECT committed, version
		FROM inventory_buckets
		WHERE train_id = $1 AND class_code = $2 AND journey_date = $3
	`, key.TrainID, key.ClassCode, key.JourneyDate).Scan(&bucket.Committed, &bucket.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bucket, nil
		}
		return nil, fmt.Errorf("failed to read inventory bucket: %w", err)
	}
	return bucket, nil
}

var _ InventoryRepository = (*PostgresInventoryRepository)(nil)
