package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

// PostgresCatalogRepository loads trains with their route and class tables
type PostgresCatalogRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalogRepository creates a new PostgresCatalogRepository
func NewPostgresCatalogRepository(pool *pgxpool.Pool) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{pool: pool}
}

// GetTrain loads one train. Stations come back in route order.
func (r *PostgresCatalogRepository) GetTrain(ctx context.Context, trainID string) (*domain.Train, error) {
	train := &domain.Train{Classes: make(map[string]domain.ClassInfo)}

	var days int16
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, name, active, operating_days
		FROM trains WHERE id = $1
	`, trainID).Scan(&train.ID, &train.Number, &train.Name, &train.Active, &days)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTrainNotFound
		}
		return nil, fmt.Errorf("failed to load train: %w", err)
	}
	train.OperatingDays = domain.OperatingDays(days)

	rows, err := r.pool.Query(ctx, `
		SELECT code, name, distance_km, day_offset,
		       COALESCE(arrival, ''), COALESCE(departure, ''), COALESCE(platform, '')
		FROM train_stations WHERE train_id = $1 ORDER BY seq
	`, trainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stations: %w", err)
	}
	train.Stations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RouteStation, error) {
		var s domain.RouteStation
		err := row.Scan(&s.Code, &s.Name, &s.DistanceKm, &s.DayOffset, &s.Arrival, &s.Departure, &s.Platform)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan stations: %w", err)
	}

	// fare_per_km is read as text to keep the decimal exact
	rows, err = r.pool.Query(ctx, `
		SELECT class_code, fare_per_km::text, capacity
		FROM train_classes WHERE train_id = $1
	`, trainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load classes: %w", err)
	}
	classes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ClassInfo, error) {
		var c domain.ClassInfo
		err := row.Scan(&c.Code, &c.FarePerKm, &c.Capacity)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan classes: %w", err)
	}
	for _, c := range classes {
		train.Classes[c.Code] = c
	}

	return train, nil
}

var _ CatalogRepository = (*PostgresCatalogRepository)(nil)
