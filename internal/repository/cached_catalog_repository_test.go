package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

type countingCatalog struct {
	train *domain.Train
	calls int
}

func (c *countingCatalog) GetTrain(ctx context.Context, trainID string) (*domain.Train, error) {
	c.calls++
	if c.train == nil || c.train.ID != trainID {
		return nil, domain.ErrTrainNotFound
	}
	return c.train, nil
}

func TestCachedCatalogRepository_ReadsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &countingCatalog{train: &domain.Train{
		ID:            "12951",
		Number:        "12951",
		Name:          "Rajdhani Express",
		Active:        true,
		OperatingDays: domain.EveryDay,
		Stations:      []domain.RouteStation{{Code: "NDLS", DistanceKm: 0, DayOffset: 1}, {Code: "BCT", DistanceKm: 1386, DayOffset: 2}},
		Classes:       map[string]domain.ClassInfo{"3A": {Code: "3A", FarePerKm: "1.25", Capacity: 64}},
	}}
	repo := NewCachedCatalogRepository(inner, rdb, time.Minute)
	ctx := context.Background()

	first, err := repo.GetTrain(ctx, "12951")
	require.NoError(t, err)
	second, err := repo.GetTrain(ctx, "12951")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(trainCacheKeyPrefix+"12951"))

	require.NoError(t, repo.Invalidate(ctx, "12951"))
	_, err = repo.GetTrain(ctx, "12951")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedCatalogRepository_NotFoundIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &countingCatalog{}
	repo := NewCachedCatalogRepository(inner, rdb, 0)

	_, err := repo.GetTrain(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTrainNotFound)
	assert.False(t, mr.Exists(trainCacheKeyPrefix+"missing"))
}

func TestCachedCatalogRepository_FallsThroughWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	inner := &countingCatalog{train: &domain.Train{ID: "12951"}}
	repo := NewCachedCatalogRepository(inner, rdb, time.Minute)

	train, err := repo.GetTrain(context.Background(), "12951")
	require.NoError(t, err)
	assert.Equal(t, "12951", train.ID)
}
