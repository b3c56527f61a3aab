package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

type takenPNRs map[string]bool

func (t takenPNRs) PNRExists(ctx context.Context, pnr string) (bool, error) {
	return t[pnr], nil
}

type failingChecker struct{}

func (failingChecker) PNRExists(ctx context.Context, pnr string) (bool, error) {
	return false, errors.New("connection reset")
}

// sequence returns the given suffixes in order, repeating the last one
func sequence(suffixes ...string) func(int) (string, error) {
	i := 0
	return func(int) (string, error) {
		s := suffixes[i]
		if i < len(suffixes)-1 {
			i++
		}
		return s, nil
	}
}

func TestPNRGenerator_Format(t *testing.T) {
	gen := NewPNRGenerator(takenPNRs{}, 0)
	digits := regexp.MustCompile(`^[0-9]{10}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pnr, err := gen.Generate(context.Background())
		require.NoError(t, err)
		assert.Regexp(t, digits, pnr)
		seen[pnr] = true
	}
	assert.Greater(t, len(seen), 90)
}

func TestPNRGenerator_DayPrefix(t *testing.T) {
	gen := NewPNRGenerator(takenPNRs{}, 1)
	// 2026-10-10 is day 20736 since the epoch
	gen.now = func() time.Time { return time.Date(2026, 10, 10, 3, 0, 0, 0, time.UTC) }
	gen.random = sequence("0000042")

	pnr, err := gen.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7360000042", pnr)
}

func TestPNRGenerator_RetriesOnCollision(t *testing.T) {
	gen := NewPNRGenerator(takenPNRs{"7360000001": true, "7360000002": true}, 5)
	gen.now = func() time.Time { return time.Date(2026, 10, 10, 3, 0, 0, 0, time.UTC) }
	gen.random = sequence("0000001", "0000002", "0000003")

	pnr, err := gen.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7360000003", pnr)
}

func TestPNRGenerator_Exhausted(t *testing.T) {
	gen := NewPNRGenerator(takenPNRs{"7360000001": true}, 3)
	gen.now = func() time.Time { return time.Date(2026, 10, 10, 3, 0, 0, 0, time.UTC) }
	gen.random = sequence("0000001")

	_, err := gen.Generate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestPNRGenerator_CheckerFailure(t *testing.T) {
	gen := NewPNRGenerator(failingChecker{}, 3)

	_, err := gen.Generate(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}
