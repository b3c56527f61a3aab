package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

func TestFareCalculator_Compute(t *testing.T) {
	calc := NewFareCalculator()
	train := rajdhani()

	tests := []struct {
		name         string
		from, to     string
		class        string
		count        int
		perPassenger int64
		total        int64
	}{
		{name: "full leg", from: "NDLS", to: "JHS", class: "SL", count: 1, perPassenger: 880, total: 880},
		{name: "short leg", from: "NDLS", to: "MTJ", class: "SL", count: 3, perPassenger: 100, total: 300},
		{name: "intermediate leg", from: "MTJ", to: "JHS", class: "SL", count: 2, perPassenger: 780, total: 1560},
		// 50 * 1.255 = 62.75 rounds up per passenger
		{name: "fractional rate rounds up", from: "NDLS", to: "MTJ", class: "3A", count: 4, perPassenger: 63, total: 252},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := calc.Compute(train, tt.from, tt.to, tt.class, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.perPassenger, quote.PerPassenger)
			assert.Equal(t, tt.total, quote.Total)
			assert.Equal(t, tt.from, quote.From.Code)
			assert.Equal(t, tt.to, quote.To.Code)
		})
	}
}

func TestFareCalculator_ExactDecimal(t *testing.T) {
	train := rajdhani()
	train.Stations[1].DistanceKm = 101
	train.Classes["SL"] = domain.ClassInfo{Code: "SL", FarePerKm: "0.55", Capacity: 72}

	// 101 * 0.55 = 55.55 exactly; binary floats would risk 55.550000000000004
	quote, err := NewFareCalculator().Compute(train, "NDLS", "MTJ", "SL", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(56), quote.PerPassenger)

	train.Classes["SL"] = domain.ClassInfo{Code: "SL", FarePerKm: "0.5", Capacity: 72}
	quote, err = NewFareCalculator().Compute(train, "NDLS", "MTJ", "SL", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(51), quote.PerPassenger)
	assert.Equal(t, int64(102), quote.Total)
}

func TestFareCalculator_Errors(t *testing.T) {
	calc := NewFareCalculator()

	tests := []struct {
		name     string
		mutate   func(*domain.Train)
		from, to string
		class    string
		kind     domain.ErrorKind
	}{
		{name: "unknown from", from: "BCT", to: "JHS", class: "SL", kind: domain.KindInvalidRoute},
		{name: "unknown to", from: "NDLS", to: "BCT", class: "SL", kind: domain.KindInvalidRoute},
		{name: "reversed", from: "JHS", to: "NDLS", class: "SL", kind: domain.KindInvalidRoute},
		{name: "same station", from: "MTJ", to: "MTJ", class: "SL", kind: domain.KindInvalidRoute},
		{name: "class not offered", from: "NDLS", to: "JHS", class: "1A", kind: domain.KindClassNotOffered},
		{name: "class checked before route", from: "JHS", to: "NDLS", class: "1A", kind: domain.KindClassNotOffered},
		{name: "class checked before unknown station", from: "BCT", to: "JHS", class: "1A", kind: domain.KindClassNotOffered},
		{
			name:   "zero distance",
			mutate: func(tr *domain.Train) { tr.Stations[1].DistanceKm = 0 },
			from:   "NDLS", to: "MTJ", class: "SL",
			kind: domain.KindInvalidRoute,
		},
		{
			name:   "unusable rate",
			mutate: func(tr *domain.Train) { tr.Classes["SL"] = domain.ClassInfo{Code: "SL", FarePerKm: "abc", Capacity: 72} },
			from:   "NDLS", to: "JHS", class: "SL",
			kind: domain.KindInternal,
		},
		{
			name:   "zero rate",
			mutate: func(tr *domain.Train) { tr.Classes["SL"] = domain.ClassInfo{Code: "SL", FarePerKm: "0", Capacity: 72} },
			from:   "NDLS", to: "JHS", class: "SL",
			kind: domain.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			train := rajdhani()
			if tt.mutate != nil {
				tt.mutate(train)
			}
			quote, err := calc.Compute(train, tt.from, tt.to, tt.class, 1)
			require.Error(t, err)
			assert.Nil(t, quote)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestFareCalculator_Deterministic(t *testing.T) {
	calc := NewFareCalculator()
	train := rajdhani()

	first, err := calc.Compute(train, "NDLS", "JHS", "3A", 5)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := calc.Compute(train, "NDLS", "JHS", "3A", 5)
		require.NoError(t, err)
		assert.Equal(t, first.Total, again.Total)
	}
}
