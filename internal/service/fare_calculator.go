package service

import (
	"fmt"
	"math/big"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

// Quote is a computed fare for one journey leg
type Quote struct {
	From       domain.RouteStation
	To         domain.RouteStation
	Class      domain.ClassInfo
	DistanceKm int
	// PerPassenger is ceil(DistanceKm * FarePerKm)
	PerPassenger int64
	Total        int64
}

// FareCalculator prices journeys from catalog data. It holds no state.
type FareCalculator struct{}

// NewFareCalculator creates a new FareCalculator
func NewFareCalculator() *FareCalculator {
	return &FareCalculator{}
}

// Compute returns ceil(legDistance * farePerKm) * count in whole currency units.
// The rate is kept as an exact decimal so identical inputs always give identical fares.
func (c *FareCalculator) Compute(train *domain.Train, fromCode, toCode, classCode string, count int) (*Quote, error) {
	class, ok := train.Class(classCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrClassNotOffered, classCode)
	}
	class.Code = classCode

	fromIdx, ok := train.StationIndex(fromCode)
	if !ok {
		return nil, fmt.Errorf("%w: station %s is not on train %s", domain.ErrInvalidRoute, fromCode, train.Number)
	}
	toIdx, ok := train.StationIndex(toCode)
	if !ok {
		return nil, fmt.Errorf("%w: station %s is not on train %s", domain.ErrInvalidRoute, toCode, train.Number)
	}
	if fromIdx >= toIdx {
		return nil, fmt.Errorf("%w: %s does not precede %s", domain.ErrInvalidRoute, fromCode, toCode)
	}

	from, to := train.Stations[fromIdx], train.Stations[toIdx]
	distance := to.DistanceKm - from.DistanceKm
	if distance <= 0 {
		return nil, fmt.Errorf("%w: distance between %s and %s is %d km", domain.ErrInvalidRoute, fromCode, toCode, distance)
	}

	rate, ok := new(big.Rat).SetString(class.FarePerKm)
	if !ok || rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: class %s has unusable fare rate %q", domain.ErrInternal, classCode, class.FarePerKm)
	}

	perPassenger := ceilRat(new(big.Rat).Mul(rate, new(big.Rat).SetInt64(int64(distance))))
	if !perPassenger.IsInt64() {
		return nil, fmt.Errorf("%w: fare overflows", domain.ErrInternal)
	}

	unit := perPassenger.Int64()
	return &Quote{
		From:         from,
		To:           to,
		Class:        class,
		DistanceKm:   distance,
		PerPassenger: unit,
		Total:        unit * int64(count),
	}, nil
}

// ceilRat rounds a non-negative rational up to the next integer
func ceilRat(r *big.Rat) *big.Int {
	q, m := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
