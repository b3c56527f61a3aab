package service

import (
	"math"
	"time"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

// RefundTier is a refund percentage that applies from MinDays days out
type RefundTier struct {
	MinDays int
	Percent int
}

// DefaultRefundTiers are checked in order; the first tier with d >= MinDays wins.
var DefaultRefundTiers = []RefundTier{
	{MinDays: 8, Percent: 100},
	{MinDays: 3, Percent: 75},
	{MinDays: 1, Percent: 50},
}

// RefundPolicy decides how much of a fare goes back on cancellation
type RefundPolicy struct {
	tiers []RefundTier
	loc   *time.Location
}

// NewRefundPolicy creates a policy evaluated against calendar days in loc
func NewRefundPolicy(loc *time.Location, tiers []RefundTier) *RefundPolicy {
	if loc == nil {
		loc = time.UTC
	}
	if len(tiers) == 0 {
		tiers = DefaultRefundTiers
	}
	return &RefundPolicy{tiers: tiers, loc: loc}
}

// Percent returns the refund percentage for a journey on journeyDate cancelled at now
func (p *RefundPolicy) Percent(journeyDate, now time.Time) int {
	days := domain.DaysUntil(journeyDate, now, p.loc)
	for _, tier := range p.tiers {
		if days >= tier.MinDays {
			return tier.Percent
		}
	}
	return 0
}

// Amount returns round(fare * percent / 100)
func (p *RefundPolicy) Amount(fare int64, journeyDate, now time.Time) int64 {
	pct := p.Percent(journeyDate, now)
	return int64(math.Round(float64(fare) * float64(pct) / 100))
}
