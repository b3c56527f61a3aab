package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

const (
	pnrLength          = 10
	pnrDayDigits       = 3
	defaultPNRAttempts = 5
)

// PNRChecker reports whether a PNR is already taken
type PNRChecker interface {
	PNRExists(ctx context.Context, pnr string) (bool, error)
}

// PNRGenerator issues 10 digit PNRs: a 3 digit day serial followed by 7 random digits
type PNRGenerator struct {
	checker  PNRChecker
	attempts int
	now      func() time.Time
	random   func(digits int) (string, error)
}

// NewPNRGenerator creates a generator that retries up to attempts times on collision
func NewPNRGenerator(checker PNRChecker, attempts int) *PNRGenerator {
	if attempts <= 0 {
		attempts = defaultPNRAttempts
	}
	return &PNRGenerator{
		checker:  checker,
		attempts: attempts,
		now:      time.Now,
		random:   randomDigits,
	}
}

// Generate returns a PNR not present in storage at the time of the check.
// The unique constraint on bookings still decides races between concurrent callers.
func (g *PNRGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= g.attempts; attempt++ {
		pnr, err := g.candidate()
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}

		exists, err := g.checker.PNRExists(ctx, pnr)
		if err != nil {
			return "", fmt.Errorf("%w: failed to check pnr: %v", domain.ErrInternal, err)
		}
		if !exists {
			return pnr, nil
		}
	}
	return "", fmt.Errorf("%w: no free pnr after %d attempts", domain.ErrInternal, g.attempts)
}

func (g *PNRGenerator) candidate() (string, error) {
	day := (g.now().UTC().Unix() / 86400) % 1000
	suffix, err := g.random(pnrLength - pnrDayDigits)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%03d%s", day, suffix), nil
}

func randomDigits(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to read random digits: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
