package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Common errors
var (
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
	ErrContextCanceled   = errors.New("context canceled during retry")
)

// Config contains retry configuration
type Config struct {
	// MaxAttempts is the total number of tries including the first (default: 5)
	MaxAttempts int
	// InitialInterval is the wait before the second attempt (default: 10ms)
	InitialInterval time.Duration
	// MaxInterval caps the backoff (default: 1s)
	MaxInterval time.Duration
	// Multiplier is applied to the interval after each attempt (default: 2.0)
	Multiplier float64
	// JitterFactor adds ±factor random spread to every interval (0-1)
	JitterFactor float64
	// RetryIf reports whether err deserves another attempt. Nil retries every
	// error that is not wrapped with Permanent.
	RetryIf func(err error) bool
}

// DefaultConfig returns default retry configuration
// Exponential backoff: 10ms, 20ms, 40ms, 80ms
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.2,
	}
}

// Operation is the function to be retried. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// PermanentError wraps an error that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as permanent
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Result contains the outcome of a retried operation
type Result struct {
	// Err is nil on success, the unwrapped error for permanent or
	// non-retryable failures, and ErrAttemptsExhausted or ErrContextCanceled
	// when the loop gave up.
	Err error
	// Attempts is the number of times op ran
	Attempts int
	// TotalDuration includes backoff waits
	TotalDuration time.Duration
	// LastError is the error returned by the final attempt
	LastError error
}

// Retrier runs operations with exponential backoff
type Retrier struct {
	config *Config
}

// New creates a Retrier. Zero fields fall back to DefaultConfig values.
func New(config *Config) *Retrier {
	def := DefaultConfig()
	if config == nil {
		config = def
	}

	cfg := *config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}
	if cfg.JitterFactor > 1 {
		cfg.JitterFactor = 1
	}

	return &Retrier{config: &cfg}
}

// Callback is invoked before each backoff wait
type Callback func(attempt int, err error, nextInterval time.Duration)

// Do executes op until it succeeds, fails permanently or runs out of attempts
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	return r.DoWithCallback(ctx, op, nil)
}

// DoWithCallback is Do with a hook before every wait
func (r *Retrier) DoWithCallback(ctx context.Context, op Operation, callback Callback) *Result {
	start := time.Now()
	result := &Result{}

	finish := func(err error) *Result {
		result.Err = err
		result.TotalDuration = time.Since(start)
		return result
	}

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return finish(ErrContextCanceled)
		}

		result.Attempts = attempt
		err := op(ctx, attempt)
		if err == nil {
			result.LastError = nil
			return finish(nil)
		}
		result.LastError = err

		var permErr *PermanentError
		if errors.As(err, &permErr) {
			result.LastError = permErr.Err
			return finish(permErr.Err)
		}

		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			return finish(err)
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		interval := r.interval(attempt)
		if callback != nil {
			callback(attempt, err, interval)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(ErrContextCanceled)
		case <-timer.C:
		}
	}

	return finish(ErrAttemptsExhausted)
}

// interval returns the wait after the given (1-based) attempt
func (r *Retrier) interval(attempt int) time.Duration {
	interval := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if r.config.JitterFactor > 0 {
		jitter := interval * r.config.JitterFactor
		interval += (rand.Float64()*2 - 1) * jitter
	}

	if interval > float64(r.config.MaxInterval) {
		interval = float64(r.config.MaxInterval)
	}
	if interval <= 0 {
		interval = float64(r.config.InitialInterval)
	}

	return time.Duration(interval)
}

// Do is a convenience wrapper around New(config).Do
func Do(ctx context.Context, config *Config, op Operation) *Result {
	return New(config).Do(ctx, op)
}
