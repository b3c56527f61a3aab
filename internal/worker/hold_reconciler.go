package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/internal/metrics"
	"github.com/prohmpiriya/rail-reservation/internal/repository"
	"github.com/prohmpiriya/rail-reservation/pkg/logger"
)

// HoldReconcilerConfig contains configuration for the hold reconciler
type HoldReconcilerConfig struct {
	// Interval is the time between scans for expired holds
	Interval time.Duration
	// BatchSize is the number of holds handled per scan
	BatchSize int
}

// DefaultHoldReconcilerConfig returns default configuration
func DefaultHoldReconcilerConfig() *HoldReconcilerConfig {
	return &HoldReconcilerConfig{
		Interval:  30 * time.Second,
		BatchSize: 100,
	}
}

// HoldReconciler settles two-phase holds whose creator never confirmed or
// released them, for example after a crash between the ledger and the database.
// A hold whose PNR has a live booking is confirmed; any other hold is released.
// It also returns the seats of cancellations whose ledger release failed.
type HoldReconciler struct {
	ledger   repository.SeatLedger
	bookings repository.BookingRepository
	config   *HoldReconcilerConfig
	log      *logger.Logger
	now      func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	totalConfirmed             int64
	totalReleased              int64
	totalCancellationsReleased int64
	totalFailed                int64
	lastScanTime               time.Time
}

// ReconcileResult summarises one scan
type ReconcileResult struct {
	Scanned   int
	Confirmed int
	Released  int
	// CancellationsReleased counts cancelled bookings whose seats went back
	CancellationsReleased int
	Failed                int
}

// NewHoldReconciler creates a new hold reconciler
func NewHoldReconciler(ledger repository.SeatLedger, bookings repository.BookingRepository, config *HoldReconcilerConfig, log *logger.Logger) *HoldReconciler {
	def := DefaultHoldReconcilerConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &HoldReconciler{
		ledger:   ledger,
		bookings: bookings,
		config:   &cfg,
		log:      log,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a scan immediately and then on every interval
func (r *HoldReconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("hold reconciler already running")
	}
	r.running = true
	r.mu.Unlock()

	r.log.Info("Starting hold reconciler",
		zap.Duration("interval", r.config.Interval),
		zap.Int("batch_size", r.config.BatchSize),
	)

	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Stop stops the reconciler and waits for an in-flight scan
func (r *HoldReconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	r.log.Info("Hold reconciler stopped")
}

func (r *HoldReconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

func (r *HoldReconciler) scan(ctx context.Context) {
	result, err := r.RunOnce(ctx)
	if err != nil {
		r.log.Error("Hold reconciliation scan failed", zap.Error(err))
		return
	}
	if result.Scanned > 0 || result.CancellationsReleased > 0 || result.Failed > 0 {
		r.log.Info("Reconciled expired holds",
			zap.Int("scanned", result.Scanned),
			zap.Int("confirmed", result.Confirmed),
			zap.Int("released", result.Released),
			zap.Int("cancellations_released", result.CancellationsReleased),
			zap.Int("failed", result.Failed),
		)
	}
}

// RunOnce handles one batch of expired holds
func (r *HoldReconciler) RunOnce(ctx context.Context) (*ReconcileResult, error) {
	now := r.now()
	r.mu.Lock()
	r.lastScanTime = now
	r.mu.Unlock()

	holds, err := r.ledger.ExpiredHolds(ctx, now, r.config.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Scanned: len(holds)}
	for _, hold := range holds {
		outcome, err := r.reconcile(ctx, hold)
		if err != nil {
			result.Failed++
			r.log.Error("Failed to reconcile hold",
				zap.String("hold_id", hold.ID),
				zap.String("bucket", hold.Key.String()),
				zap.Error(err),
			)
			continue
		}
		metrics.RecordHoldReconciled(ctx, outcome)
		switch outcome {
		case outcomeConfirmed:
			result.Confirmed++
		case outcomeReleased:
			result.Released++
		}
	}

	// Stranded holds are settled before pending releases
	err = r.drainPendingReleases(ctx, result)

	r.mu.Lock()
	r.totalConfirmed += int64(result.Confirmed)
	r.totalReleased += int64(result.Released)
	r.totalCancellationsReleased += int64(result.CancellationsReleased)
	r.totalFailed += int64(result.Failed)
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return result, nil
}

const (
	outcomeConfirmed            = "confirmed"
	outcomeReleased             = "released"
	outcomeCancellationReleased = "cancellation_released"
)

// drainPendingReleases returns the seats of cancelled bookings whose ledger
// release did not land at cancel time
func (r *HoldReconciler) drainPendingReleases(ctx context.Context, result *ReconcileResult) error {
	pending, err := r.bookings.ListPendingReleases(ctx, r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list pending releases: %w", err)
	}

	for _, booking := range pending {
		if err := r.releaseCancelled(ctx, booking); err != nil {
			result.Failed++
			r.log.Error("Failed to release seats of cancelled booking",
				zap.String("booking_id", booking.ID),
				zap.String("pnr", booking.PNR),
				zap.Error(err),
			)
			continue
		}
		metrics.RecordHoldReconciled(ctx, outcomeCancellationReleased)
		result.CancellationsReleased++
	}
	return nil
}

func (r *HoldReconciler) releaseCancelled(ctx context.Context, booking *domain.Booking) error {
	key := booking.BucketKey()
	rel, err := r.ledger.Release(ctx, key, booking.ID, booking.PNR, booking.SeatCount())
	if err != nil {
		return fmt.Errorf("release seats: %w", err)
	}
	if rel.Underflow {
		r.logUnderflow(ctx, key, booking.SeatCount())
	}
	r.log.Debug("Released seats of cancelled booking",
		zap.String("booking_id", booking.ID),
		zap.Bool("applied", rel.Applied),
	)
	return r.bookings.MarkSeatsReleased(ctx, booking.ID)
}

func (r *HoldReconciler) logUnderflow(ctx context.Context, key domain.BucketKey, seats int) {
	metrics.RecordUnderflow(ctx, key.String())
	r.log.Error("Inventory bucket underflow clamped at zero",
		zap.String("bucket", key.String()),
		zap.Int("delta", -seats),
	)
}

func (r *HoldReconciler) reconcile(ctx context.Context, hold repository.Hold) (string, error) {
	booking, err := r.bookings.GetByPNR(ctx, hold.ID)
	switch {
	case err == nil && !booking.IsCancelled():
		if err := r.ledger.Confirm(ctx, hold.ID); err != nil {
			return "", fmt.Errorf("confirm hold for live booking %s: %w", booking.ID, err)
		}
		r.log.Debug("Confirmed stranded hold", zap.String("hold_id", hold.ID), zap.String("booking_id", booking.ID))
		return outcomeConfirmed, nil
	case err == nil, errors.Is(err, domain.ErrNotFound):
		rel, err := r.ledger.ReleaseHold(ctx, hold.ID)
		if err != nil {
			return "", fmt.Errorf("release hold: %w", err)
		}
		if rel.Underflow {
			r.logUnderflow(ctx, hold.Key, hold.Seats)
		}
		r.log.Debug("Released stranded hold", zap.String("hold_id", hold.ID), zap.Int("seats", hold.Seats))
		return outcomeReleased, nil
	default:
		return "", fmt.Errorf("look up booking: %w", err)
	}
}

// GetStats returns reconciler statistics
func (r *HoldReconciler) GetStats() *HoldReconcilerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return &HoldReconcilerStats{
		IsRunning:                  r.running,
		TotalConfirmed:             r.totalConfirmed,
		TotalReleased:              r.totalReleased,
		TotalCancellationsReleased: r.totalCancellationsReleased,
		TotalFailed:                r.totalFailed,
		LastScanTime:               r.lastScanTime,
	}
}

// HoldReconcilerStats contains reconciler statistics
type HoldReconcilerStats struct {
	IsRunning                  bool      `json:"is_running"`
	TotalConfirmed             int64     `json:"total_confirmed"`
	TotalReleased              int64     `json:"total_released"`
	TotalCancellationsReleased int64     `json:"total_cancellations_released"`
	TotalFailed                int64     `json:"total_failed"`
	LastScanTime               time.Time `json:"last_scan_time"`
}
