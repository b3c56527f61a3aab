package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

var (
	// Booking counters
	BookingsCreated   *telemetry.Counter
	BookingsFailed    *telemetry.Counter
	BookingsCancelled *telemetry.Counter
	BookingsCompleted *telemetry.Counter

	// Reservation loop
	ContentionRetries *telemetry.Counter
	LedgerUnderflows  *telemetry.Counter
	HoldsReconciled   *telemetry.Counter

	ReservationDuration *telemetry.Histogram

	// SeatsCommitted tracks seats currently held by live bookings
	SeatsCommitted *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all booking metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	counters := []struct {
		target **telemetry.Counter
		opts   telemetry.MetricOpts
	}{
		{&BookingsCreated, telemetry.MetricOpts{Name: "rail_bookings_created_total", Description: "Bookings created", Unit: "1"}},
		{&BookingsFailed, telemetry.MetricOpts{Name: "rail_bookings_failed_total", Description: "Booking requests rejected, by error kind", Unit: "1"}},
		{&BookingsCancelled, telemetry.MetricOpts{Name: "rail_bookings_cancelled_total", Description: "Bookings cancelled", Unit: "1"}},
		{&BookingsCompleted, telemetry.MetricOpts{Name: "rail_bookings_completed_total", Description: "Bookings completed after travel", Unit: "1"}},
		{&ContentionRetries, telemetry.MetricOpts{Name: "rail_inventory_cas_retries_total", Description: "Compare-and-swap retries on inventory buckets", Unit: "1"}},
		{&LedgerUnderflows, telemetry.MetricOpts{Name: "rail_inventory_underflow_total", Description: "Releases clamped at zero", Unit: "1"}},
		{&HoldsReconciled, telemetry.MetricOpts{Name: "rail_holds_reconciled_total", Description: "Expired two-phase holds settled by the reconciler", Unit: "1"}},
	}
	for _, c := range counters {
		*c.target, err = telemetry.NewCounter(c.opts)
		if err != nil {
			return err
		}
	}

	ReservationDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "rail_reservation_duration_seconds",
		Description: "Time to reserve seats and persist a booking",
		Unit:        "s",
	}, []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}) // 1ms to 2.5s
	if err != nil {
		return err
	}

	SeatsCommitted, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "rail_seats_committed",
		Description: "Seats committed to live bookings",
		Unit:        "1",
	})
	return err
}

// RecordBookingCreated records a successful booking
func RecordBookingCreated(ctx context.Context, trainID, classCode string, seats int, durationSeconds float64) {
	attrs := []attribute.KeyValue{
		attribute.String("train_id", trainID),
		attribute.String("class", classCode),
	}
	if BookingsCreated != nil {
		BookingsCreated.Inc(ctx, attrs...)
	}
	if ReservationDuration != nil {
		ReservationDuration.Record(ctx, durationSeconds, attrs...)
	}
	if SeatsCommitted != nil {
		SeatsCommitted.Add(ctx, int64(seats), attrs...)
	}
}

// RecordBookingFailed records a rejected booking request
func RecordBookingFailed(ctx context.Context, trainID, kind string) {
	if BookingsFailed != nil {
		BookingsFailed.Inc(ctx,
			attribute.String("train_id", trainID),
			attribute.String("kind", kind),
		)
	}
}

// RecordCancellation records a cancellation and the seats it returned
func RecordCancellation(ctx context.Context, trainID, classCode string, seats int) {
	attrs := []attribute.KeyValue{
		attribute.String("train_id", trainID),
		attribute.String("class", classCode),
	}
	if BookingsCancelled != nil {
		BookingsCancelled.Inc(ctx, attrs...)
	}
	if SeatsCommitted != nil {
		SeatsCommitted.Add(ctx, -int64(seats), attrs...)
	}
}

// RecordCompletion records a booking marked as travelled
func RecordCompletion(ctx context.Context, trainID string) {
	if BookingsCompleted != nil {
		BookingsCompleted.Inc(ctx, attribute.String("train_id", trainID))
	}
}

// RecordContentionRetry records one lost compare-and-swap
func RecordContentionRetry(ctx context.Context, bucket string) {
	if ContentionRetries != nil {
		ContentionRetries.Inc(ctx, attribute.String("bucket", bucket))
	}
}

// RecordUnderflow records a release that would have taken a bucket below zero
func RecordUnderflow(ctx context.Context, bucket string) {
	if LedgerUnderflows != nil {
		LedgerUnderflows.Inc(ctx, attribute.String("bucket", bucket))
	}
}

// RecordHoldReconciled records work done by the reconciler. outcome is
// confirmed, released or cancellation_released.
func RecordHoldReconciled(ctx context.Context, outcome string) {
	if HoldsReconciled != nil {
		HoldsReconciled.Inc(ctx, attribute.String("outcome", outcome))
	}
}
