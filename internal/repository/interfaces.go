package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

// CatalogRepository reads route, fare and capacity data. The engine never writes it.
type CatalogRepository interface {
	// GetTrain returns domain.ErrTrainNotFound for unknown ids
	GetTrain(ctx context.Context, trainID string) (*domain.Train, error)
}

// UserDirectory answers whether an opaque user id is known
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// InventoryRepository reads bucket state for the compare-and-swap loop
type InventoryRepository interface {
	// GetBucket returns a zero bucket with Version 0 when the key was never written
	GetBucket(ctx context.Context, key domain.BucketKey) (*domain.InventoryBucket, error)
}

// BookingRepository persists bookings. Every mutation is conditional on the
// state the caller read and returns domain.ErrVersionConflict when it no longer holds.
type BookingRepository interface {
	// CreateWithReservation applies the bucket update and inserts the booking
	// in one transaction. Returns ErrVersionConflict or ErrDuplicatePNR.
	CreateWithReservation(ctx context.Context, booking *domain.Booking, update domain.BucketUpdate) error

	// CancelWithRelease stores the cancellation and applies the bucket update
	// in one transaction. Returns ErrBookingCancelled if another call won.
	CancelWithRelease(ctx context.Context, booking *domain.Booking, update domain.BucketUpdate) error

	// Create inserts a booking whose seats are held elsewhere (two-phase)
	Create(ctx context.Context, booking *domain.Booking) error

	// MarkCancelled stores the cancellation without touching inventory (two-phase)
	MarkCancelled(ctx context.Context, booking *domain.Booking) error

	// ListPendingReleases returns cancelled bookings whose seats were not yet
	// returned to the ledger, oldest cancellation first
	ListPendingReleases(ctx context.Context, limit int) ([]*domain.Booking, error)
	// MarkSeatsReleased records that a cancelled booking's seats went back
	MarkSeatsReleased(ctx context.Context, bookingID string) error

	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByPNR(ctx context.Context, pnr string) (*domain.Booking, error)
	// ListByUser returns the user's bookings newest first
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error)
	PNRExists(ctx context.Context, pnr string) (bool, error)

	UpdatePassengerStatus(ctx context.Context, bookingID string, index int, from, to domain.TicketStatus) error
	// UpdatePaymentStatus also settles a pending refund when settleRefund is set
	UpdatePaymentStatus(ctx context.Context, bookingID string, from, to domain.PaymentStatus, settleRefund bool) error
	SettleRefund(ctx context.Context, bookingID string) error
	UpdateStatus(ctx context.Context, bookingID string, from, to domain.BookingStatus) error
}

// Hold is a two-phase reservation awaiting confirmation
type Hold struct {
	ID       string
	Key      domain.BucketKey
	Seats    int
	Deadline time.Time
}

// LedgerRelease describes a release applied to a ledger bucket
type LedgerRelease struct {
	// Applied is false when the release was already done or the hold was not live
	Applied   bool
	Committed int
	// Underflow is set when the bucket would have gone negative and was clamped
	Underflow bool
}

// SeatLedger is the atomic counter used by the two-phase strategy
type SeatLedger interface {
	// Reserve holds seats under holdID if committed+seats <= capacity.
	// Repeating a live hold with the same bucket and seats is a no-op; any other
	// existing hold under holdID gives ErrHoldConflict. Returns
	// *domain.InsufficientSeatsError when the bucket is full.
	Reserve(ctx context.Context, key domain.BucketKey, holdID string, seats, capacity int, ttl time.Duration) (int, error)
	// Confirm makes a hold permanent. A hold released in the meantime is
	// re-acquired if capacity allows.
	Confirm(ctx context.Context, holdID string) error
	// ReleaseHold compensates an unconfirmed hold. Confirmed or unknown holds are left alone.
	ReleaseHold(ctx context.Context, holdID string) (*LedgerRelease, error)
	// Release returns seats of a cancelled booking, at most once per releaseID,
	// and settles the booking's hold so it is never released again
	Release(ctx context.Context, key domain.BucketKey, releaseID, holdID string, seats int) (*LedgerRelease, error)
	Committed(ctx context.Context, key domain.BucketKey) (int, error)
	// ExpiredHolds lists live holds whose deadline is at or before the given time
	ExpiredHolds(ctx context.Context, before time.Time, limit int) ([]Hold, error)
}
