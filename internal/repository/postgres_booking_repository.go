package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/pkg/database"
	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

const pnrConstraint = "bookings_pnr_key"

// PostgresBookingRepository implements BookingRepository using PostgreSQL with pgxpool
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

// CreateWithReservation writes the bucket and the booking in one transaction
func (r *PostgresBookingRepository) CreateWithReservation(ctx context.Context, booking *domain.Booking, update domain.BucketUpdate) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create_with_reservation")
	defer span.End()

	span.SetAttributes(
		attribute.String("pnr", booking.PNR),
		attribute.String("bucket", update.Key.String()),
		attribute.Int64("expected_version", update.ExpectedVersion),
		attribute.Int("committed", update.Committed),
	)

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := applyBucketUpdate(ctx, tx, update); err != nil {
			return err
		}
		return insertBooking(ctx, tx, booking)
	})
	if err != nil {
		return spanFail(span, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Create inserts a booking without touching inventory
func (r *PostgresBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create")
	defer span.End()

	span.SetAttributes(attribute.String("pnr", booking.PNR))

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertBooking(ctx, tx, booking)
	})
	if err != nil {
		return spanFail(span, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CancelWithRelease stores the cancellation and returns the seats in one transaction
func (r *PostgresBookingRepository) CancelWithRelease(ctx context.Context, booking *domain.Booking, update domain.BucketUpdate) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.cancel_with_release")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("bucket", update.Key.String()),
		attribute.Int64("expected_version", update.ExpectedVersion),
	)

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := storeCancellation(ctx, tx, booking); err != nil {
			return err
		}
		return applyBucketUpdate(ctx, tx, update)
	})
	if err != nil {
		return spanFail(span, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// MarkCancelled stores the cancellation only
func (r *PostgresBookingRepository) MarkCancelled(ctx context.Context, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.mark_cancelled")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", booking.ID))

	if err := storeCancellation(ctx, r.pool, booking); err != nil {
		return spanFail(span, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ListPendingReleases finds cancellations whose ledger release has not landed yet
func (r *PostgresBookingRepository) ListPendingReleases(ctx context.Context, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_pending_releases")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	query := selectBookingColumns + `
		WHERE b.status = $1 AND NOT b.seats_released
		ORDER BY b.cancelled_at
		LIMIT $2
	`
	bookings, err := r.list(ctx, query, domain.BookingStatusCancelled.String(), limit)
	if err != nil {
		return nil, spanFail(span, err)
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	span.SetStatus(codes.Ok, "")
	return bookings, nil
}

// MarkSeatsReleased flags a cancelled booking's seats as returned
func (r *PostgresBookingRepository) MarkSeatsReleased(ctx context.Context, bookingID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.mark_seats_released")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings SET seats_released = TRUE
		WHERE id = $1 AND status = $2
	`, bookingID, domain.BookingStatusCancelled.String())
	if err != nil {
		return spanFail(span, fmt.Errorf("failed to mark seats released: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return spanFail(span, domain.ErrVersionConflict)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves a booking by its ID
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", id))

	if _, err := uuid.Parse(id); err != nil {
		return nil, spanFail(span, domain.ErrBookingNotFound)
	}
	booking, err := r.getOne(ctx, "b.id = $1", id)
	if err != nil {
		return nil, spanFail(span, err)
	}
	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// GetByPNR retrieves a booking by its public reference
func (r *PostgresBookingRepository) GetByPNR(ctx context.Context, pnr string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_pnr")
	defer span.End()

	span.SetAttributes(attribute.String("pnr", pnr))

	booking, err := r.getOne(ctx, "b.pnr = $1", pnr)
	if err != nil {
		return nil, spanFail(span, err)
	}
	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// ListByUser retrieves bookings for a user, newest first
func (r *PostgresBookingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_user")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	query := selectBookingColumns + `
		WHERE b.user_id = $1
		ORDER BY b.created_at DESC, b.id DESC
		LIMIT $2 OFFSET $3
	`
	bookings, err := r.list(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, spanFail(span, err)
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	span.SetStatus(codes.Ok, "")
	return bookings, nil
}

// PNRExists checks whether a reference is already taken
func (r *PostgresBookingRepository) PNRExists(ctx context.Context, pnr string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE pnr = $1)`, pnr).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pnr: %w", err)
	}
	return exists, nil
}

// UpdatePassengerStatus changes one ticket while the booking is live and the
// ticket still has the expected status
func (r *PostgresBookingRepository) UpdatePassengerStatus(ctx context.Context, bookingID string, index int, from, to domain.TicketStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update_passenger_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.Int("passenger_index", index),
		attribute.String("status", to.String()),
	)

	query := `
		UPDATE booking_passengers p
		SET ticket_status = $4
		FROM bookings b
		WHERE p.booking_id = b.id
		  AND b.id = $1 AND p.idx = $2
		  AND p.ticket_status = $3
		  AND b.status <> $5
	`
	tag, err := r.pool.Exec(ctx, query, bookingID, index, from.String(), to.String(), domain.BookingStatusCancelled.String())
	if err != nil {
		return spanFail(span, fmt.Errorf("failed to update passenger status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return spanFail(span, domain.ErrVersionConflict)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// UpdatePaymentStatus moves payment status from the expected value
func (r *PostgresBookingRepository) UpdatePaymentStatus(ctx context.Context, bookingID string, from, to domain.PaymentStatus, settleRefund bool) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update_payment_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	)

	query := `
		UPDATE bookings
		SET payment_status = $3,
		    refund_status = CASE WHEN $4 AND refund_status = $5 THEN $6 ELSE refund_status END,
		    updated_at = NOW()
		WHERE id = $1 AND payment_status = $2
	`
	tag, err := r.pool.Exec(ctx, query, bookingID, from.String(), to.String(), settleRefund,
		string(domain.RefundStatusPending), string(domain.RefundStatusCompleted))
	if err != nil {
		return spanFail(span, fmt.Errorf("failed to update payment status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return spanFail(span, domain.ErrVersionConflict)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SettleRefund marks a pending refund completed
func (r *PostgresBookingRepository) SettleRefund(ctx context.Context, bookingID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.settle_refund")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings SET refund_status = $2, updated_at = NOW()
		WHERE id = $1 AND refund_status = $3
	`, bookingID, string(domain.RefundStatusCompleted), string(domain.RefundStatusPending))
	if err != nil {
		return spanFail(span, fmt.Errorf("failed to settle refund: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return spanFail(span, domain.ErrVersionConflict)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// UpdateStatus moves booking status from the expected value
func (r *PostgresBookingRepository) UpdateStatus(ctx context.Context, bookingID string, from, to domain.BookingStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("to", to.String()),
	)

	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, bookingID, from.String(), to.String())
	if err != nil {
		return spanFail(span, fmt.Errorf("failed to update booking status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return spanFail(span, domain.ErrVersionConflict)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// --- helpers ---

// pgxExecer is satisfied by both *pgxpool.Pool and pgx.Tx
type pgxExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func applyBucketUpdate(ctx context.Context, tx pgx.Tx, update domain.BucketUpdate) error {
	committed := update.Committed
	if committed < 0 {
		committed = 0
	}

	if update.ExpectedVersion == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO inventory_buckets (train_id, class_code, journey_date, committed, version)
			VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (train_id, class_code, journey_date) DO NOTHING
		`, update.Key.TrainID, update.Key.ClassCode, update.Key.JourneyDate, committed)
		if err != nil {
			return fmt.Errorf("failed to create inventory bucket: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE inventory_buckets
		SET committed = $4, version = version + 1, updated_at = NOW()
		WHERE train_id = $1 AND class_code = $2 AND journey_date = $3 AND version = $5
	`, update.Key.TrainID, update.Key.ClassCode, update.Key.JourneyDate, committed, update.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update inventory bucket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func insertBooking(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	from, err := json.Marshal(b.From)
	if err != nil {
		return fmt.Errorf("failed to encode origin snapshot: %w", err)
	}
	to, err := json.Marshal(b.To)
	if err != nil {
		return fmt.Errorf("failed to encode destination snapshot: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bookings (
			id, pnr, user_id, train_id, train_number, train_name,
			from_station, to_station, journey_date, class_code,
			total_fare, status, payment_status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)
	`,
		b.ID, b.PNR, b.UserID, b.TrainID, b.TrainNumber, b.TrainName,
		from, to, b.JourneyDate, b.ClassCode,
		b.TotalFare, b.Status.String(), b.PaymentStatus.String(), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if database.IsPgError(err, database.UniqueViolation) && database.ConstraintName(err) == pnrConstraint {
			return domain.ErrDuplicatePNR
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	batch := &pgx.Batch{}
	for i, p := range b.Passengers {
		batch.Queue(`
			INSERT INTO booking_passengers (booking_id, idx, name, age, gender, berth_preference, ticket_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, b.ID, i, p.Name, p.Age, string(p.Gender), string(p.BerthPreference), p.TicketStatus.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert passengers: %w", err)
	}
	return nil
}

// storeCancellation flips a live booking to Cancelled. A concurrent winner
// leaves zero matching rows.
func storeCancellation(ctx context.Context, q pgxExecer, b *domain.Booking) error {
	var (
		cancelledAt   *time.Time
		refund        *int64
		refundState   *string
		seatsReleased = true
	)
	if b.Cancellation != nil {
		cancelledAt = &b.Cancellation.CancelledAt
		refund = &b.Cancellation.RefundAmount
		s := string(b.Cancellation.RefundStatus)
		refundState = &s
		seatsReleased = b.Cancellation.SeatsReleased
	}

	tag, err := q.Exec(ctx, `
		UPDATE bookings
		SET status = $2, cancelled_at = $3, refund_amount = $4, refund_status = $5, updated_at = $6,
		    seats_released = $9
		WHERE id = $1 AND status IN ($7, $8)
	`, b.ID, b.Status.String(), cancelledAt, refund, refundState, b.UpdatedAt,
		domain.BookingStatusConfirmed.String(), domain.BookingStatusWaiting.String(), seatsReleased)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingCancelled
	}
	return nil
}

const selectBookingColumns = `
	SELECT
		b.id, b.pnr, b.user_id, b.train_id, b.train_number, b.train_name,
		b.from_station, b.to_station, b.journey_date, b.class_code,
		b.total_fare, b.status, b.payment_status,
		b.cancelled_at, b.refund_amount, b.refund_status, b.seats_released,
		b.created_at, b.updated_at
	FROM bookings b
`

func (r *PostgresBookingRepository) getOne(ctx context.Context, where string, arg any) (*domain.Booking, error) {
	row := r.pool.QueryRow(ctx, selectBookingColumns+" WHERE "+where, arg)
	b, err := scanBooking(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadPassengers(ctx, map[string]*domain.Booking{b.ID: b}); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *PostgresBookingRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Booking, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*domain.Booking, 0)
	index := make(map[string]*domain.Booking)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
		index[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}

	if err := r.loadPassengers(ctx, index); err != nil {
		return nil, err
	}
	return bookings, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b             domain.Booking
		from, to      []byte
		status        string
		paymentStatus string
		cancelledAt   *time.Time
		refund        *int64
		refundStatus  *string
		seatsReleased bool
	)

	err := row.Scan(
		&b.ID, &b.PNR, &b.UserID, &b.TrainID, &b.TrainNumber, &b.TrainName,
		&from, &to, &b.JourneyDate, &b.ClassCode,
		&b.TotalFare, &status, &paymentStatus,
		&cancelledAt, &refund, &refundStatus, &seatsReleased,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}

	if err := json.Unmarshal(from, &b.From); err != nil {
		return nil, fmt.Errorf("failed to decode origin snapshot: %w", err)
	}
	if err := json.Unmarshal(to, &b.To); err != nil {
		return nil, fmt.Errorf("failed to decode destination snapshot: %w", err)
	}

	b.Status = domain.BookingStatus(status)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	b.JourneyDate = domain.CivilDate(b.JourneyDate)
	if cancelledAt != nil {
		b.Cancellation = &domain.CancellationRecord{CancelledAt: *cancelledAt, SeatsReleased: seatsReleased}
		if refund != nil {
			b.Cancellation.RefundAmount = *refund
		}
		if refundStatus != nil {
			b.Cancellation.RefundStatus = domain.RefundStatus(*refundStatus)
		}
	}
	return &b, nil
}

func (r *PostgresBookingRepository) loadPassengers(ctx context.Context, bookings map[string]*domain.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	ids := make([]string, 0, len(bookings))
	for id := range bookings {
		ids = append(ids, id)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT booking_id, idx, name, age, gender, berth_preference, ticket_status
		FROM booking_passengers
		WHERE booking_id = ANY($1)
		ORDER BY booking_id, idx
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to load passengers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			bookingID string
			idx       int
			p         domain.Passenger
			gender    string
			berth     string
			status    string
		)
		if err := rows.Scan(&bookingID, &idx, &p.Name, &p.Age, &gender, &berth, &status); err != nil {
			return fmt.Errorf("failed to scan passenger: %w", err)
		}
		p.Gender = domain.Gender(gender)
		p.BerthPreference = domain.BerthPreference(berth)
		p.TicketStatus = domain.TicketStatus(status)
		if b, ok := bookings[bookingID]; ok {
			b.Passengers = append(b.Passengers, p)
		}
	}
	return rows.Err()
}

func spanFail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Ensure PostgresBookingRepository implements BookingRepository
var _ BookingRepository = (*PostgresBookingRepository)(nil)
