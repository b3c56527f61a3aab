package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/internal/dto"
	"github.com/prohmpiriya/rail-reservation/internal/metrics"
	"github.com/prohmpiriya/rail-reservation/pkg/retry"
	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

// CancelBooking cancels a live booking, records the refund and returns its seats
func (s *bookingService) CancelBooking(ctx context.Context, bookingID, userID string) (*dto.CancelBookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.cancel")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("user_id", userID),
	)

	booking, err := s.loadOwned(ctx, bookingID, userID)
	if err != nil {
		return nil, s.fail(ctx, span, "cancel_booking", err)
	}
	if booking.IsCancelled() {
		return nil, s.fail(ctx, span, "cancel_booking", domain.ErrBookingCancelled)
	}
	if !booking.Status.CanTransitionTo(domain.BookingStatusCancelled) {
		return nil, s.fail(ctx, span, "cancel_booking", domain.ErrBookingTransition)
	}
	if booking.JourneyDate.Before(s.today()) {
		return nil, s.fail(ctx, span, "cancel_booking", domain.ErrJourneyElapsed)
	}

	now := s.now()
	cancelled := booking.Clone()
	cancelled.Status = domain.BookingStatusCancelled
	cancelled.UpdatedAt = now
	cancelled.Cancellation = &domain.CancellationRecord{
		CancelledAt:  now,
		RefundAmount: s.refunds.Amount(booking.TotalFare, booking.JourneyDate, now),
		RefundStatus: domain.RefundStatusPending,
	}

	if s.strategy == StrategyTwoPhase {
		err = s.cancelTwoPhase(ctx, cancelled)
	} else {
		err = s.cancelTransactional(ctx, cancelled)
	}
	if err != nil {
		return nil, s.fail(ctx, span, "cancel_booking", err)
	}

	metrics.RecordCancellation(ctx, cancelled.TrainID, cancelled.ClassCode, cancelled.SeatCount())
	s.publishAsync(ctx, domain.BookingEventCancelled, cancelled, s.publisher.PublishBookingCancelled)

	s.logger.WithContext(ctx).Info("Booking cancelled",
		zap.String("pnr", cancelled.PNR),
		zap.String("train_id", cancelled.TrainID),
		zap.Int("seats", cancelled.SeatCount()),
		zap.Int64("refund_amount", cancelled.Cancellation.RefundAmount),
	)

	span.SetAttributes(attribute.Int64("refund_amount", cancelled.Cancellation.RefundAmount))
	span.SetStatus(codes.Ok, "")
	return &dto.CancelBookingResponse{
		Booking:      dto.FromDomain(cancelled),
		RefundAmount: cancelled.Cancellation.RefundAmount,
		RefundStatus: string(cancelled.Cancellation.RefundStatus),
	}, nil
}

// cancelTransactional stores the cancellation and decrements the bucket in one transaction
func (s *bookingService) cancelTransactional(ctx context.Context, cancelled *domain.Booking) error {
	key := cancelled.BucketKey()
	seats := cancelled.SeatCount()
	cancelled.Cancellation.SeatsReleased = true

	result := s.retrier.DoWithCallback(ctx, func(ctx context.Context, attempt int) error {
		bucket, err := s.inventory.GetBucket(ctx, key)
		if err != nil {
			return err
		}

		committed := bucket.Committed - seats
		if committed < 0 {
			s.logUnderflow(ctx, key, seats)
			committed = 0
		}

		return s.bookings.CancelWithRelease(ctx, cancelled, domain.BucketUpdate{
			Key:             key,
			ExpectedVersion: bucket.Version,
			Committed:       committed,
		})
	}, func(attempt int, err error, next time.Duration) {
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.RecordContentionRetry(ctx, key.String())
		}
	})

	return reservationError(result)
}

// cancelTwoPhase persists the cancellation first so a crash can never return
// seats for a booking that still looks live. The cancellation stays flagged
// until the ledger release lands; the hold reconciler retries flagged ones.
func (s *bookingService) cancelTwoPhase(ctx context.Context, cancelled *domain.Booking) error {
	if err := s.bookings.MarkCancelled(ctx, cancelled); err != nil {
		return err
	}

	err := s.releaseCancelledSeats(context.WithoutCancel(ctx), cancelled)
	if err != nil {
		s.logger.WithContext(ctx).Warn("Seat release deferred to reconciler",
			zap.String("pnr", cancelled.PNR),
			zap.String("bucket", cancelled.BucketKey().String()),
			zap.Int("seats", cancelled.SeatCount()),
			zap.Error(err),
		)
		return nil
	}
	cancelled.Cancellation.SeatsReleased = true
	return nil
}

// releaseCancelledSeats returns a cancelled booking's seats to the ledger and
// clears its pending flag. Safe to repeat: the ledger applies one release per booking.
func (s *bookingService) releaseCancelledSeats(ctx context.Context, cancelled *domain.Booking) error {
	key := cancelled.BucketKey()
	seats := cancelled.SeatCount()

	result := retry.Do(ctx, &retry.Config{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Multiplier:      2,
	}, func(ctx context.Context, attempt int) error {
		rel, err := s.ledger.Release(ctx, key, cancelled.ID, cancelled.PNR, seats)
		if err != nil {
			return err
		}
		s.checkUnderflow(ctx, key, seats, rel)
		return nil
	})
	if result.Err != nil {
		return result.LastError
	}
	return s.bookings.MarkSeatsReleased(ctx, cancelled.ID)
}

// logUnderflow reports a release that would have taken a bucket below zero
func (s *bookingService) logUnderflow(ctx context.Context, key domain.BucketKey, seats int) {
	metrics.RecordUnderflow(ctx, key.String())
	s.logger.WithContext(ctx).Error("Inventory bucket underflow clamped at zero",
		zap.String("bucket", key.String()),
		zap.Int("delta", -seats),
	)
}
