package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/internal/dto"
	"github.com/prohmpiriya/rail-reservation/internal/metrics"
	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

// errUnchanged signals that the requested state is already in place
var errUnchanged = errors.New("state unchanged")

// mutate re-reads the booking and applies change until the conditional write
// lands or the attempts run out. change returns errUnchanged for no-ops.
func (s *bookingService) mutate(ctx context.Context, bookingID, userID string, change func(ctx context.Context, b *domain.Booking) error) (*domain.Booking, bool, error) {
	var current *domain.Booking
	unchanged := false

	result := s.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		b, err := s.loadOwned(ctx, bookingID, userID)
		if err != nil {
			return err
		}
		current = b

		err = change(ctx, b)
		if errors.Is(err, errUnchanged) {
			unchanged = true
			return nil
		}
		return err
	})
	if err := reservationError(result); err != nil {
		return nil, false, err
	}

	if unchanged {
		return current, false, nil
	}
	updated, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, false, s.internal(err)
	}
	return updated, true, nil
}

// UpdatePassengerStatus moves a passenger among Confirmed, Waiting and RAC or
// cancels the passenger. The booking's seat count does not change.
func (s *bookingService) UpdatePassengerStatus(ctx context.Context, bookingID, userID string, index int, status string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.update_passenger_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.Int("passenger_index", index),
		attribute.String("status", status),
	)

	next := domain.TicketStatus(status)
	if !next.IsValid() {
		return nil, s.fail(ctx, span, "update_passenger_status", domain.ErrInvalidTicketStatus)
	}

	booking, changed, err := s.mutate(ctx, bookingID, userID, func(ctx context.Context, b *domain.Booking) error {
		if b.IsCancelled() {
			return domain.ErrBookingCancelled
		}
		if index < 0 || index >= len(b.Passengers) {
			return domain.ErrPassengerNotFound
		}

		current := b.Passengers[index].TicketStatus
		if current == domain.TicketStatusCancelled {
			return domain.ErrPassengerCancelled
		}
		if current == next {
			return errUnchanged
		}
		if !current.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTicketStatus, current, next)
		}
		return s.bookings.UpdatePassengerStatus(ctx, b.ID, index, current, next)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "update_passenger_status", err)
	}

	if changed {
		s.publishAsync(ctx, domain.BookingEventPassengerChanged, booking, func(ctx context.Context, b *domain.Booking) error {
			return s.publisher.PublishPassengerStatusChanged(ctx, b, index, next)
		})
		s.logger.WithContext(ctx).Info("Passenger status updated",
			zap.String("pnr", booking.PNR),
			zap.Int("passenger_index", index),
			zap.String("status", next.String()),
		)
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(booking), nil
}

// UpdatePaymentStatus applies a payment signal. Reaching Refunded also settles
// a pending refund. A cancelled booking only accepts Completed to Refunded.
func (s *bookingService) UpdatePaymentStatus(ctx context.Context, bookingID, userID, status string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.update_payment_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("status", status),
	)

	next := domain.PaymentStatus(status)
	if !next.IsValid() {
		return nil, s.fail(ctx, span, "update_payment_status", domain.ErrInvalidPaymentStatus)
	}

	settled := false
	booking, changed, err := s.mutate(ctx, bookingID, userID, func(ctx context.Context, b *domain.Booking) error {
		current := b.PaymentStatus
		if current == next {
			return errUnchanged
		}
		if b.IsCancelled() && !(current == domain.PaymentStatusCompleted && next == domain.PaymentStatusRefunded) {
			return domain.ErrBookingCancelled
		}
		if !current.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s to %s", domain.ErrPaymentTransition, current, next)
		}

		settled = next == domain.PaymentStatusRefunded &&
			b.Cancellation != nil &&
			b.Cancellation.RefundStatus == domain.RefundStatusPending
		return s.bookings.UpdatePaymentStatus(ctx, b.ID, current, next, settled)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "update_payment_status", err)
	}

	if changed {
		s.publishAsync(ctx, domain.BookingEventPaymentStatusChanged, booking, s.publisher.PublishPaymentStatusChanged)
		if settled {
			s.publishAsync(ctx, domain.BookingEventRefundSettled, booking, s.publisher.PublishRefundSettled)
		}
		s.logger.WithContext(ctx).Info("Payment status updated",
			zap.String("pnr", booking.PNR),
			zap.String("status", next.String()),
			zap.Bool("refund_settled", settled),
		)
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(booking), nil
}

// SettleRefund marks a cancelled booking's refund as paid out
func (s *bookingService) SettleRefund(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.settle_refund")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	booking, _, err := s.mutate(ctx, bookingID, userID, func(ctx context.Context, b *domain.Booking) error {
		if b.Cancellation == nil || b.Cancellation.RefundStatus != domain.RefundStatusPending {
			return domain.ErrNoPendingRefund
		}
		return s.bookings.SettleRefund(ctx, b.ID)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "settle_refund", err)
	}

	s.publishAsync(ctx, domain.BookingEventRefundSettled, booking, s.publisher.PublishRefundSettled)
	s.logger.WithContext(ctx).Info("Refund settled",
		zap.String("pnr", booking.PNR),
		zap.Int64("refund_amount", booking.Cancellation.RefundAmount),
	)

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(booking), nil
}

// CompleteBooking marks a travelled booking as Completed. Its seats stay counted.
func (s *bookingService) CompleteBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.complete")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	booking, changed, err := s.mutate(ctx, bookingID, userID, func(ctx context.Context, b *domain.Booking) error {
		if b.IsCancelled() {
			return domain.ErrBookingCancelled
		}
		if b.Status == domain.BookingStatusCompleted {
			return errUnchanged
		}
		if !b.Status.CanTransitionTo(domain.BookingStatusCompleted) {
			return fmt.Errorf("%w: %s to %s", domain.ErrBookingTransition, b.Status, domain.BookingStatusCompleted)
		}
		if !b.JourneyDate.Before(s.today()) {
			return domain.ErrJourneyNotElapsed
		}
		return s.bookings.UpdateStatus(ctx, b.ID, b.Status, domain.BookingStatusCompleted)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "complete_booking", err)
	}

	if changed {
		metrics.RecordCompletion(ctx, booking.TrainID)
		s.publishAsync(ctx, domain.BookingEventCompleted, booking, s.publisher.PublishBookingCompleted)
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(booking), nil
}
