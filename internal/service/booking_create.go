package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/internal/dto"
	"github.com/prohmpiriya/rail-reservation/internal/metrics"
	"github.com/prohmpiriya/rail-reservation/pkg/retry"
	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

// CreateBooking runs the checks in a fixed order: request shape, user and train,
// journey date, route and class, declared fare, then the atomic reservation.
func (s *bookingService) CreateBooking(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.create")
	defer span.End()
	started := time.Now()

	booking, err := s.createBooking(ctx, span, userID, req)
	if err != nil {
		err = s.fail(ctx, span, "create_booking", err)
		trainID := ""
		if req != nil {
			trainID = req.TrainID
		}
		metrics.RecordBookingFailed(ctx, trainID, string(domain.KindOf(err)))
		return nil, err
	}

	metrics.RecordBookingCreated(ctx, booking.TrainID, booking.ClassCode, booking.SeatCount(), time.Since(started).Seconds())
	s.publishAsync(ctx, domain.BookingEventCreated, booking, s.publisher.PublishBookingCreated)

	s.logger.WithContext(ctx).Info("Booking created",
		zap.String("pnr", booking.PNR),
		zap.String("train_id", booking.TrainID),
		zap.String("class", booking.ClassCode),
		zap.String("journey_date", booking.JourneyDate.Format(domain.DateLayout)),
		zap.Int("seats", booking.SeatCount()),
		zap.Int64("total_fare", booking.TotalFare),
	)

	span.AddEvent("booking_created", trace.WithAttributes(bookingAttrs(booking)...))
	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(booking), nil
}

func (s *bookingService) createBooking(ctx context.Context, span trace.Span, userID string, req *dto.CreateBookingRequest) (*domain.Booking, error) {
	journeyDate, passengers, err := s.validateRequest(userID, req)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("train_id", req.TrainID),
		attribute.String("class", req.ClassCode),
		attribute.String("journey_date", journeyDate.Format(domain.DateLayout)),
		attribute.Int("seats", len(passengers)),
	)

	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrUserNotFound
	}

	train, err := s.catalog.GetTrain(ctx, req.TrainID)
	if err != nil {
		return nil, err
	}
	if !train.Active {
		return nil, domain.ErrTrainInactive
	}

	if journeyDate.Before(s.today()) {
		return nil, domain.ErrPastJourneyDate
	}
	if !train.RunsOn(journeyDate) {
		return nil, fmt.Errorf("%w: %s is a %s", domain.ErrNotOperatingDay, journeyDate.Format(domain.DateLayout), journeyDate.Weekday())
	}

	quote, err := s.fares.Compute(train, req.FromStationCode, req.ToStationCode, req.ClassCode, len(passengers))
	if err != nil {
		return nil, err
	}

	declared := *req.DeclaredTotalFare
	diff := declared - quote.Total
	if diff < 0 {
		diff = -diff
	}
	if diff > s.fareTolerance {
		return nil, fmt.Errorf("%w: declared %d, computed %d", domain.ErrFareMismatch, declared, quote.Total)
	}

	now := s.now()
	booking := &domain.Booking{
		ID:            uuid.New().String(),
		UserID:        userID,
		TrainID:       train.ID,
		TrainNumber:   train.Number,
		TrainName:     train.Name,
		From:          quote.From.BoardingSnapshot(),
		To:            quote.To.AlightingSnapshot(),
		JourneyDate:   journeyDate,
		ClassCode:     quote.Class.Code,
		Passengers:    passengers,
		TotalFare:     quote.Total,
		Status:        domain.BookingStatusConfirmed,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if s.strategy == StrategyTwoPhase {
		err = s.reserveTwoPhase(ctx, booking, quote.Class.Capacity)
	} else {
		err = s.reserveTransactional(ctx, booking, quote.Class.Capacity)
	}
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// validateRequest performs the structural checks that need no storage
func (s *bookingService) validateRequest(userID string, req *dto.CreateBookingRequest) (time.Time, []domain.Passenger, error) {
	if strings.TrimSpace(userID) == "" {
		return time.Time{}, nil, domain.ErrInvalidUserID
	}
	if req == nil {
		return time.Time{}, nil, fmt.Errorf("%w: request body is required", domain.ErrValidation)
	}

	n := len(req.Passengers)
	if n < 1 || n > s.maxPassengers {
		return time.Time{}, nil, fmt.Errorf("%w: got %d, allowed 1 to %d", domain.ErrPassengerCount, n, s.maxPassengers)
	}

	passengers := req.ToPassengers()
	for i := range passengers {
		passengers[i].Name = strings.TrimSpace(passengers[i].Name)
		passengers[i].TicketStatus = domain.TicketStatusConfirmed
		if err := passengers[i].Validate(req.ClassCode); err != nil {
			return time.Time{}, nil, fmt.Errorf("passenger %d: %w", i, err)
		}
	}

	if strings.TrimSpace(req.TrainID) == "" {
		return time.Time{}, nil, domain.ErrInvalidTrainID
	}
	if req.FromStationCode == "" || req.ToStationCode == "" {
		return time.Time{}, nil, domain.ErrInvalidStation
	}
	if req.ClassCode == "" {
		return time.Time{}, nil, domain.ErrInvalidClass
	}
	if req.DeclaredTotalFare == nil {
		return time.Time{}, nil, domain.ErrMissingDeclaredFare
	}
	if *req.DeclaredTotalFare < 0 {
		return time.Time{}, nil, domain.ErrInvalidDeclaredFare
	}

	journeyDate, err := domain.ParseDate(req.JourneyDate)
	if err != nil {
		return time.Time{}, nil, err
	}
	return journeyDate, passengers, nil
}

// reserveTransactional runs the compare-and-swap loop: read the bucket, check
// capacity, then write bucket and booking together conditional on the version read.
func (s *bookingService) reserveTransactional(ctx context.Context, booking *domain.Booking, capacity int) error {
	key := booking.BucketKey()
	seats := booking.SeatCount()
	log := s.logger.WithContext(ctx).With(zap.String("bucket", key.String()), zap.Int("seats", seats))

	needPNR := true
	result := s.retrier.DoWithCallback(ctx, func(ctx context.Context, attempt int) error {
		if needPNR {
			pnr, err := s.pnrs.Generate(ctx)
			if err != nil {
				return err
			}
			booking.PNR = pnr
			needPNR = false
		}

		bucket, err := s.inventory.GetBucket(ctx, key)
		if err != nil {
			return err
		}
		if bucket.Committed+seats > capacity {
			return domain.NewInsufficientSeatsError(seats, capacity-bucket.Committed)
		}

		err = s.bookings.CreateWithReservation(ctx, booking, domain.BucketUpdate{
			Key:             key,
			ExpectedVersion: bucket.Version,
			Committed:       bucket.Committed + seats,
		})
		if errors.Is(err, domain.ErrDuplicatePNR) {
			needPNR = true
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.RecordContentionRetry(ctx, key.String())
		}
		log.Debug("Reservation attempt lost", zap.Int("attempt", attempt), zap.Duration("backoff", next), zap.Error(err))
	})

	return reservationError(result)
}

// reservationError maps a finished retry loop onto the error taxonomy
func reservationError(result *retry.Result) error {
	switch {
	case result.Err == nil:
		return nil
	case errors.Is(result.Err, retry.ErrAttemptsExhausted):
		if errors.Is(result.LastError, domain.ErrVersionConflict) {
			return fmt.Errorf("%w: gave up after %d attempts", domain.ErrContention, result.Attempts)
		}
		return fmt.Errorf("%w: %v", domain.ErrInternal, result.LastError)
	case errors.Is(result.Err, retry.ErrContextCanceled):
		return fmt.Errorf("%w: request cancelled during reservation", domain.ErrInternal)
	default:
		return result.Err
	}
}
