package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/internal/repository"
	"github.com/prohmpiriya/rail-reservation/internal/saga"
)

const twoPhaseSagaName = "two_phase_booking"

// twoPhaseState is shared by the steps of one create attempt
type twoPhaseState struct {
	booking  *domain.Booking
	capacity int
}

type twoPhaseSaga struct {
	orchestrator *saga.Orchestrator[twoPhaseState]
}

// newTwoPhaseSaga wires reserve -> persist -> confirm. The hold id is the PNR,
// which lets the reconciler match stranded holds to bookings.
func newTwoPhaseSaga(s *bookingService) *twoPhaseSaga {
	def := saga.NewDefinition[twoPhaseState](twoPhaseSagaName).
		AddStep(&saga.Step[twoPhaseState]{
			Name:    "reserve_seats",
			Retries: 2,
			RetryIf: isInfrastructureError,
			Execute: func(ctx context.Context, st *twoPhaseState) error {
				b := st.booking
				_, err := s.ledger.Reserve(ctx, b.BucketKey(), b.PNR, b.SeatCount(), st.capacity, s.holdTTL)
				return err
			},
			Compensate: func(ctx context.Context, st *twoPhaseState) error {
				rel, err := s.ledger.ReleaseHold(ctx, st.booking.PNR)
				if err != nil {
					return err
				}
				s.checkUnderflow(ctx, st.booking.BucketKey(), st.booking.SeatCount(), rel)
				return nil
			},
		}).
		AddStep(&saga.Step[twoPhaseState]{
			Name: "persist_booking",
			Execute: func(ctx context.Context, st *twoPhaseState) error {
				return s.bookings.Create(ctx, st.booking)
			},
			Compensate: func(ctx context.Context, st *twoPhaseState) error {
				voided := st.booking.Clone()
				voided.Status = domain.BookingStatusCancelled
				voided.UpdatedAt = s.now()
				// the reserve compensation or the reconciler returns the held seats
				voided.Cancellation = &domain.CancellationRecord{
					CancelledAt:   voided.UpdatedAt,
					RefundAmount:  0,
					RefundStatus:  domain.RefundStatusCompleted,
					SeatsReleased: true,
				}
				err := s.bookings.MarkCancelled(ctx, voided)
				if errors.Is(err, domain.ErrAlreadyCancelled) {
					return nil
				}
				return err
			},
		}).
		AddStep(&saga.Step[twoPhaseState]{
			Name:    "confirm_hold",
			Retries: 2,
			RetryIf: isInfrastructureError,
			Execute: func(ctx context.Context, st *twoPhaseState) error {
				return s.ledger.Confirm(ctx, st.booking.PNR)
			},
		})

	return &twoPhaseSaga{orchestrator: saga.NewOrchestrator(def, s.logger)}
}

// reserveTwoPhase runs the saga, drawing a fresh PNR when the unique
// constraint rejects the one just used or the ledger already has a hold under it.
func (s *bookingService) reserveTwoPhase(ctx context.Context, booking *domain.Booking, capacity int) error {
	var lastErr error
	for attempt := 1; attempt <= s.pnrAttempts; attempt++ {
		pnr, err := s.pnrs.Generate(ctx)
		if err != nil {
			return err
		}
		booking.PNR = pnr

		_, err = s.createSaga.orchestrator.Execute(ctx, &twoPhaseState{booking: booking, capacity: capacity})
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrDuplicatePNR) {
			if errors.Is(err, repository.ErrUnknownHold) {
				return fmt.Errorf("%w: seat hold for %s vanished before confirmation", domain.ErrInternal, pnr)
			}
			return err
		}
		lastErr = err
		s.logger.WithContext(ctx).Warn("PNR collision, retrying", zap.String("pnr", pnr), zap.Int("attempt", attempt))
	}
	return fmt.Errorf("%w: %v", domain.ErrInternal, lastErr)
}

// checkUnderflow logs releases that found fewer seats than they returned
func (s *bookingService) checkUnderflow(ctx context.Context, key domain.BucketKey, seats int, rel *repository.LedgerRelease) {
	if rel == nil || !rel.Underflow {
		return
	}
	s.logUnderflow(ctx, key, seats)
}

// isInfrastructureError reports failures the workflow did not classify, such as
// a dropped connection. Domain outcomes like InsufficientSeats are final.
func isInfrastructureError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, repository.ErrUnknownHold) || errors.Is(err, domain.ErrDuplicatePNR) {
		return false
	}
	return domain.KindOf(err) == domain.KindInternal
}
