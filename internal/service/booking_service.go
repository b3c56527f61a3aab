package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/internal/dto"
	"github.com/prohmpiriya/rail-reservation/internal/repository"
	"github.com/prohmpiriya/rail-reservation/pkg/logger"
	"github.com/prohmpiriya/rail-reservation/pkg/retry"
)

// Reservation strategies
const (
	// StrategyTransactional commits the bucket and the booking in one database transaction
	StrategyTransactional = "transactional"
	// StrategyTwoPhase holds seats in the Redis ledger, persists, then confirms the hold
	StrategyTwoPhase = "two_phase"
)

// BookingService defines the interface for booking business logic.
// userID scopes every call to the caller's own bookings.
type BookingService interface {
	// CreateBooking validates, prices, reserves and persists a booking
	CreateBooking(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.BookingResponse, error)

	GetBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error)
	GetBookingByPNR(ctx context.Context, pnr, userID string) (*dto.BookingResponse, error)
	// ListUserBookings returns the user's bookings newest first
	ListUserBookings(ctx context.Context, userID string, limit, offset int) ([]*dto.BookingResponse, error)
	GetAvailability(ctx context.Context, trainID, classCode, date string) (*dto.AvailabilityResponse, error)

	// CancelBooking cancels the whole booking, computes the refund and releases its seats
	CancelBooking(ctx context.Context, bookingID, userID string) (*dto.CancelBookingResponse, error)

	// UpdatePassengerStatus moves one passenger's ticket. Seats are never released here.
	UpdatePassengerStatus(ctx context.Context, bookingID, userID string, index int, status string) (*dto.BookingResponse, error)
	UpdatePaymentStatus(ctx context.Context, bookingID, userID, status string) (*dto.BookingResponse, error)
	SettleRefund(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error)
	CompleteBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error)
}

// BookingServiceConfig contains configuration for booking service
type BookingServiceConfig struct {
	Strategy string
	// MaxAttempts bounds compare-and-swap attempts before Contention
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	HoldTTL        time.Duration
	FareTolerance  int64
	MaxPassengers  int
	PNRAttempts    int
	// Location decides the calendar day for "today"
	Location *time.Location
	Now      func() time.Time
}

// BookingServiceDeps are the collaborators of the booking service
type BookingServiceDeps struct {
	Catalog   repository.CatalogRepository
	Users     repository.UserDirectory
	Inventory repository.InventoryRepository
	Bookings  repository.BookingRepository
	// Ledger is required by the two-phase strategy
	Ledger    repository.SeatLedger
	Publisher EventPublisher
	Logger    *logger.Logger
}

// bookingService implements BookingService
type bookingService struct {
	catalog   repository.CatalogRepository
	users     repository.UserDirectory
	inventory repository.InventoryRepository
	bookings  repository.BookingRepository
	ledger    repository.SeatLedger
	publisher EventPublisher
	logger    *logger.Logger

	fares   *FareCalculator
	refunds *RefundPolicy
	pnrs    *PNRGenerator
	retrier *retry.Retrier

	strategy      string
	holdTTL       time.Duration
	fareTolerance int64
	maxPassengers int
	pnrAttempts   int
	loc           *time.Location
	now           func() time.Time

	createSaga *twoPhaseSaga
}

// NewBookingService creates a new booking service
func NewBookingService(deps BookingServiceDeps, cfg *BookingServiceConfig) (BookingService, error) {
	return newBookingService(deps, cfg)
}

func newBookingService(deps BookingServiceDeps, cfg *BookingServiceConfig) (*bookingService, error) {
	if cfg == nil {
		cfg = &BookingServiceConfig{}
	}
	if deps.Catalog == nil || deps.Users == nil || deps.Bookings == nil {
		return nil, errors.New("catalog, users and bookings repositories are required")
	}

	s := &bookingService{
		catalog:       deps.Catalog,
		users:         deps.Users,
		inventory:     deps.Inventory,
		bookings:      deps.Bookings,
		ledger:        deps.Ledger,
		publisher:     deps.Publisher,
		logger:        deps.Logger,
		fares:         NewFareCalculator(),
		strategy:      cfg.Strategy,
		holdTTL:       cfg.HoldTTL,
		fareTolerance: cfg.FareTolerance,
		maxPassengers: cfg.MaxPassengers,
		pnrAttempts:   cfg.PNRAttempts,
		loc:           cfg.Location,
		now:           cfg.Now,
	}

	if s.strategy == "" {
		s.strategy = StrategyTransactional
	}
	switch s.strategy {
	case StrategyTransactional:
		if s.inventory == nil {
			return nil, errors.New("transactional strategy requires an inventory repository")
		}
	case StrategyTwoPhase:
		if s.ledger == nil {
			return nil, errors.New("two-phase strategy requires a seat ledger")
		}
	default:
		return nil, fmt.Errorf("unknown reservation strategy %q", s.strategy)
	}

	if s.holdTTL <= 0 {
		s.holdTTL = 2 * time.Minute
	}
	if s.fareTolerance < 0 {
		s.fareTolerance = 0
	}
	if s.maxPassengers <= 0 {
		s.maxPassengers = domain.DefaultMaxPassengers
	}
	if s.pnrAttempts <= 0 {
		s.pnrAttempts = defaultPNRAttempts
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.publisher == nil {
		s.publisher = NewNoOpEventPublisher()
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	s.retrier = retry.New(&retry.Config{
		MaxAttempts:     maxAttempts,
		InitialInterval: cfg.BackoffInitial,
		MaxInterval:     cfg.BackoffMax,
		Multiplier:      2,
		JitterFactor:    0.2,
		RetryIf:         domain.IsRetryableError,
	})

	s.refunds = NewRefundPolicy(s.loc, nil)
	s.pnrs = NewPNRGenerator(s.bookings, s.pnrAttempts)
	if s.strategy == StrategyTwoPhase {
		s.createSaga = newTwoPhaseSaga(s)
	}
	return s, nil
}

func (s *bookingService) today() time.Time {
	return domain.Today(s.now(), s.loc)
}

// GetBooking retrieves a booking by ID
func (s *bookingService) GetBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
	booking, err := s.loadOwned(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	return dto.FromDomain(booking), nil
}

// GetBookingByPNR retrieves a booking by its PNR
func (s *bookingService) GetBookingByPNR(ctx context.Context, pnr, userID string) (*dto.BookingResponse, error) {
	booking, err := s.bookings.GetByPNR(ctx, pnr)
	if err != nil {
		return nil, s.internal(err)
	}
	if !booking.IsOwnedBy(userID) {
		return nil, domain.ErrBookingNotFound
	}
	return dto.FromDomain(booking), nil
}

// ListUserBookings retrieves a page of the user's bookings
func (s *bookingService) ListUserBookings(ctx context.Context, userID string, limit, offset int) ([]*dto.BookingResponse, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	bookings, err := s.bookings.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, s.internal(err)
	}
	return dto.FromDomainList(bookings), nil
}

// GetAvailability reports capacity and committed seats for one bucket
func (s *bookingService) GetAvailability(ctx context.Context, trainID, classCode, date string) (*dto.AvailabilityResponse, error) {
	if trainID == "" {
		return nil, domain.ErrInvalidTrainID
	}
	if classCode == "" {
		return nil, domain.ErrInvalidClass
	}
	journeyDate, err := domain.ParseDate(date)
	if err != nil {
		return nil, err
	}

	train, err := s.catalog.GetTrain(ctx, trainID)
	if err != nil {
		return nil, s.internal(err)
	}
	class, ok := train.Class(classCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrClassNotOffered, classCode)
	}

	key := domain.NewBucketKey(trainID, classCode, journeyDate)
	committed, err := s.committed(ctx, key)
	if err != nil {
		return nil, s.internal(err)
	}

	remaining := class.Capacity - committed
	if remaining < 0 {
		remaining = 0
	}
	return dto.AvailabilityFromDomain(&domain.Availability{
		Key:       key,
		Capacity:  class.Capacity,
		Committed: committed,
		Remaining: remaining,
	}), nil
}

func (s *bookingService) committed(ctx context.Context, key domain.BucketKey) (int, error) {
	if s.strategy == StrategyTwoPhase {
		return s.ledger.Committed(ctx, key)
	}
	bucket, err := s.inventory.GetBucket(ctx, key)
	if err != nil {
		return 0, err
	}
	return bucket.Committed, nil
}

// loadOwned fetches a booking and hides it from anyone but its owner
func (s *bookingService) loadOwned(ctx context.Context, bookingID, userID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, domain.ErrBookingNotFound
	}
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, s.internal(err)
	}
	if !booking.IsOwnedBy(userID) {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}

// internal passes classified errors through and wraps everything else as Internal
func (s *bookingService) internal(err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindInternal || errors.Is(err, domain.ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrInternal, err)
}

// fail records err on the span and logs unexpected failures
func (s *bookingService) fail(ctx context.Context, span trace.Span, op string, err error) error {
	err = s.internal(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if domain.KindOf(err) == domain.KindInternal {
		s.logger.WithContext(ctx).Error("Booking operation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

// publishAsync sends an event without blocking the caller. Failures are logged only.
func (s *bookingService) publishAsync(ctx context.Context, event domain.BookingEventType, booking *domain.Booking, publish func(ctx context.Context, b *domain.Booking) error) {
	snapshot := booking.Clone()
	pubCtx := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(pubCtx, 5*time.Second)
		defer cancel()
		if err := publish(ctx, snapshot); err != nil {
			s.logger.WithContext(ctx).Warn("Failed to publish booking event",
				zap.String("event_type", string(event)),
				zap.String("pnr", snapshot.PNR),
				zap.Error(err),
			)
		}
	}()
}

func bookingAttrs(b *domain.Booking) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("booking_id", b.ID),
		attribute.String("pnr", b.PNR),
		attribute.String("train_id", b.TrainID),
		attribute.String("class", b.ClassCode),
		attribute.String("journey_date", b.JourneyDate.Format(domain.DateLayout)),
	}
}
