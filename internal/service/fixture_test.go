package service

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/internal/dto"
	"github.com/prohmpiriya/rail-reservation/internal/repository"
)

const (
	testUser  = "user-1"
	otherUser = "user-2"
)

var ist = mustLoadLocation("Asia/Kolkata")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Saturday 2026-10-10, 10:00 in India
var testNow = time.Date(2026, 10, 10, 10, 0, 0, 0, ist)

// clock is a settable time source shared with the service under test
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// rajdhani runs daily. NDLS-MTJ is 50 km and NDLS-JHS 440 km; SL costs 2 per km.
func rajdhani() *domain.Train {
	return &domain.Train{
		ID:            "12951",
		Number:        "12951",
		Name:          "Rajdhani Express",
		Active:        true,
		OperatingDays: domain.EveryDay,
		Stations: []domain.RouteStation{
			{Code: "NDLS", Name: "New Delhi", DistanceKm: 0, DayOffset: 1, Departure: "16:55", Platform: "3"},
			{Code: "MTJ", Name: "Mathura Jn", DistanceKm: 50, DayOffset: 1, Arrival: "18:20", Departure: "18:22"},
			{Code: "JHS", Name: "Jhansi Jn", DistanceKm: 440, DayOffset: 1, Arrival: "21:40", Departure: "21:45"},
		},
		Classes: map[string]domain.ClassInfo{
			"SL": {Code: "SL", FarePerKm: "2", Capacity: 72},
			"3A": {Code: "3A", FarePerKm: "1.255", Capacity: 64},
		},
	}
}

type fixture struct {
	store   *repository.MemoryStore
	clock   *clock
	events  *recordingPublisher
	service *bookingService
}

func newFixture(t *testing.T, tweak func(cfg *BookingServiceConfig, deps *BookingServiceDeps)) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	store.AddTrain(rajdhani())
	store.AddUser(testUser)
	store.AddUser(otherUser)

	inactive := rajdhani()
	inactive.ID = "99999"
	inactive.Active = false
	store.AddTrain(inactive)

	mondays := rajdhani()
	mondays.ID = "22222"
	mondays.OperatingDays = domain.NewOperatingDays(time.Monday)
	store.AddTrain(mondays)

	clk := &clock{now: testNow}
	events := &recordingPublisher{}

	cfg := &BookingServiceConfig{
		Strategy:       StrategyTransactional,
		MaxAttempts:    5,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		FareTolerance:  1,
		MaxPassengers:  6,
		Location:       ist,
		Now:            clk.Now,
	}
	deps := &BookingServiceDeps{
		Catalog:   store,
		Users:     store,
		Inventory: store,
		Bookings:  store,
		Publisher: events,
	}
	if tweak != nil {
		tweak(cfg, deps)
	}

	svc, err := newBookingService(*deps, cfg)
	require.NoError(t, err)
	return &fixture{store: store, clock: clk, events: events, service: svc}
}

func passengers(n int) []dto.PassengerRequest {
	out := make([]dto.PassengerRequest, n)
	for i := range out {
		out[i] = dto.PassengerRequest{Name: "Asha Rao", Age: 34, Gender: "Female"}
	}
	return out
}

// request books n passengers NDLS-JHS in SL: 880 per passenger
func request(date string, n int) *dto.CreateBookingRequest {
	return &dto.CreateBookingRequest{
		TrainID:           "12951",
		FromStationCode:   "NDLS",
		ToStationCode:     "JHS",
		JourneyDate:       date,
		ClassCode:         "SL",
		Passengers:        passengers(n),
		DeclaredTotalFare: fare(int64(880 * n)),
	}
}

func fare(v int64) *int64 {
	return &v
}

func bucketKey(t *testing.T, date string) domain.BucketKey {
	t.Helper()
	d, err := domain.ParseDate(date)
	require.NoError(t, err)
	return domain.NewBucketKey("12951", "SL", d)
}

func (f *fixture) committed(t *testing.T, date string) int {
	t.Helper()
	bucket, err := f.store.GetBucket(context.Background(), bucketKey(t, date))
	require.NoError(t, err)
	return bucket.Committed
}

type recordedEvent struct {
	Type           domain.BookingEventType
	PNR            string
	PassengerIndex int
}

// recordingPublisher captures published events for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) record(t domain.BookingEventType, b *domain.Booking, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: t, PNR: b.PNR, PassengerIndex: index})
	return nil
}

func (p *recordingPublisher) types() []domain.BookingEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.BookingEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) PublishBookingCreated(ctx context.Context, b *domain.Booking) error {
	return p.record(domain.BookingEventCreated, b, -1)
}

func (p *recordingPublisher) PublishBookingCancelled(ctx context.Context, b *domain.Booking) error {
	return p.record(domain.BookingEventCancelled, b, -1)
}

func (p *recordingPublisher) PublishBookingCompleted(ctx context.Context, b *domain.Booking) error {
	return p.record(domain.BookingEventCompleted, b, -1)
}

func (p *recordingPublisher) PublishPassengerStatusChanged(ctx context.Context, b *domain.Booking, index int, status domain.TicketStatus) error {
	return p.record(domain.BookingEventPassengerChanged, b, index)
}

func (p *recordingPublisher) PublishPaymentStatusChanged(ctx context.Context, b *domain.Booking) error {
	return p.record(domain.BookingEventPaymentStatusChanged, b, -1)
}

func (p *recordingPublisher) PublishRefundSettled(ctx context.Context, b *domain.Booking) error {
	return p.record(domain.BookingEventRefundSettled, b, -1)
}

func (p *recordingPublisher) Close() error { return nil }

// bookingStore lets a test replace individual repository calls
type bookingStore struct {
	*repository.MemoryStore

	CreateWithReservationFunc func(ctx context.Context, b *domain.Booking, u domain.BucketUpdate) error
	CreateFunc                func(ctx context.Context, b *domain.Booking) error
	PNRExistsFunc             func(ctx context.Context, pnr string) (bool, error)
}

func (s *bookingStore) CreateWithReservation(ctx context.Context, b *domain.Booking, u domain.BucketUpdate) error {
	if s.CreateWithReservationFunc != nil {
		return s.CreateWithReservationFunc(ctx, b, u)
	}
	return s.MemoryStore.CreateWithReservation(ctx, b, u)
}

func (s *bookingStore) Create(ctx context.Context, b *domain.Booking) error {
	if s.CreateFunc != nil {
		return s.CreateFunc(ctx, b)
	}
	return s.MemoryStore.Create(ctx, b)
}

func (s *bookingStore) PNRExists(ctx context.Context, pnr string) (bool, error) {
	if s.PNRExistsFunc != nil {
		return s.PNRExistsFunc(ctx, pnr)
	}
	return s.MemoryStore.PNRExists(ctx, pnr)
}
