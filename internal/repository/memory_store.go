package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

// MemoryStore is an in-process store backing every repository interface.
// One mutex guards bookings and buckets together, which gives
// CreateWithReservation the same joint atomicity as a database transaction.
type MemoryStore struct {
	mu       sync.RWMutex
	trains   map[string]*domain.Train
	users    map[string]struct{}
	buckets  map[domain.BucketKey]domain.InventoryBucket
	bookings map[string]*domain.Booking
	byPNR    map[string]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trains:   make(map[string]*domain.Train),
		users:    make(map[string]struct{}),
		buckets:  make(map[domain.BucketKey]domain.InventoryBucket),
		bookings: make(map[string]*domain.Booking),
		byPNR:    make(map[string]string),
	}
}

// AddTrain registers a catalog entry
func (s *MemoryStore) AddTrain(train *domain.Train) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trains[train.ID] = train
}

// AddUser registers a known user id
func (s *MemoryStore) AddUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = struct{}{}
}

// GetTrain implements CatalogRepository
func (s *MemoryStore) GetTrain(ctx context.Context, trainID string) (*domain.Train, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trains[trainID]
	if !ok {
		return nil, domain.ErrTrainNotFound
	}
	return t, nil
}

// Exists implements UserDirectory
func (s *MemoryStore) Exists(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}

// GetBucket implements InventoryRepository
func (s *MemoryStore) GetBucket(ctx context.Context, key domain.BucketKey) (*domain.InventoryBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[key]
	if !ok {
		b = domain.InventoryBucket{Key: key}
	}
	return &b, nil
}

func (s *MemoryStore) applyBucket(update domain.BucketUpdate) error {
	current, ok := s.buckets[update.Key]
	if !ok {
		current = domain.InventoryBucket{Key: update.Key}
	}
	if current.Version != update.ExpectedVersion {
		return domain.ErrVersionConflict
	}
	if update.Committed < 0 {
		update.Committed = 0
	}
	s.buckets[update.Key] = domain.InventoryBucket{
		Key:       update.Key,
		Committed: update.Committed,
		Version:   current.Version + 1,
	}
	return nil
}

func (s *MemoryStore) insert(booking *domain.Booking) error {
	if _, exists := s.byPNR[booking.PNR]; exists {
		return domain.ErrDuplicatePNR
	}
	s.bookings[booking.ID] = booking.Clone()
	s.byPNR[booking.PNR] = booking.ID
	return nil
}

// CreateWithReservation implements BookingRepository
func (s *MemoryStore) CreateWithReservation(ctx context.Context, booking *domain.Booking, update domain.BucketUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPNR[booking.PNR]; exists {
		return domain.ErrDuplicatePNR
	}
	if err := s.applyBucket(update); err != nil {
		return err
	}
	return s.insert(booking)
}

// Create implements BookingRepository
func (s *MemoryStore) Create(ctx context.Context, booking *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(booking)
}

func cancellable(stored *domain.Booking) error {
	if stored.IsCancelled() {
		return domain.ErrBookingCancelled
	}
	if !stored.Status.CanTransitionTo(domain.BookingStatusCancelled) {
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *MemoryStore) storeCancellation(booking *domain.Booking) error {
	stored, ok := s.bookings[booking.ID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if err := cancellable(stored); err != nil {
		return err
	}
	stored.Status = booking.Status
	stored.UpdatedAt = booking.UpdatedAt
	if booking.Cancellation != nil {
		rec := *booking.Cancellation
		stored.Cancellation = &rec
	}
	return nil
}

// CancelWithRelease implements BookingRepository
func (s *MemoryStore) CancelWithRelease(ctx context.Context, booking *domain.Booking, update domain.BucketUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.bookings[booking.ID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if err := cancellable(stored); err != nil {
		return err
	}
	if err := s.applyBucket(update); err != nil {
		return err
	}
	return s.storeCancellation(booking)
}

// MarkCancelled implements BookingRepository
func (s *MemoryStore) MarkCancelled(ctx context.Context, booking *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeCancellation(booking)
}

// ListPendingReleases implements BookingRepository
func (s *MemoryStore) ListPendingReleases(ctx context.Context, limit int) ([]*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Booking
	for _, b := range s.bookings {
		if b.IsCancelled() && b.Cancellation != nil && !b.Cancellation.SeatsReleased {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cancellation.CancelledAt.Before(out[j].Cancellation.CancelledAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// MarkSeatsReleased implements BookingRepository
func (s *MemoryStore) MarkSeatsReleased(ctx context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if b.Cancellation == nil {
		return domain.ErrVersionConflict
	}
	b.Cancellation.SeatsReleased = true
	return nil
}

// GetByID implements BookingRepository
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return b.Clone(), nil
}

// GetByPNR implements BookingRepository
func (s *MemoryStore) GetByPNR(ctx context.Context, pnr string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPNR[pnr]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return s.bookings[id].Clone(), nil
}

// ListByUser implements BookingRepository
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Booking
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return []*domain.Booking{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// PNRExists implements BookingRepository
func (s *MemoryStore) PNRExists(ctx context.Context, pnr string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byPNR[pnr]
	return ok, nil
}

// UpdatePassengerStatus implements BookingRepository
func (s *MemoryStore) UpdatePassengerStatus(ctx context.Context, bookingID string, index int, from, to domain.TicketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if index < 0 || index >= len(b.Passengers) {
		return domain.ErrPassengerNotFound
	}
	if b.IsCancelled() || b.Passengers[index].TicketStatus != from {
		return domain.ErrVersionConflict
	}
	b.Passengers[index].TicketStatus = to
	return nil
}

// UpdatePaymentStatus implements BookingRepository
func (s *MemoryStore) UpdatePaymentStatus(ctx context.Context, bookingID string, from, to domain.PaymentStatus, settleRefund bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if b.PaymentStatus != from {
		return domain.ErrVersionConflict
	}
	b.PaymentStatus = to
	if settleRefund && b.Cancellation != nil && b.Cancellation.RefundStatus == domain.RefundStatusPending {
		b.Cancellation.RefundStatus = domain.RefundStatusCompleted
	}
	return nil
}

// SettleRefund implements BookingRepository
func (s *MemoryStore) SettleRefund(ctx context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if b.Cancellation == nil || b.Cancellation.RefundStatus != domain.RefundStatusPending {
		return domain.ErrVersionConflict
	}
	b.Cancellation.RefundStatus = domain.RefundStatusCompleted
	return nil
}

// UpdateStatus implements BookingRepository
func (s *MemoryStore) UpdateStatus(ctx context.Context, bookingID string, from, to domain.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if b.Status != from {
		return domain.ErrVersionConflict
	}
	b.Status = to
	return nil
}

// Committed sums passengers across live bookings for a key. Tests use it to
// check the bucket against the bookings it is derived from.
func (s *MemoryStore) Committed(key domain.BucketKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, b := range s.bookings {
		if !b.IsCancelled() && b.BucketKey() == key {
			total += b.SeatCount()
		}
	}
	return total
}

var (
	_ CatalogRepository   = (*MemoryStore)(nil)
	_ UserDirectory       = (*MemoryStore)(nil)
	_ InventoryRepository = (*MemoryStore)(nil)
	_ BookingRepository   = (*MemoryStore)(nil)
)
