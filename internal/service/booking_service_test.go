package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/internal/dto"
	"github.com/prohmpiriya/rail-reservation/internal/repository"
	"github.com/prohmpiriya/rail-reservation/pkg/logger"
)

func (f *fixture) eventually(t *testing.T, want domain.BookingEventType) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return slices.Contains(f.events.types(), want)
	}, time.Second, 5*time.Millisecond, "expected %s event", want)
}

func (f *fixture) book(t *testing.T, date string, n int) *dto.BookingResponse {
	t.Helper()
	resp, err := f.service.CreateBooking(context.Background(), testUser, request(date, n))
	require.NoError(t, err)
	return resp
}

func TestCreateBooking_Success(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.service.CreateBooking(context.Background(), testUser, request("2026-10-18", 2))
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ID)
	assert.Regexp(t, `^[0-9]{10}$`, resp.PNR)
	assert.Equal(t, testUser, resp.UserID)
	assert.Equal(t, "Rajdhani Express", resp.TrainName)
	assert.Equal(t, "NDLS", resp.From.Code)
	assert.Equal(t, "16:55", resp.From.ScheduledTime)
	assert.Equal(t, "3", resp.From.Platform)
	assert.Equal(t, "JHS", resp.To.Code)
	assert.Equal(t, "21:40", resp.To.ScheduledTime)
	assert.Equal(t, "2026-10-18", resp.JourneyDate)
	assert.Equal(t, int64(1760), resp.TotalFare)
	assert.Equal(t, "Confirmed", resp.Status)
	assert.Equal(t, "Pending", resp.PaymentStatus)
	assert.Nil(t, resp.Cancellation)
	require.Len(t, resp.Passengers, 2)
	for _, p := range resp.Passengers {
		assert.Equal(t, "Confirmed", p.TicketStatus)
	}

	assert.Equal(t, 2, f.committed(t, "2026-10-18"))
	f.eventually(t, domain.BookingEventCreated)

	byPNR, err := f.service.GetBookingByPNR(context.Background(), resp.PNR, testUser)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, byPNR.ID)
}

func TestCreateBooking_FareTolerance(t *testing.T) {
	tests := []struct {
		declared int64
		wantErr  bool
	}{
		{declared: 880},
		{declared: 881},
		{declared: 879},
		{declared: 882, wantErr: true},
		{declared: 900, wantErr: true},
		{declared: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.declared), func(t *testing.T) {
			f := newFixture(t, nil)
			req := request("2026-10-18", 1)
			req.DeclaredTotalFare = fare(tt.declared)

			resp, err := f.service.CreateBooking(context.Background(), testUser, req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.KindFareMismatch, domain.KindOf(err))
				assert.Equal(t, 0, f.committed(t, "2026-10-18"))
				return
			}
			require.NoError(t, err)
			// the stored fare is always the computed one
			assert.Equal(t, int64(880), resp.TotalFare)
		})
	}
}

func TestCreateBooking_FareScenario(t *testing.T) {
	f := newFixture(t, nil)
	train := rajdhani()
	train.ID = "12301"
	train.Classes["SL"] = domain.ClassInfo{Code: "SL", FarePerKm: "1.0", Capacity: 72}
	f.store.AddTrain(train)

	req := request("2026-10-18", 2)
	req.TrainID = "12301"

	quote, err := NewFareCalculator().Compute(train, "NDLS", "JHS", "SL", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(880), quote.Total)

	req.DeclaredTotalFare = fare(900)
	_, err = f.service.CreateBooking(context.Background(), testUser, req)
	assert.ErrorIs(t, err, domain.ErrFareMismatch)

	req.DeclaredTotalFare = fare(880)
	resp, err := f.service.CreateBooking(context.Background(), testUser, req)
	require.NoError(t, err)
	assert.Equal(t, int64(880), resp.TotalFare)
}

func TestCreateBooking_Validation(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		modify func(r *dto.CreateBookingRequest)
		nilReq bool
		kind   domain.ErrorKind
		is     error
	}{
		{name: "missing user", userID: "", kind: domain.KindValidation, is: domain.ErrInvalidUserID},
		{name: "nil request", userID: testUser, nilReq: true, kind: domain.KindValidation},
		{
			name: "no passengers", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.Passengers = nil },
			kind:   domain.KindValidation, is: domain.ErrPassengerCount,
		},
		{
			name: "too many passengers", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.Passengers = passengers(7) },
			kind:   domain.KindValidation, is: domain.ErrPassengerCount,
		},
		{
			name: "short name after trim", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.Passengers[0].Name = "  Al  " },
			kind:   domain.KindValidation, is: domain.ErrPassengerNameTooShort,
		},
		{
			name: "age zero", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.Passengers[0].Age = 0 },
			kind:   domain.KindValidation, is: domain.ErrPassengerAge,
		},
		{
			name: "age above limit", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.Passengers[0].Age = 121 },
			kind:   domain.KindValidation, is: domain.ErrPassengerAge,
		},
		{
			name: "unknown gender", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.Passengers[0].Gender = "F" },
			kind:   domain.KindValidation, is: domain.ErrPassengerGender,
		},
		{
			name: "seat preference in sleeper", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.Passengers[0].BerthPreference = "Window" },
			kind:   domain.KindValidation, is: domain.ErrBerthPreference,
		},
		{
			name: "negative declared fare", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.DeclaredTotalFare = fare(-1) },
			kind:   domain.KindValidation, is: domain.ErrInvalidDeclaredFare,
		},
		{
			name: "missing declared fare", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.DeclaredTotalFare = nil },
			kind:   domain.KindValidation, is: domain.ErrMissingDeclaredFare,
		},
		{
			name: "malformed date", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.JourneyDate = "18/10/2026" },
			kind:   domain.KindValidation, is: domain.ErrInvalidJourneyDate,
		},
		{name: "unknown user", userID: "ghost", kind: domain.KindNotFound, is: domain.ErrUserNotFound},
		{
			name: "unknown train", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.TrainID = "00000" },
			kind:   domain.KindNotFound, is: domain.ErrTrainNotFound,
		},
		{
			name: "inactive train", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.TrainID = "99999" },
			kind:   domain.KindValidation, is: domain.ErrTrainInactive,
		},
		{
			name: "past date", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.JourneyDate = "2026-10-09" },
			kind:   domain.KindValidation, is: domain.ErrPastJourneyDate,
		},
		{
			name: "train does not run", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.TrainID = "22222"; r.JourneyDate = "2026-10-20" },
			kind:   domain.KindValidation, is: domain.ErrNotOperatingDay,
		},
		{
			name: "reversed stations", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.FromStationCode, r.ToStationCode = "JHS", "NDLS" },
			kind:   domain.KindInvalidRoute,
		},
		{
			name: "station off route", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.ToStationCode = "BCT" },
			kind:   domain.KindInvalidRoute,
		},
		{
			name: "class not offered", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.ClassCode = "1A" },
			kind:   domain.KindClassNotOffered,
		},
		{
			name: "class checked before route", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.ClassCode = "1A"; r.ToStationCode = "BCT" },
			kind:   domain.KindClassNotOffered,
		},
		{
			name: "passenger checked before train", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.TrainID = "00000"; r.Passengers[0].Age = 0 },
			kind:   domain.KindValidation, is: domain.ErrPassengerAge,
		},
		{
			name: "past date checked before route", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.JourneyDate = "2026-10-01"; r.ToStationCode = "BCT" },
			kind:   domain.KindValidation, is: domain.ErrPastJourneyDate,
		},
		{
			name: "route checked before fare", userID: testUser,
			modify: func(r *dto.CreateBookingRequest) { r.ToStationCode = "BCT"; r.DeclaredTotalFare = fare(5) },
			kind:   domain.KindInvalidRoute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			var req *dto.CreateBookingRequest
			if !tt.nilReq {
				req = request("2026-10-18", 2)
				if tt.modify != nil {
					tt.modify(req)
				}
			}

			resp, err := f.service.CreateBooking(context.Background(), tt.userID, req)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.Equal(t, 0, f.committed(t, "2026-10-18"))
		})
	}
}

func TestCreateBooking_TodayIsBookable(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.book(t, "2026-10-10", 1)
	assert.Equal(t, "2026-10-10", resp.JourneyDate)
}

func TestCreateBooking_FillBucketThenCancel(t *testing.T) {
	f := newFixture(t, func(cfg *BookingServiceConfig, _ *BookingServiceDeps) {
		cfg.MaxPassengers = 72
	})
	ctx := context.Background()

	// NDLS-MTJ is 50 km: 100 per seat
	req := request("2026-10-18", 70)
	req.ToStationCode = "MTJ"
	req.DeclaredTotalFare = fare(7000)

	first, err := f.service.CreateBooking(ctx, testUser, req)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), first.TotalFare)
	assert.Equal(t, 70, f.committed(t, "2026-10-18"))

	more := request("2026-10-18", 3)
	more.ToStationCode = "MTJ"
	more.DeclaredTotalFare = fare(300)

	_, err = f.service.CreateBooking(ctx, testUser, more)
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientSeats, domain.KindOf(err))
	remaining, ok := domain.RemainingSeats(err)
	require.True(t, ok)
	assert.Equal(t, 2, remaining)
	assert.Equal(t, 70, f.committed(t, "2026-10-18"))

	// eight days out: full refund
	cancelled, err := f.service.CancelBooking(ctx, first.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), cancelled.RefundAmount)
	assert.Equal(t, "Pending", cancelled.RefundStatus)
	assert.Equal(t, "Cancelled", cancelled.Booking.Status)
	assert.Equal(t, 0, f.committed(t, "2026-10-18"))
	f.eventually(t, domain.BookingEventCancelled)

	_, err = f.service.CreateBooking(ctx, testUser, more)
	require.NoError(t, err)
	assert.Equal(t, 3, f.committed(t, "2026-10-18"))
}

func TestCreateBooking_AllOrNothing(t *testing.T) {
	f := newFixture(t, func(cfg *BookingServiceConfig, _ *BookingServiceDeps) {
		cfg.MaxPassengers = 72
	})
	ctx := context.Background()

	_, err := f.service.CreateBooking(ctx, testUser, request("2026-10-18", 71))
	require.NoError(t, err)

	_, err = f.service.CreateBooking(ctx, testUser, request("2026-10-18", 2))
	require.Error(t, err)
	remaining, _ := domain.RemainingSeats(err)
	assert.Equal(t, 1, remaining)

	assert.Equal(t, 71, f.committed(t, "2026-10-18"))
	list, err := f.service.ListUserBookings(ctx, testUser, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// other dates and classes are separate buckets
	_, err = f.service.CreateBooking(ctx, testUser, request("2026-10-19", 2))
	require.NoError(t, err)
}

func TestCreateBooking_ConcurrentNeverOversells(t *testing.T) {
	f := newFixture(t, func(cfg *BookingServiceConfig, _ *BookingServiceDeps) {
		// every lost race means another request won, so 40 attempts always suffice
		cfg.MaxAttempts = 40
		cfg.BackoffInitial = 100 * time.Microsecond
		cfg.BackoffMax = time.Millisecond
	})

	const workers = 40
	var (
		wg           sync.WaitGroup
		successes    atomic.Int32
		insufficient atomic.Int32
		other        atomic.Int32
		mu           sync.Mutex
		pnrs         = make(map[string]struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.service.CreateBooking(context.Background(), testUser, request("2026-10-18", 2))
			switch {
			case err == nil:
				successes.Add(1)
				mu.Lock()
				pnrs[resp.PNR] = struct{}{}
				mu.Unlock()
			case errors.Is(err, domain.ErrInsufficientSeats):
				insufficient.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(36), successes.Load())
	assert.Equal(t, int32(4), insufficient.Load())
	assert.Zero(t, other.Load())
	assert.Len(t, pnrs, 36)

	key := bucketKey(t, "2026-10-18")
	assert.Equal(t, 72, f.committed(t, "2026-10-18"))
	assert.Equal(t, 72, f.store.Committed(key))
}

func TestCreateBooking_RegeneratesPNROnInsertRace(t *testing.T) {
	var store *bookingStore
	f := newFixture(t, func(_ *BookingServiceConfig, deps *BookingServiceDeps) {
		store = &bookingStore{
			MemoryStore: deps.Bookings.(*repository.MemoryStore),
			// the pre-check never sees the collision; only the insert does
			PNRExistsFunc: func(ctx context.Context, pnr string) (bool, error) { return false, nil },
		}
		deps.Bookings = store
	})
	f.service.pnrs.now = f.clock.Now
	ctx := context.Background()

	f.service.pnrs.random = sequence("0000001")
	first := f.book(t, "2026-10-18", 1)
	assert.Equal(t, "7360000001", first.PNR)

	f.service.pnrs.random = sequence("0000001", "0000002")
	second, err := f.service.CreateBooking(ctx, testUser, request("2026-10-18", 1))
	require.NoError(t, err)
	assert.Equal(t, "7360000002", second.PNR)
	assert.Equal(t, 2, f.committed(t, "2026-10-18"))
}

func TestCreateBooking_ContentionAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, func(_ *BookingServiceConfig, deps *BookingServiceDeps) {
		deps.Bookings = &bookingStore{
			MemoryStore: deps.Bookings.(*repository.MemoryStore),
			CreateWithReservationFunc: func(ctx context.Context, b *domain.Booking, u domain.BucketUpdate) error {
				calls.Add(1)
				return domain.ErrVersionConflict
			},
		}
	})

	_, err := f.service.CreateBooking(context.Background(), testUser, request("2026-10-18", 1))
	require.Error(t, err)
	assert.Equal(t, domain.KindContention, domain.KindOf(err))
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 0, f.committed(t, "2026-10-18"))
}

func TestCreateBooking_StorageFailureIsInternal(t *testing.T) {
	f := newFixture(t, func(_ *BookingServiceConfig, deps *BookingServiceDeps) {
		deps.Bookings = &bookingStore{
			MemoryStore: deps.Bookings.(*repository.MemoryStore),
			CreateWithReservationFunc: func(ctx context.Context, b *domain.Booking, u domain.BucketUpdate) error {
				return errors.New("connection refused")
			},
		}
	})

	_, err := f.service.CreateBooking(context.Background(), testUser, request("2026-10-18", 1))
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}

func TestCancelBooking_RefundTiers(t *testing.T) {
	tests := []struct {
		journey string
		refund  int64
	}{
		{journey: "2026-10-18", refund: 880},
		{journey: "2026-10-15", refund: 660},
		{journey: "2026-10-11", refund: 440},
		{journey: "2026-10-10", refund: 0},
	}

	for _, tt := range tests {
		t.Run(tt.journey, func(t *testing.T) {
			f := newFixture(t, nil)
			b := f.book(t, tt.journey, 1)

			resp, err := f.service.CancelBooking(context.Background(), b.ID, testUser)
			require.NoError(t, err)
			assert.Equal(t, tt.refund, resp.RefundAmount)
			require.NotNil(t, resp.Booking.Cancellation)
			assert.Equal(t, tt.refund, resp.Booking.Cancellation.RefundAmount)
			assert.Equal(t, 0, f.committed(t, tt.journey))
		})
	}
}

func TestCancelBooking_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("already cancelled", func(t *testing.T) {
		f := newFixture(t, nil)
		b := f.book(t, "2026-10-18", 2)

		_, err := f.service.CancelBooking(ctx, b.ID, testUser)
		require.NoError(t, err)
		_, err = f.service.CancelBooking(ctx, b.ID, testUser)
		require.Error(t, err)
		assert.Equal(t, domain.KindAlreadyCancelled, domain.KindOf(err))
		assert.Equal(t, 0, f.committed(t, "2026-10-18"))
	})

	t.Run("journey elapsed", func(t *testing.T) {
		f := newFixture(t, nil)
		b := f.book(t, "2026-10-11", 1)

		f.clock.Set(testNow.AddDate(0, 0, 2))
		_, err := f.service.CancelBooking(ctx, b.ID, testUser)
		require.Error(t, err)
		assert.Equal(t, domain.KindJourneyElapsed, domain.KindOf(err))
		assert.Equal(t, 1, f.committed(t, "2026-10-11"))
	})

	t.Run("other user", func(t *testing.T) {
		f := newFixture(t, nil)
		b := f.book(t, "2026-10-18", 1)

		_, err := f.service.CancelBooking(ctx, b.ID, otherUser)
		require.Error(t, err)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

		_, err = f.service.GetBooking(ctx, b.ID, otherUser)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
		_, err = f.service.GetBookingByPNR(ctx, b.PNR, otherUser)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})

	t.Run("unknown booking", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.service.CancelBooking(ctx, "missing", testUser)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})

	t.Run("completed booking", func(t *testing.T) {
		f := newFixture(t, nil)
		b := f.book(t, "2026-10-11", 1)
		f.clock.Set(testNow.AddDate(0, 0, 2))
		_, err := f.service.CompleteBooking(ctx, b.ID, testUser)
		require.NoError(t, err)

		_, err = f.service.CancelBooking(ctx, b.ID, testUser)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrBookingTransition)
	})
}

func TestCancelBooking_ConcurrentCancelsReleaseOnce(t *testing.T) {
	f := newFixture(t, func(cfg *BookingServiceConfig, _ *BookingServiceDeps) {
		cfg.MaxAttempts = 20
	})
	b := f.book(t, "2026-10-18", 3)
	f.book(t, "2026-10-18", 2)

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.CancelBooking(context.Background(), b.ID, testUser); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, 2, f.committed(t, "2026-10-18"))
	assert.Equal(t, 2, f.store.Committed(bucketKey(t, "2026-10-18")))
}

func TestCancelBooking_UnderflowClampedAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := newFixture(t, func(_ *BookingServiceConfig, deps *BookingServiceDeps) {
		deps.Logger = &logger.Logger{Logger: zap.New(core)}
	})
	ctx := context.Background()

	f.book(t, "2026-10-18", 1)

	// written around the bucket, so the bucket holds fewer seats than it returns
	drifted := sampleBooking()
	require.NoError(t, f.store.Create(ctx, drifted))

	resp, err := f.service.CancelBooking(ctx, drifted.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", resp.Booking.Status)
	assert.Equal(t, 0, f.committed(t, "2026-10-18"))

	entries := logs.FilterMessage("Inventory bucket underflow clamped at zero").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, bucketKey(t, "2026-10-18").String(), fields["bucket"])
	assert.Equal(t, int64(-2), fields["delta"])

	pending, err := f.store.ListPendingReleases(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpdatePassengerStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2026-10-18", 2)

	resp, err := f.service.UpdatePassengerStatus(ctx, b.ID, testUser, 0, "Waiting")
	require.NoError(t, err)
	assert.Equal(t, "Waiting", resp.Passengers[0].TicketStatus)
	assert.Equal(t, "Confirmed", resp.Passengers[1].TicketStatus)
	f.eventually(t, domain.BookingEventPassengerChanged)

	resp, err = f.service.UpdatePassengerStatus(ctx, b.ID, testUser, 0, "RAC")
	require.NoError(t, err)
	assert.Equal(t, "RAC", resp.Passengers[0].TicketStatus)

	resp, err = f.service.UpdatePassengerStatus(ctx, b.ID, testUser, 0, "Cancelled")
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", resp.Passengers[0].TicketStatus)

	// a cancelled passenger keeps the seat counted
	assert.Equal(t, 2, f.committed(t, "2026-10-18"))

	// same status is a no-op
	_, err = f.service.UpdatePassengerStatus(ctx, b.ID, testUser, 1, "Confirmed")
	require.NoError(t, err)

	tests := []struct {
		name   string
		index  int
		status string
		kind   domain.ErrorKind
	}{
		{name: "cancelled passenger", index: 0, status: "Confirmed", kind: domain.KindAlreadyCancelled},
		{name: "index out of range", index: 2, status: "Waiting", kind: domain.KindNotFound},
		{name: "negative index", index: -1, status: "Waiting", kind: domain.KindNotFound},
		{name: "unknown status", index: 1, status: "Boarded", kind: domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.UpdatePassengerStatus(ctx, b.ID, testUser, tt.index, tt.status)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}

	_, err = f.service.CancelBooking(ctx, b.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, f.committed(t, "2026-10-18"))

	_, err = f.service.UpdatePassengerStatus(ctx, b.ID, testUser, 1, "Waiting")
	assert.Equal(t, domain.KindAlreadyCancelled, domain.KindOf(err))
}

func TestUpdatePaymentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("transitions", func(t *testing.T) {
		f := newFixture(t, nil)
		b := f.book(t, "2026-10-18", 1)

		resp, err := f.service.UpdatePaymentStatus(ctx, b.ID, testUser, "Failed")
		require.NoError(t, err)
		assert.Equal(t, "Failed", resp.PaymentStatus)

		resp, err = f.service.UpdatePaymentStatus(ctx, b.ID, testUser, "Pending")
		require.NoError(t, err)
		assert.Equal(t, "Pending", resp.PaymentStatus)

		_, err = f.service.UpdatePaymentStatus(ctx, b.ID, testUser, "Refunded")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrPaymentTransition)

		_, err = f.service.UpdatePaymentStatus(ctx, b.ID, testUser, "Paid")
		assert.ErrorIs(t, err, domain.ErrInvalidPaymentStatus)

		resp, err = f.service.UpdatePaymentStatus(ctx, b.ID, testUser, "Completed")
		require.NoError(t, err)
		assert.Equal(t, "Completed", resp.PaymentStatus)
		f.eventually(t, domain.BookingEventPaymentStatusChanged)
	})

	t.Run("refund after cancellation settles the refund", func(t *testing.T) {
		f := newFixture(t, nil)
		b := f.book(t, "2026-10-18", 1)

		_, err := f.service.UpdatePaymentStatus(ctx, b.ID, testUser, "Completed")
		require.NoError(t, err)
		_, err = f.service.CancelBooking(ctx, b.ID, testUser)
		require.NoError(t, err)

		resp, err := f.service.UpdatePaymentStatus(ctx, b.ID, testUser, "Refunded")
		require.NoError(t, err)
		assert.Equal(t, "Refunded", resp.PaymentStatus)
		require.NotNil(t, resp.Cancellation)
		assert.Equal(t, "Completed", resp.Cancellation.RefundStatus)
		f.eventually(t, domain.BookingEventRefundSettled)

		_, err = f.service.SettleRefund(ctx, b.ID, testUser)
		assert.ErrorIs(t, err, domain.ErrNoPendingRefund)
	})

	t.Run("cancelled booking rejects other payment changes", func(t *testing.T) {
		f := newFixture(t, nil)
		b := f.book(t, "2026-10-18", 1)
		_, err := f.service.CancelBooking(ctx, b.ID, testUser)
		require.NoError(t, err)

		_, err = f.service.UpdatePaymentStatus(ctx, b.ID, testUser, "Completed")
		require.Error(t, err)
		assert.Equal(t, domain.KindAlreadyCancelled, domain.KindOf(err))
	})
}

func TestSettleRefund(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2026-10-15", 2)

	_, err := f.service.SettleRefund(ctx, b.ID, testUser)
	assert.ErrorIs(t, err, domain.ErrNoPendingRefund)

	_, err = f.service.CancelBooking(ctx, b.ID, testUser)
	require.NoError(t, err)

	resp, err := f.service.SettleRefund(ctx, b.ID, testUser)
	require.NoError(t, err)
	require.NotNil(t, resp.Cancellation)
	assert.Equal(t, "Completed", resp.Cancellation.RefundStatus)
	assert.Equal(t, int64(1320), resp.Cancellation.RefundAmount)

	_, err = f.service.SettleRefund(ctx, b.ID, testUser)
	assert.ErrorIs(t, err, domain.ErrNoPendingRefund)
}

func TestCompleteBooking(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2026-10-11", 2)

	_, err := f.service.CompleteBooking(ctx, b.ID, testUser)
	assert.ErrorIs(t, err, domain.ErrJourneyNotElapsed)

	f.clock.Set(testNow.AddDate(0, 0, 2))
	resp, err := f.service.CompleteBooking(ctx, b.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, "Completed", resp.Status)
	f.eventually(t, domain.BookingEventCompleted)

	// completing again changes nothing
	resp, err = f.service.CompleteBooking(ctx, b.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, "Completed", resp.Status)

	// travelled seats stay counted
	assert.Equal(t, 2, f.committed(t, "2026-10-11"))

	cancelled := f.book(t, "2026-10-18", 1)
	_, err = f.service.CancelBooking(ctx, cancelled.ID, testUser)
	require.NoError(t, err)
	_, err = f.service.CompleteBooking(ctx, cancelled.ID, testUser)
	assert.Equal(t, domain.KindAlreadyCancelled, domain.KindOf(err))
}

func TestGetAvailability(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.book(t, "2026-10-18", 4)

	avail, err := f.service.GetAvailability(ctx, "12951", "SL", "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 72, avail.Capacity)
	assert.Equal(t, 4, avail.Committed)
	assert.Equal(t, 68, avail.Remaining)

	avail, err = f.service.GetAvailability(ctx, "12951", "3A", "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 64, avail.Remaining)

	_, err = f.service.GetAvailability(ctx, "12951", "1A", "2026-10-18")
	assert.Equal(t, domain.KindClassNotOffered, domain.KindOf(err))
	_, err = f.service.GetAvailability(ctx, "00000", "SL", "2026-10-18")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	_, err = f.service.GetAvailability(ctx, "12951", "SL", "tomorrow")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestListUserBookings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.book(t, "2026-10-18", 1)
		f.clock.Set(f.clock.Now().Add(time.Minute))
	}
	_, err := f.service.CreateBooking(ctx, otherUser, request("2026-10-18", 1))
	require.NoError(t, err)

	page, err := f.service.ListUserBookings(ctx, testUser, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	rest, err := f.service.ListUserBookings(ctx, testUser, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	_, err = f.service.ListUserBookings(ctx, "", 10, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
}

func TestCreateAndCancel_BucketMatchesBookings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := bucketKey(t, "2026-10-18")

	var ids []string
	for n := 1; n <= 6; n++ {
		ids = append(ids, f.book(t, "2026-10-18", n).ID)
	}
	for i, id := range ids {
		if i%2 == 0 {
			_, err := f.service.CancelBooking(ctx, id, testUser)
			require.NoError(t, err)
		}
		assert.Equal(t, f.store.Committed(key), f.committed(t, "2026-10-18"))
	}
	// 2 + 4 + 6 remain live
	assert.Equal(t, 12, f.committed(t, "2026-10-18"))
}

func TestNewBookingService_Config(t *testing.T) {
	store := repository.NewMemoryStore()
	deps := BookingServiceDeps{Catalog: store, Users: store, Inventory: store, Bookings: store}

	_, err := NewBookingService(deps, &BookingServiceConfig{Strategy: "optimistic"})
	assert.Error(t, err)

	_, err = NewBookingService(deps, &BookingServiceConfig{Strategy: StrategyTwoPhase})
	assert.Error(t, err, "two-phase needs a ledger")

	_, err = NewBookingService(BookingServiceDeps{Catalog: store, Users: store}, nil)
	assert.Error(t, err)

	svc, err := NewBookingService(deps, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}
