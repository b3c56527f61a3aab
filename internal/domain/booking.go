package domain

import (
	"time"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "Confirmed"
	BookingStatusWaiting   BookingStatus = "Waiting"
	BookingStatusCancelled BookingStatus = "Cancelled"
	BookingStatusCompleted BookingStatus = "Completed"
)

// IsValid checks if the status is a valid BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusWaiting, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may move to next. Cancelled and Completed are terminal.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusConfirmed:
		return next == BookingStatusCancelled || next == BookingStatusCompleted
	case BookingStatusWaiting:
		return next == BookingStatusConfirmed || next == BookingStatusCancelled
	case BookingStatusCancelled, BookingStatusCompleted:
		return false
	}
	return false
}

// String returns the string representation of BookingStatus
func (s BookingStatus) String() string {
	return string(s)
}

// PaymentStatus is an opaque signal from the payment collaborator
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusFailed    PaymentStatus = "Failed"
	PaymentStatusRefunded  PaymentStatus = "Refunded"
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may move to next
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusCompleted || next == PaymentStatusFailed
	case PaymentStatusCompleted:
		return next == PaymentStatusRefunded
	case PaymentStatusFailed:
		return next == PaymentStatusPending
	case PaymentStatusRefunded:
		return false
	}
	return false
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// RefundStatus tracks settlement of a computed refund
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "Pending"
	RefundStatusCompleted RefundStatus = "Completed"
)

// IsValid checks if the status is a valid RefundStatus
func (s RefundStatus) IsValid() bool {
	return s == RefundStatusPending || s == RefundStatusCompleted
}

// StationSnapshot is a station copied onto a booking at creation time
type StationSnapshot struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
	DayOffset     int    `json:"day_offset"`
	Platform      string `json:"platform,omitempty"`
}

// CancellationRecord is attached when a booking is cancelled
type CancellationRecord struct {
	CancelledAt  time.Time    `json:"cancelled_at"`
	RefundAmount int64        `json:"refund_amount"`
	RefundStatus RefundStatus `json:"refund_status"`
	// SeatsReleased is false while the seats still count against the bucket
	SeatsReleased bool `json:"seats_released"`
}

// Booking is a confirmed claim on seats in one inventory bucket
type Booking struct {
	ID            string              `json:"id"`
	PNR           string              `json:"pnr"`
	UserID        string              `json:"user_id"`
	TrainID       string              `json:"train_id"`
	TrainNumber   string              `json:"train_number"`
	TrainName     string              `json:"train_name"`
	From          StationSnapshot     `json:"from"`
	To            StationSnapshot     `json:"to"`
	JourneyDate   time.Time           `json:"journey_date"`
	ClassCode     string              `json:"class_code"`
	Passengers    []Passenger         `json:"passengers"`
	TotalFare     int64               `json:"total_fare"`
	Status        BookingStatus       `json:"status"`
	PaymentStatus PaymentStatus       `json:"payment_status"`
	Cancellation  *CancellationRecord `json:"cancellation,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// SeatCount is the number of seats the booking holds in its bucket
func (b *Booking) SeatCount() int {
	return len(b.Passengers)
}

// BucketKey returns the inventory bucket this booking draws from
func (b *Booking) BucketKey() BucketKey {
	return NewBucketKey(b.TrainID, b.ClassCode, b.JourneyDate)
}

// IsCancelled checks if the booking is cancelled
func (b *Booking) IsCancelled() bool {
	return b.Status == BookingStatusCancelled
}

// IsOwnedBy checks if the booking belongs to the user
func (b *Booking) IsOwnedBy(userID string) bool {
	return b.UserID == userID
}

// Clone returns a deep copy so stores never share passenger slices with callers
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.Passengers = append([]Passenger(nil), b.Passengers...)
	if b.Cancellation != nil {
		rec := *b.Cancellation
		c.Cancellation = &rec
	}
	return &c
}
