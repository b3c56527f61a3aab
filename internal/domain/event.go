package domain

import (
	"time"
)

// BookingEventType identifies a booking lifecycle event
type BookingEventType string

const (
	BookingEventCreated              BookingEventType = "booking.created"
	BookingEventCancelled            BookingEventType = "booking.cancelled"
	BookingEventCompleted            BookingEventType = "booking.completed"
	BookingEventPassengerChanged     BookingEventType = "booking.passenger_status_changed"
	BookingEventPaymentStatusChanged BookingEventType = "booking.payment_status_changed"
	BookingEventRefundSettled        BookingEventType = "booking.refund_settled"
)

// BookingEvent is the payload published for every booking state change
type BookingEvent struct {
	EventID     string           `json:"event_id"`
	EventType   BookingEventType `json:"event_type"`
	OccurredAt  time.Time        `json:"occurred_at"`
	BookingID   string           `json:"booking_id"`
	PNR         string           `json:"pnr"`
	UserID      string           `json:"user_id"`
	TrainID     string           `json:"train_id"`
	ClassCode   string           `json:"class_code"`
	JourneyDate string           `json:"journey_date"`
	Seats       int              `json:"seats"`
	TotalFare   int64            `json:"total_fare"`
	Status      BookingStatus    `json:"status"`
	Payment     PaymentStatus    `json:"payment_status"`

	RefundAmount *int64 `json:"refund_amount,omitempty"`
	// Set on passenger status events
	PassengerIndex *int         `json:"passenger_index,omitempty"`
	TicketStatus   TicketStatus `json:"ticket_status,omitempty"`
}

// NewBookingEvent snapshots the booking into an event
func NewBookingEvent(eventType BookingEventType, booking *Booking, eventID string, at time.Time) *BookingEvent {
	e := &BookingEvent{
		EventID:     eventID,
		EventType:   eventType,
		OccurredAt:  at.UTC(),
		BookingID:   booking.ID,
		PNR:         booking.PNR,
		UserID:      booking.UserID,
		TrainID:     booking.TrainID,
		ClassCode:   booking.ClassCode,
		JourneyDate: booking.JourneyDate.Format(DateLayout),
		Seats:       booking.SeatCount(),
		TotalFare:   booking.TotalFare,
		Status:      booking.Status,
		Payment:     booking.PaymentStatus,
	}
	if booking.Cancellation != nil {
		amount := booking.Cancellation.RefundAmount
		e.RefundAmount = &amount
	}
	return e
}

// WithPassenger tags the event with the passenger it concerns
func (e *BookingEvent) WithPassenger(index int, status TicketStatus) *BookingEvent {
	e.PassengerIndex = &index
	e.TicketStatus = status
	return e
}

// Key partitions events by bucket so consumers see per-bucket order
func (e *BookingEvent) Key() string {
	return e.TrainID + ":" + e.ClassCode + ":" + e.JourneyDate
}
