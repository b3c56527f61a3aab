package dto

import (
	"time"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

// PassengerRequest is one traveller in a create request
type PassengerRequest struct {
	Name            string `json:"name"`
	Age             int    `json:"age"`
	Gender          string `json:"gender"`
	BerthPreference string `json:"berth_preference,omitempty"`
}

// CreateBookingRequest is the body of POST /bookings. Field rules beyond
// presence are enforced by the service so every failure carries a domain kind.
type CreateBookingRequest struct {
	TrainID           string             `json:"train_id" binding:"required"`
	FromStationCode   string             `json:"from_station_code" binding:"required"`
	ToStationCode     string             `json:"to_station_code" binding:"required"`
	JourneyDate       string             `json:"journey_date" binding:"required"`
	ClassCode         string             `json:"class_code" binding:"required"`
	Passengers        []PassengerRequest `json:"passengers"`
	// DeclaredTotalFare is a pointer so an omitted fare is told apart from 0
	DeclaredTotalFare *int64 `json:"declared_total_fare" binding:"required"`
}

// UpdatePassengerStatusRequest is the body of PATCH /bookings/:id/passengers/:index/status
type UpdatePassengerStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdatePaymentStatusRequest is the body of PATCH /bookings/:id/payment-status
type UpdatePaymentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ListBookingsQuery binds GET /bookings query parameters
type ListBookingsQuery struct {
	Limit  int `form:"limit,default=20" binding:"min=1,max=100"`
	Offset int `form:"offset,default=0" binding:"min=0"`
}

// AvailabilityQuery binds GET /trains/:id/availability
type AvailabilityQuery struct {
	Class string `form:"class" binding:"required"`
	Date  string `form:"date" binding:"required"`
}

// PassengerResponse is a passenger in API responses
type PassengerResponse struct {
	Index           int    `json:"index"`
	Name            string `json:"name"`
	Age             int    `json:"age"`
	Gender          string `json:"gender"`
	BerthPreference string `json:"berth_preference,omitempty"`
	TicketStatus    string `json:"ticket_status"`
}

// StationResponse is a station snapshot in API responses
type StationResponse struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
	DayOffset     int    `json:"day_offset"`
	Platform      string `json:"platform,omitempty"`
}

// CancellationResponse is the cancellation record in API responses
type CancellationResponse struct {
	CancelledAt  time.Time `json:"cancelled_at"`
	RefundAmount int64     `json:"refund_amount"`
	RefundStatus string    `json:"refund_status"`
}

// BookingResponse represents a booking in API response
type BookingResponse struct {
	ID            string                `json:"id"`
	PNR           string                `json:"pnr"`
	UserID        string                `json:"user_id"`
	TrainID       string                `json:"train_id"`
	TrainNumber   string                `json:"train_number"`
	TrainName     string                `json:"train_name"`
	From          StationResponse       `json:"from"`
	To            StationResponse       `json:"to"`
	JourneyDate   string                `json:"journey_date"`
	ClassCode     string                `json:"class_code"`
	Passengers    []PassengerResponse   `json:"passengers"`
	TotalFare     int64                 `json:"total_fare"`
	Status        string                `json:"status"`
	PaymentStatus string                `json:"payment_status"`
	Cancellation  *CancellationResponse `json:"cancellation,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

// CancelBookingResponse is returned by POST /bookings/:id/cancel
type CancelBookingResponse struct {
	Booking      *BookingResponse `json:"booking"`
	RefundAmount int64            `json:"refund_amount"`
	RefundStatus string           `json:"refund_status"`
}

// AvailabilityResponse reports remaining seats for a bucket
type AvailabilityResponse struct {
	TrainID     string `json:"train_id"`
	ClassCode   string `json:"class_code"`
	JourneyDate string `json:"journey_date"`
	Capacity    int    `json:"capacity"`
	Committed   int    `json:"committed"`
	Remaining   int    `json:"remaining"`
}

// ToPassengers converts request passengers to domain passengers
func (r *CreateBookingRequest) ToPassengers() []domain.Passenger {
	passengers := make([]domain.Passenger, len(r.Passengers))
	for i, p := range r.Passengers {
		passengers[i] = domain.Passenger{
			Name:            p.Name,
			Age:             p.Age,
			Gender:          domain.Gender(p.Gender),
			BerthPreference: domain.BerthPreference(p.BerthPreference),
		}
	}
	return passengers
}

// FromDomain converts domain Booking to BookingResponse
func FromDomain(b *domain.Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:            b.ID,
		PNR:           b.PNR,
		UserID:        b.UserID,
		TrainID:       b.TrainID,
		TrainNumber:   b.TrainNumber,
		TrainName:     b.TrainName,
		From:          stationFromDomain(b.From),
		To:            stationFromDomain(b.To),
		JourneyDate:   b.JourneyDate.Format(domain.DateLayout),
		ClassCode:     b.ClassCode,
		Passengers:    make([]PassengerResponse, len(b.Passengers)),
		TotalFare:     b.TotalFare,
		Status:        b.Status.String(),
		PaymentStatus: b.PaymentStatus.String(),
		CreatedAt:     b.CreatedAt,
	}
	for i, p := range b.Passengers {
		resp.Passengers[i] = PassengerResponse{
			Index:           i,
			Name:            p.Name,
			Age:             p.Age,
			Gender:          string(p.Gender),
			BerthPreference: string(p.BerthPreference),
			TicketStatus:    p.TicketStatus.String(),
		}
	}
	if b.Cancellation != nil {
		resp.Cancellation = &CancellationResponse{
			CancelledAt:  b.Cancellation.CancelledAt,
			RefundAmount: b.Cancellation.RefundAmount,
			RefundStatus: string(b.Cancellation.RefundStatus),
		}
	}
	return resp
}

// FromDomainList converts a slice of bookings
func FromDomainList(bookings []*domain.Booking) []*BookingResponse {
	out := make([]*BookingResponse, len(bookings))
	for i, b := range bookings {
		out[i] = FromDomain(b)
	}
	return out
}

// AvailabilityFromDomain converts an availability summary
func AvailabilityFromDomain(a *domain.Availability) *AvailabilityResponse {
	return &AvailabilityResponse{
		TrainID:     a.Key.TrainID,
		ClassCode:   a.Key.ClassCode,
		JourneyDate: a.Key.JourneyDate.Format(domain.DateLayout),
		Capacity:    a.Capacity,
		Committed:   a.Committed,
		Remaining:   a.Remaining,
	}
}

func stationFromDomain(s domain.StationSnapshot) StationResponse {
	return StationResponse{
		Code:          s.Code,
		Name:          s.Name,
		ScheduledTime: s.ScheduledTime,
		DayOffset:     s.DayOffset,
		Platform:      s.Platform,
	}
}
