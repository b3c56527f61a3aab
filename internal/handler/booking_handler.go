package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/internal/dto"
	"github.com/prohmpiriya/rail-reservation/internal/service"
	"github.com/prohmpiriya/rail-reservation/pkg/middleware"
	"github.com/prohmpiriya/rail-reservation/pkg/response"
	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

// BookingHandler handles booking HTTP requests. Every route runs behind
// middleware.Auth, which supplies the caller's user id.
type BookingHandler struct {
	bookingService service.BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookingService service.BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// RegisterRoutes mounts the booking and availability routes on an authenticated group.
// create receives extra middleware for POST /bookings, such as idempotency.
func (h *BookingHandler) RegisterRoutes(rg *gin.RouterGroup, create ...gin.HandlerFunc) {
	bookings := rg.Group("/bookings")
	{
		bookings.POST("", append(create, h.CreateBooking)...)
		bookings.GET("", h.ListBookings)
		bookings.GET("/pnr/:pnr", h.GetBookingByPNR)
		bookings.GET("/:id", h.GetBooking)
		bookings.POST("/:id/cancel", h.CancelBooking)
		bookings.PATCH("/:id/passengers/:index/status", h.UpdatePassengerStatus)
		bookings.PATCH("/:id/payment-status", h.UpdatePaymentStatus)
		bookings.POST("/:id/refund/settle", h.SettleRefund)
		bookings.POST("/:id/complete", h.CompleteBooking)
	}

	rg.GET("/trains/:id/availability", h.GetAvailability)
}

// begin opens the handler span and resolves the caller
func (h *BookingHandler) begin(c *gin.Context, name string) (trace.Span, string, bool) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), name)
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "authentication required")
		return span, "", false
	}
	span.SetAttributes(attribute.String("user_id", userID))
	return span, userID, true
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	span, userID, ok := h.begin(c, "handler.booking.create")
	defer span.End()
	if !ok {
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, string(domain.KindValidation), "invalid request body", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("train_id", req.TrainID),
		attribute.String("class", req.ClassCode),
		attribute.String("journey_date", req.JourneyDate),
		attribute.Int("passengers", len(req.Passengers)),
	)

	result, err := h.bookingService.CreateBooking(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("pnr", result.PNR))
	span.SetStatus(codes.Ok, "")
	response.Created(c, result)
}

// ListBookings handles GET /bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	span, userID, ok := h.begin(c, "handler.booking.list")
	defer span.End()
	if !ok {
		return
	}

	var query dto.ListBookingsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		span.RecordError(err)
		response.Error(c, http.StatusBadRequest, string(domain.KindValidation), "invalid query parameters", err.Error())
		return
	}

	result, err := h.bookingService.ListUserBookings(c.Request.Context(), userID, query.Limit, query.Offset)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.SuccessWithMeta(c, result, response.PageMeta{
		Limit:  query.Limit,
		Offset: query.Offset,
		Count:  len(result),
	})
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	span, userID, ok := h.begin(c, "handler.booking.get")
	defer span.End()
	if !ok {
		return
	}

	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	result, err := h.bookingService.GetBooking(c.Request.Context(), bookingID, userID)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// GetBookingByPNR handles GET /bookings/pnr/:pnr
func (h *BookingHandler) GetBookingByPNR(c *gin.Context) {
	span, userID, ok := h.begin(c, "handler.booking.get_by_pnr")
	defer span.End()
	if !ok {
		return
	}

	pnr := c.Param("pnr")
	span.SetAttributes(attribute.String("pnr", pnr))

	result, err := h.bookingService.GetBookingByPNR(c.Request.Context(), pnr, userID)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// CancelBooking handles POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	span, userID, ok := h.begin(c, "handler.booking.cancel")
	defer span.End()
	if !ok {
		return
	}

	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	result, err := h.bookingService.CancelBooking(c.Request.Context(), bookingID, userID)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetAttributes(attribute.Int64("refund_amount", result.RefundAmount))
	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// UpdatePassengerStatus handles PATCH /bookings/:id/passengers/:index/status
func (h *BookingHandler) UpdatePassengerStatus(c *gin.Context) {
	span, userID, ok := h.begin(c, "handler.booking.update_passenger_status")
	defer span.End()
	if !ok {
		return
	}

	bookingID := c.Param("id")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		span.RecordError(err)
		response.Error(c, http.StatusBadRequest, string(domain.KindValidation), "passenger index must be an integer", nil)
		return
	}

	var req dto.UpdatePassengerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		response.Error(c, http.StatusBadRequest, string(domain.KindValidation), "invalid request body", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.Int("passenger_index", index),
		attribute.String("status", req.Status),
	)

	result, err := h.bookingService.UpdatePassengerStatus(c.Request.Context(), bookingID, userID, index, req.Status)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// UpdatePaymentStatus handles PATCH /bookings/:id/payment-status
func (h *BookingHandler) UpdatePaymentStatus(c *gin.Context) {
	span, userID, ok := h.begin(c, "handler.booking.update_payment_status")
	defer span.End()
	if !ok {
		return
	}

	bookingID := c.Param("id")

	var req dto.UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		response.Error(c, http.StatusBadRequest, string(domain.KindValidation), "invalid request body", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("status", req.Status),
	)

	result, err := h.bookingService.UpdatePaymentStatus(c.Request.Context(), bookingID, userID, req.Status)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// SettleRefund handles POST /bookings/:id/refund/settle
func (h *BookingHandler) SettleRefund(c *gin.Context) {
	span, userID, ok := h.begin(c, "handler.booking.settle_refund")
	defer span.End()
	if !ok {
		return
	}

	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	result, err := h.bookingService.SettleRefund(c.Request.Context(), bookingID, userID)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// CompleteBooking handles POST /bookings/:id/complete
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	span, userID, ok := h.begin(c, "handler.booking.complete")
	defer span.End()
	if !ok {
		return
	}

	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	result, err := h.bookingService.CompleteBooking(c.Request.Context(), bookingID, userID)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// GetAvailability handles GET /trains/:id/availability
func (h *BookingHandler) GetAvailability(c *gin.Context) {
	span, _, ok := h.begin(c, "handler.availability.get")
	defer span.End()
	if !ok {
		return
	}

	var query dto.AvailabilityQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		span.RecordError(err)
		response.Error(c, http.StatusBadRequest, string(domain.KindValidation), "class and date are required", err.Error())
		return
	}

	trainID := c.Param("id")
	span.SetAttributes(
		attribute.String("train_id", trainID),
		attribute.String("class", query.Class),
		attribute.String("journey_date", query.Date),
	)

	result, err := h.bookingService.GetAvailability(c.Request.Context(), trainID, query.Class, query.Date)
	if err != nil {
		h.handleError(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// handleError maps an error kind to its HTTP status. Internal errors are
// reported with a generic message.
func (h *BookingHandler) handleError(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation:
		response.Error(c, http.StatusBadRequest, string(kind), err.Error(), nil)
	case domain.KindNotFound:
		response.Error(c, http.StatusNotFound, string(kind), err.Error(), nil)
	case domain.KindInvalidRoute, domain.KindClassNotOffered:
		response.Error(c, http.StatusUnprocessableEntity, string(kind), err.Error(), nil)
	case domain.KindInsufficientSeats:
		remaining, _ := domain.RemainingSeats(err)
		response.Error(c, http.StatusConflict, string(kind), err.Error(), gin.H{"remaining_seats": remaining})
	case domain.KindFareMismatch, domain.KindAlreadyCancelled, domain.KindJourneyElapsed:
		response.Error(c, http.StatusConflict, string(kind), err.Error(), nil)
	case domain.KindContention:
		c.Header("Retry-After", "1")
		response.Error(c, http.StatusServiceUnavailable, string(kind), err.Error(), gin.H{"retryable": true})
	default:
		response.InternalError(c)
	}
}
