package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service wraps exactly one of these.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidRoute      = errors.New("invalid route")
	ErrClassNotOffered   = errors.New("class not offered on this train")
	ErrFareMismatch      = errors.New("declared fare does not match computed fare")
	ErrInsufficientSeats = errors.New("insufficient seats available")
	ErrContention        = errors.New("inventory is busy, retry the request")
	ErrAlreadyCancelled  = errors.New("already cancelled")
	ErrJourneyElapsed    = errors.New("journey date has passed")
	ErrInternal          = errors.New("internal error")
)

// Validation errors
var (
	ErrInvalidUserID         = fmt.Errorf("%w: user id is required", ErrValidation)
	ErrInvalidTrainID        = fmt.Errorf("%w: train id is required", ErrValidation)
	ErrInvalidStation        = fmt.Errorf("%w: from and to station codes are required", ErrValidation)
	ErrInvalidClass          = fmt.Errorf("%w: class code is required", ErrValidation)
	ErrInvalidJourneyDate    = fmt.Errorf("%w: journey date must be YYYY-MM-DD", ErrValidation)
	ErrInvalidDeclaredFare   = fmt.Errorf("%w: declared total fare cannot be negative", ErrValidation)
	ErrMissingDeclaredFare   = fmt.Errorf("%w: declared total fare is required", ErrValidation)
	ErrPassengerCount        = fmt.Errorf("%w: passenger count out of range", ErrValidation)
	ErrPassengerNameTooShort = fmt.Errorf("%w: passenger name must have at least 3 characters", ErrValidation)
	ErrPassengerAge          = fmt.Errorf("%w: passenger age must be between 1 and 120", ErrValidation)
	ErrPassengerGender       = fmt.Errorf("%w: passenger gender must be Male, Female or Other", ErrValidation)
	ErrBerthPreference       = fmt.Errorf("%w: berth preference not available for this class", ErrValidation)
	ErrTrainInactive         = fmt.Errorf("%w: train is not active", ErrValidation)
	ErrPastJourneyDate       = fmt.Errorf("%w: journey date is in the past", ErrValidation)
	ErrNotOperatingDay       = fmt.Errorf("%w: train does not run on the journey date", ErrValidation)
	ErrInvalidTicketStatus   = fmt.Errorf("%w: invalid ticket status", ErrValidation)
	ErrInvalidPaymentStatus  = fmt.Errorf("%w: invalid payment status", ErrValidation)
	ErrPaymentTransition     = fmt.Errorf("%w: payment status transition not allowed", ErrValidation)
	ErrBookingTransition     = fmt.Errorf("%w: booking status transition not allowed", ErrValidation)
	ErrJourneyNotElapsed     = fmt.Errorf("%w: journey has not happened yet", ErrValidation)
	ErrNoPendingRefund       = fmt.Errorf("%w: booking has no pending refund", ErrValidation)
)

// Not found errors
var (
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrTrainNotFound     = fmt.Errorf("train %w", ErrNotFound)
	ErrBookingNotFound   = fmt.Errorf("booking %w", ErrNotFound)
	ErrPassengerNotFound = fmt.Errorf("passenger %w", ErrNotFound)
)

// Cancellation errors
var (
	ErrBookingCancelled   = fmt.Errorf("booking %w", ErrAlreadyCancelled)
	ErrPassengerCancelled = fmt.Errorf("passenger %w", ErrAlreadyCancelled)
)

// Storage-level conflicts. Both are retried by the workflow and never reach callers.
var (
	ErrVersionConflict = errors.New("inventory bucket version conflict")
	ErrDuplicatePNR    = errors.New("booking reference already exists")
)

// InsufficientSeatsError reports how many seats were left when a reservation failed
type InsufficientSeatsError struct {
	Requested int
	Remaining int
}

func (e *InsufficientSeatsError) Error() string {
	return fmt.Sprintf("%s: requested %d, remaining %d", ErrInsufficientSeats, e.Requested, e.Remaining)
}

func (e *InsufficientSeatsError) Unwrap() error {
	return ErrInsufficientSeats
}

// NewInsufficientSeatsError clamps remaining at zero
func NewInsufficientSeatsError(requested, remaining int) *InsufficientSeatsError {
	if remaining < 0 {
		remaining = 0
	}
	return &InsufficientSeatsError{Requested: requested, Remaining: remaining}
}

// ErrorKind is the closed set of failure categories exposed to callers
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidRoute      ErrorKind = "INVALID_ROUTE"
	KindClassNotOffered   ErrorKind = "CLASS_NOT_OFFERED"
	KindFareMismatch      ErrorKind = "FARE_MISMATCH"
	KindInsufficientSeats ErrorKind = "INSUFFICIENT_SEATS"
	KindContention        ErrorKind = "CONTENTION"
	KindAlreadyCancelled  ErrorKind = "ALREADY_CANCELLED"
	KindJourneyElapsed    ErrorKind = "JOURNEY_ELAPSED"
	KindInternal          ErrorKind = "INTERNAL_ERROR"
)

var kindSentinels = []struct {
	err  error
	kind ErrorKind
}{
	{ErrValidation, KindValidation},
	{ErrNotFound, KindNotFound},
	{ErrInvalidRoute, KindInvalidRoute},
	{ErrClassNotOffered, KindClassNotOffered},
	{ErrFareMismatch, KindFareMismatch},
	{ErrInsufficientSeats, KindInsufficientSeats},
	{ErrContention, KindContention},
	{ErrAlreadyCancelled, KindAlreadyCancelled},
	{ErrJourneyElapsed, KindJourneyElapsed},
}

// KindOf classifies err. Anything unrecognised is Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindInternal
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflictError checks if the error reflects a state conflict the caller must resolve
func IsConflictError(err error) bool {
	return errors.Is(err, ErrFareMismatch) ||
		errors.Is(err, ErrInsufficientSeats) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrJourneyElapsed)
}

// IsRetryableError reports errors that a fresh attempt may resolve
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrDuplicatePNR) ||
		errors.Is(err, ErrContention)
}

// RemainingSeats extracts the remaining count from an InsufficientSeatsError
func RemainingSeats(err error) (int, bool) {
	var ise *InsufficientSeatsError
	if errors.As(err, &ise) {
		return ise.Remaining, true
	}
	return 0, false
}
