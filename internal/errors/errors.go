package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. Every APIError carries exactly one of these.
const (
	CodeGuardFailed         = "guard_failed"
	CodeNotFound            = "not_found"
	CodeValidation          = "validation_error"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeInternal            = "internal_error"
	CodeRateLimited         = "rate_limit_exceeded"
	CodeIdempotency         = "idempotency_conflict"
)

// Guard reasons returned with CodeGuardFailed.
const (
	ReasonRideUnavailable     = "ride_unavailable"
	ReasonAlreadyHandled      = "already_handled"
	ReasonIncorrectCode       = "incorrect_code"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonInvalidTransition   = "invalid_transition"
	ReasonNotRideDriver       = "not_ride_driver"
	ReasonNotRideClient       = "not_ride_client"
	ReasonOfferUnavailable    = "offer_unavailable"
	ReasonOfferAlreadyPending = "offer_already_pending"
	ReasonDriverOffline       = "driver_offline"
	ReasonDriverBusy          = "driver_busy"
	ReasonOutsideServiceArea  = "outside_service_area"
)

// Sentinel errors
var (
	ErrNotFound    = errors.New("resource not found")
	ErrBadRequest  = errors.New("bad request")
	ErrUpstream    = errors.New("upstream unavailable")
	ErrGuardFailed = errors.New("guard failed")
)

// APIError represents a structured API error
type APIError struct {
	Code       string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	cause      error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the taxonomy sentinel first so errors.Is works on the kind,
// then the underlying cause.
func (e *APIError) Unwrap() []error {
	var errs []error
	switch e.Code {
	case CodeGuardFailed:
		errs = append(errs, ErrGuardFailed)
	case CodeNotFound:
		errs = append(errs, ErrNotFound)
	case CodeValidation:
		errs = append(errs, ErrBadRequest)
	case CodeUpstreamUnavailable:
		errs = append(errs, ErrUpstream)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// NewAPIError creates a new API error
func NewAPIError(code, message string, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Guard builds a guard failure with a machine reason and a short user-facing message.
func Guard(reason, message string) *APIError {
	status := http.StatusConflict
	if reason == ReasonInsufficientBalance {
		status = http.StatusPaymentRequired
	}
	return &APIError{
		Code:       CodeGuardFailed,
		Reason:     reason,
		Message:    message,
		StatusCode: status,
	}
}

// Common API errors
func NotFound(resource string) *APIError {
	return NewAPIError(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func Validation(message string) *APIError {
	return NewAPIError(CodeValidation, message, http.StatusBadRequest)
}

func BadRequest(message string) *APIError {
	return Validation(message)
}

func Upstream(service string, cause error) *APIError {
	e := NewAPIError(CodeUpstreamUnavailable, fmt.Sprintf("%s unavailable", service), http.StatusServiceUnavailable)
	e.cause = cause
	return e
}

func InternalError(message string) *APIError {
	return NewAPIError(CodeInternal, message, http.StatusInternalServerError)
}

func RateLimited() *APIError {
	return NewAPIError(CodeRateLimited, "too many requests, please try again later", http.StatusTooManyRequests)
}

func IdempotencyConflict() *APIError {
	return NewAPIError(CodeIdempotency, "idempotency key already used with different request", http.StatusConflict)
}

func RideUnavailable() *APIError {
	return Guard(ReasonRideUnavailable, "ride no longer available")
}

func AlreadyHandled() *APIError {
	return Guard(ReasonAlreadyHandled, "ride already handled")
}

func IncorrectCode() *APIError {
	return Guard(ReasonIncorrectCode, "incorrect code")
}

func InsufficientBalance() *APIError {
	return Guard(ReasonInsufficientBalance, "insufficient balance")
}

func InvalidTransition(from, to string) *APIError {
	return Guard(ReasonInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", from, to))
}

func NotRideDriver() *APIError {
	return Guard(ReasonNotRideDriver, "ride is not assigned to this driver")
}

func NotRideClient() *APIError {
	return Guard(ReasonNotRideClient, "ride does not belong to this client")
}

func OfferUnavailable() *APIError {
	return Guard(ReasonOfferUnavailable, "counter-offer no longer available")
}

func OfferAlreadyPending() *APIError {
	return Guard(ReasonOfferAlreadyPending, "you already have a pending counter-offer on this ride")
}

func DriverOffline() *APIError {
	return Guard(ReasonDriverOffline, "driver is offline")
}

func DriverBusy() *APIError {
	return Guard(ReasonDriverBusy, "driver already has an active ride")
}

func OutsideServiceArea() *APIError {
	return Guard(ReasonOutsideServiceArea, "ride is outside your service area")
}

// IsGuardFailed reports whether err is an expected business-rule outcome.
func IsGuardFailed(err error) bool {
	return errors.Is(err, ErrGuardFailed)
}

// ReasonOf returns the guard reason carried by err, or "".
func ReasonOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}
	return ""
}

// As extracts an APIError from err.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
