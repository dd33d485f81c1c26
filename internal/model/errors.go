package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the checkout error taxonomy.
// Use errors.Is() to check against these.
var (
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrValidation            = errors.New("validation failed")
	ErrFetchFailed           = errors.New("fetch failed")
	ErrSaveFailed            = errors.New("save failed")
	ErrMissingPaymentDetails = errors.New("missing payment details")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrPaymentFailed         = errors.New("payment failed")
	ErrNotFound              = errors.New("not found")
	ErrUpstreamError         = errors.New("upstream error")
)

// APIError represents a structured, user-presentable error.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Fields     []string `json:"fields,omitempty"` // Offending fields for validation errors
	StatusCode int      `json:"-"`                // Backend HTTP status when known
	Err        error    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewUnauthenticatedError is returned when no session token is available
// or the backend rejects it. Always resolved by sending the user to login.
func NewUnauthenticatedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHENTICATED",
		Message:    reason,
		StatusCode: 401,
		Err:        ErrUnauthenticated,
	}
}

// NewValidationError reports missing or invalid client-side input.
// No network call is made when this error is returned.
func NewValidationError(reason string, fields ...string) *APIError {
	msg := reason
	if len(fields) > 0 {
		msg = fmt.Sprintf("%s: %s", reason, strings.Join(fields, ", "))
	}
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    msg,
		Fields:     fields,
		StatusCode: 400,
		Err:        ErrValidation,
	}
}

// NewFetchError wraps a read failure for the named resource.
// An Unauthenticated cause stays detectable through errors.Is.
func NewFetchError(resource string, err error) *APIError {
	return &APIError{
		Code:       "FETCH_FAILED",
		Message:    fmt.Sprintf("failed to load %s", resource),
		StatusCode: statusOf(err, 502),
		Err:        joinCause(ErrFetchFailed, err),
	}
}

// NewSaveError wraps a write failure for the named resource.
func NewSaveError(resource string, err error) *APIError {
	return &APIError{
		Code:       "SAVE_FAILED",
		Message:    fmt.Sprintf("failed to save %s", resource),
		StatusCode: statusOf(err, 502),
		Err:        joinCause(ErrSaveFailed, err),
	}
}

// NewMissingPaymentDetailsError reports a malformed provider redirect.
func NewMissingPaymentDetailsError(missing ...string) *APIError {
	return &APIError{
		Code:       "MISSING_PAYMENT_DETAILS",
		Message:    fmt.Sprintf("missing payment details: %s", strings.Join(missing, ", ")),
		Fields:     missing,
		StatusCode: 400,
		Err:        ErrMissingPaymentDetails,
	}
}

// NewEmptyCartError blocks checkout when resolution yields zero items.
func NewEmptyCartError() *APIError {
	return &APIError{
		Code:       "EMPTY_CART",
		Message:    "there is nothing to check out",
		StatusCode: 400,
		Err:        ErrEmptyCart,
	}
}

// NewPaymentError reports a payment that was cancelled or not verified.
func NewPaymentError(reason string) *APIError {
	return &APIError{
		Code:       "PAYMENT_ERROR",
		Message:    reason,
		StatusCode: 402,
		Err:        ErrPaymentFailed,
	}
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewUpstreamError creates a 502 error for backend failures.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// joinCause keeps both the taxonomy sentinel and the underlying cause in the chain.
func joinCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, cause)
}

// AuthCause returns the Unauthenticated APIError in err's chain, looking
// through wrappers such as FetchFailed and SaveFailed.
func AuthCause(err error) (*APIError, bool) {
	var apiErr *APIError
	for errors.As(err, &apiErr) {
		if errors.Is(apiErr.Err, ErrUnauthenticated) && apiErr.Code == "UNAUTHENTICATED" {
			return apiErr, true
		}
		err = apiErr.Err
	}
	return nil, false
}

// statusOf returns the status code of the first APIError in err's chain.
func statusOf(err error, fallback int) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return apiErr.StatusCode
	}
	return fallback
}

// UserMessage returns the text shown to the user for err.
// APIErrors expose their Message; anything else is reported generically.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "something went wrong, please try again"
}
