package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "without wrapped error",
			err: &APIError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
			},
			want: "TEST_ERROR: something went wrong",
		},
		{
			name: "with wrapped error",
			err: &APIError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
				Err:     errors.New("underlying cause"),
			},
			want: "TEST_ERROR: something went wrong (underlying cause)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		code     string
		status   int
		sentinel error
	}{
		{"unauthenticated", NewUnauthenticatedError("please log in"), "UNAUTHENTICATED", 401, ErrUnauthenticated},
		{"validation", NewValidationError("missing fields", "city"), "VALIDATION_ERROR", 400, ErrValidation},
		{"fetch", NewFetchError("cart", errors.New("boom")), "FETCH_FAILED", 502, ErrFetchFailed},
		{"save", NewSaveError("address", errors.New("boom")), "SAVE_FAILED", 502, ErrSaveFailed},
		{"missing payment", NewMissingPaymentDetailsError("razorpay_signature"), "MISSING_PAYMENT_DETAILS", 400, ErrMissingPaymentDetails},
		{"empty cart", NewEmptyCartError(), "EMPTY_CART", 400, ErrEmptyCart},
		{"payment", NewPaymentError("cancelled"), "PAYMENT_ERROR", 402, ErrPaymentFailed},
		{"not found", NewNotFoundError("product"), "NOT_FOUND", 404, ErrNotFound},
		{"upstream", NewUpstreamError("backend", errors.New("reset")), "UPSTREAM_ERROR", 502, ErrUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", tt.err.StatusCode, tt.status)
			}
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("error should wrap %v", tt.sentinel)
			}
		})
	}
}

func TestNewValidationError_Fields(t *testing.T) {
	err := NewValidationError("please fill all fields", "city", "zip")

	if err.Message != "please fill all fields: city, zip" {
		t.Errorf("Message = %q", err.Message)
	}
	if len(err.Fields) != 2 || err.Fields[0] != "city" || err.Fields[1] != "zip" {
		t.Errorf("Fields = %v, want [city zip]", err.Fields)
	}
}

func TestNewFetchError_KeepsUnauthenticated(t *testing.T) {
	cause := NewUnauthenticatedError("no session")
	err := NewFetchError("addresses", cause)

	if !errors.Is(err, ErrFetchFailed) {
		t.Error("should wrap ErrFetchFailed")
	}
	if !errors.Is(err, ErrUnauthenticated) {
		t.Error("should keep ErrUnauthenticated from the cause")
	}
	if err.StatusCode != 401 {
		t.Errorf("StatusCode = %d, want 401 from the cause", err.StatusCode)
	}
}

func TestAuthCause(t *testing.T) {
	unauth := NewUnauthenticatedError("session expired")
	tests := []struct {
		name string
		err  error
		ok   bool
	}{
		{"direct", unauth, true},
		{"under fetch failure", NewFetchError("cart", unauth), true},
		{"under save and fmt wrapping", fmt.Errorf("placing order: %w", NewSaveError("order", unauth)), true},
		{"plain fetch failure", NewFetchError("cart", errors.New("timeout")), false},
		{"not an APIError", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AuthCause(tt.err)
			if ok != tt.ok {
				t.Fatalf("AuthCause() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got.Message != "session expired" {
				t.Errorf("Message = %q, want %q", got.Message, "session expired")
			}
		})
	}
}

func TestErrorsAs_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("placing order: %w", NewSaveError("order", nil))

	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("errors.As should find APIError through fmt.Errorf wrapping")
	}
	if apiErr.Code != "SAVE_FAILED" {
		t.Errorf("Code = %q, want SAVE_FAILED", apiErr.Code)
	}
	if !errors.Is(wrapped, ErrSaveFailed) {
		t.Error("errors.Is should find ErrSaveFailed")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(NewEmptyCartError()); got != "there is nothing to check out" {
		t.Errorf("UserMessage(APIError) = %q", got)
	}
	if got := UserMessage(errors.New("dial tcp: refused")); got != "something went wrong, please try again" {
		t.Errorf("UserMessage(plain) = %q", got)
	}
}
