// Package payment completes online payments: it renders the provider's
// hosted checkout page, receives the page's result message and asks the
// backend to verify the provider signature.
package payment

import (
	"context"
	"errors"
	"log/slog"

	"storefront/internal/model"
	"storefront/internal/session"
)

// Verifier is the subset of the API client used for verification.
type Verifier interface {
	VerifyPayment(ctx context.Context, req model.VerificationRequest) (*model.VerificationResponse, error)
}

// Navigator performs screen transitions after verification.
type Navigator interface {
	OrderHistory()
	Back()
	Login()
}

// CallbackParams are the three values the provider returns after payment.
type CallbackParams struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// missing lists the absent parameters by their provider names.
func (p CallbackParams) missing() []string {
	var fields []string
	if p.OrderID == "" {
		fields = append(fields, "razorpay_order_id")
	}
	if p.PaymentID == "" {
		fields = append(fields, "razorpay_payment_id")
	}
	if p.Signature == "" {
		fields = append(fields, "razorpay_signature")
	}
	return fields
}

// VerificationHandler turns a provider callback into a verified order.
type VerificationHandler struct {
	verifier Verifier
	store    session.Store
	nav      Navigator
	logger   *slog.Logger
}

// NewVerificationHandler creates a handler.
func NewVerificationHandler(verifier Verifier, store session.Store, nav Navigator, logger *slog.Logger) *VerificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerificationHandler{
		verifier: verifier,
		store:    store,
		nav:      nav,
		logger:   logger.With(slog.String("component", "payment")),
	}
}

// Verify asks the backend to confirm a payment. It is attempted once.
//
//   - any parameter missing: MissingPaymentDetails, no backend call, navigate back
//   - no session token: Unauthenticated, navigate to login
//   - backend reports success: navigate to order history
//   - backend reports failure or the request fails: PaymentError, navigate back
func (h *VerificationHandler) Verify(ctx context.Context, params CallbackParams) error {
	if missing := params.missing(); len(missing) > 0 {
		h.nav.Back()
		return model.NewMissingPaymentDetailsError(missing...)
	}

	if _, err := h.store.Token(ctx); err != nil {
		h.nav.Login()
		return err
	}

	resp, err := h.verifier.VerifyPayment(ctx, model.VerificationRequest{
		RazorpayOrderID:   params.OrderID,
		RazorpayPaymentID: params.PaymentID,
		RazorpaySignature: params.Signature,
	})
	if err != nil {
		h.logger.Warn("payment verification request failed",
			slog.String("order_id", params.OrderID),
			slog.String("error", err.Error()),
		)
		h.nav.Back()
		return errors.Join(model.NewPaymentError("unable to verify payment"), err)
	}
	if !resp.Success {
		h.logger.Warn("payment not verified", slog.String("order_id", params.OrderID))
		h.nav.Back()
		reason := "payment verification failed"
		if resp.Message != "" {
			reason = resp.Message
		}
		return model.NewPaymentError(reason)
	}

	h.logger.Info("payment verified",
		slog.String("order_id", params.OrderID),
		slog.String("payment_id", params.PaymentID),
	)
	h.nav.OrderHistory()
	return nil
}

// HandleMessage acts on a message posted by the checkout page.
//
// A cancellation navigates back. A message without order or payment id is
// rejected and the user stays on the page. Anything else is verified.
func (h *VerificationHandler) HandleMessage(ctx context.Context, msg Message) error {
	if msg.Cancelled {
		h.nav.Back()
		return model.NewPaymentError("payment cancelled")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return h.Verify(ctx, msg.Params())
}
