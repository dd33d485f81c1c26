package payment

import (
	"encoding/json"
	"fmt"

	"storefront/internal/model"
)

// Message is what the checkout page posts back: either the provider's
// success triple or a cancellation. Field names are fixed by the page script.
type Message struct {
	OrderID   string `json:"razorpay_order_id,omitempty"`
	PaymentID string `json:"razorpay_payment_id,omitempty"`
	Signature string `json:"razorpay_signature,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// DecodeMessage parses a page message.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, model.NewPaymentError(fmt.Sprintf("could not process payment response: %v", err))
	}
	return msg, nil
}

// Validate rejects a non-cancellation message without order or payment id.
// The signature is checked later, during verification.
func (m Message) Validate() error {
	if m.Cancelled {
		return nil
	}
	if m.OrderID == "" || m.PaymentID == "" {
		return model.NewPaymentError("invalid payment response")
	}
	return nil
}

// Params converts the message to verification parameters.
func (m Message) Params() CallbackParams {
	return CallbackParams{
		OrderID:   m.OrderID,
		PaymentID: m.PaymentID,
		Signature: m.Signature,
	}
}
