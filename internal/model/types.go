// Package model defines the storefront domain types shared by the API client,
// the checkout components and the front ends.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// === Catalog & Cart ===

// Product is a catalog entry as returned by GET /products/{id}.
// Discount is an absolute amount in checkout flows (see DESIGN.md open questions).
type Product struct {
	ID       string   `json:"_id"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Discount float64  `json:"discount"`
	Images   []string `json:"images"`
	Stock    int      `json:"stock"`
}

// ProductResponse wraps the product detail payload.
type ProductResponse struct {
	Product Product `json:"product"`
}

// CartEntry is one server-side cart entry from GET /cart/items.
type CartEntry struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Discount  float64 `json:"discount"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image"`
}

// CartResponse wraps the cart entries payload.
type CartResponse struct {
	Items []CartEntry `json:"items"`
}

// LineItem is the normalized purchase entry used for totals and submission.
// Invariants: Quantity >= 1, UnitPrice >= UnitDiscount >= 0.
type LineItem struct {
	ProductRef   string  `json:"product_ref"`
	Name         string  `json:"name"`
	UnitPrice    float64 `json:"unit_price"`
	UnitDiscount float64 `json:"unit_discount"`
	Quantity     int     `json:"quantity"`
	ImageRef     string  `json:"image_ref,omitempty"`
}

// Validate checks the line item invariants.
func (li LineItem) Validate() error {
	switch {
	case li.ProductRef == "":
		return fmt.Errorf("line item has no product reference")
	case li.Quantity < 1:
		return fmt.Errorf("line item %s: quantity %d < 1", li.ProductRef, li.Quantity)
	case li.UnitDiscount < 0:
		return fmt.Errorf("line item %s: negative discount", li.ProductRef)
	case li.UnitPrice < li.UnitDiscount:
		return fmt.Errorf("line item %s: discount %.2f exceeds price %.2f", li.ProductRef, li.UnitDiscount, li.UnitPrice)
	}
	return nil
}

// LineItemFromProduct wraps a single product for a buy-now purchase.
// Quantity is fixed at 1.
func LineItemFromProduct(p Product) LineItem {
	var image string
	if len(p.Images) > 0 {
		image = p.Images[0]
	}
	return LineItem{
		ProductRef:   p.ID,
		Name:         p.Name,
		UnitPrice:    p.Price,
		UnitDiscount: p.Discount,
		Quantity:     1,
		ImageRef:     image,
	}
}

// LineItemFromCartEntry normalizes a server cart entry.
func LineItemFromCartEntry(e CartEntry) LineItem {
	return LineItem{
		ProductRef:   e.ProductID,
		Name:         e.Name,
		UnitPrice:    e.Price,
		UnitDiscount: e.Discount,
		Quantity:     e.Quantity,
		ImageRef:     e.Image,
	}
}

// === Addresses ===

// Address is a saved shipping address owned by the backend.
// ID is optional: older backends do not return one.
type Address struct {
	ID        string `json:"_id,omitempty"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
	IsDefault bool   `json:"isDefault"`
}

// String renders the address as the single line submitted with an order.
func (a Address) String() string {
	return strings.Join([]string{a.Street, a.City, a.State, a.Zip, a.Country}, ", ")
}

// AddressDraft is the transient new-address form. All fields are required.
type AddressDraft struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Zip     string `json:"zip" validate:"required"`
	Country string `json:"country" validate:"required"`
}

// === Orders & Payment ===

// PaymentMethod selects how an order is paid.
type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "COD"
	PaymentOnline         PaymentMethod = "Online"
)

// ParsePaymentMethod accepts the wire values and the CLI spellings.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cod", "cash", "cash-on-delivery":
		return PaymentCashOnDelivery, nil
	case "online", "razorpay", "card":
		return PaymentOnline, nil
	}
	return "", NewValidationError(fmt.Sprintf("unknown payment method %q", s), "payment_method")
}

// OrderIntent is built immediately before submission and never persisted.
type OrderIntent struct {
	LineItems       []LineItem    `validate:"required,min=1"`
	ShippingAddress string        `validate:"required"`
	ShippingName    string        `validate:"required"`
	PhoneNumber     string        `validate:"required"`
	PaymentMethod   PaymentMethod `validate:"required,oneof=COD Online"`
}

// OrderProduct is one product line in the create-order request.
type OrderProduct struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// CreateOrderRequest is the POST /order/create body.
type CreateOrderRequest struct {
	Products        []OrderProduct `json:"products"`
	ShippingAddress string         `json:"shippingAddress"`
	ShippingName    string         `json:"shippingName"`
	PhoneNumber     string         `json:"phoneNumber"`
	PaymentMethod   PaymentMethod  `json:"paymentMethod"`
}

// ToRequest converts the intent to the wire request.
// Per-item prices are submitted rounded up (see SubmittedUnitPrice).
func (o OrderIntent) ToRequest() CreateOrderRequest {
	products := make([]OrderProduct, len(o.LineItems))
	for i, item := range o.LineItems {
		products[i] = OrderProduct{
			Product:  item.ProductRef,
			Quantity: item.Quantity,
			Price:    SubmittedUnitPrice(item),
		}
	}
	return CreateOrderRequest{
		Products:        products,
		ShippingAddress: o.ShippingAddress,
		ShippingName:    o.ShippingName,
		PhoneNumber:     o.PhoneNumber,
		PaymentMethod:   o.PaymentMethod,
	}
}

// CreateOrderResponse covers both response shapes of POST /order/create.
// COD returns an order record; online payment returns the provider session.
type CreateOrderResponse struct {
	Order           *Order      `json:"-"`
	RazorpayOrderID string      `json:"razorpayOrderId,omitempty"`
	RazorpayKeyID   string      `json:"razorpayKeyId,omitempty"`
	Amount          json.Number `json:"amount,omitempty"`
	Currency        string      `json:"currency,omitempty"`
}

// PaymentSession carries what the hosted payment page needs.
// Provider fields are forwarded unchanged from the order-create response.
type PaymentSession struct {
	ProviderOrderID string      `json:"razorpayOrderId"`
	ProviderKeyID   string      `json:"razorpayKeyId"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	CustomerName    string      `json:"name,omitempty"`
	CustomerPhone   string      `json:"phone,omitempty"`
	CustomerEmail   string      `json:"email,omitempty"`
}

// VerificationRequest is the POST /payment/verify body.
type VerificationRequest struct {
	RazorpayOrderID   string `json:"razorpayOrderId"`
	RazorpayPaymentID string `json:"razorpayPaymentId"`
	RazorpaySignature string `json:"razorpaySignature"`
}

// VerificationResponse reports the backend verification outcome.
type VerificationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Order is an order record as listed by GET /order/.
type Order struct {
	ID              string         `json:"_id"`
	Status          string         `json:"status"`
	ShippingName    string         `json:"shippingName"`
	PhoneNumber     string         `json:"phoneNumber"`
	ShippingAddress string         `json:"shippingAddress"`
	TotalAmount     float64        `json:"totalAmount"`
	Payment         *OrderPayment  `json:"payment,omitempty"`
	Products        []OrderProduct `json:"products"`
}

// OrderPayment is the payment summary attached to an order.
type OrderPayment struct {
	Method string `json:"method"`
	Status string `json:"status"`
}

// === Accounts ===

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the register request body.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Token   string `json:"token"`
	Message string `json:"message,omitempty"`
}

// User is the current account as returned by GET /user/me.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}
