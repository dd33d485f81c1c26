package model

import "math"

// DefaultFlatDiscount is the fixed deduction applied once per order.
// Currency-unit agnostic: it is subtracted in whatever unit prices use.
const DefaultFlatDiscount = 50.0

// Totals summarizes a set of line items for display and submission.
type Totals struct {
	Subtotal     float64 `json:"subtotal"`      // Σ unitPrice * quantity
	TotalSaved   float64 `json:"total_saved"`   // Σ unitDiscount * quantity
	FlatDiscount float64 `json:"flat_discount"` // Applied once per order
	Total        float64 `json:"total"`         // Σ net * quantity - flat discount
}

// NetUnitPrice is the per-unit price after the item's own discount.
func NetUnitPrice(item LineItem) float64 {
	return item.UnitPrice - item.UnitDiscount
}

// SubmittedUnitPrice is the per-unit price sent to the backend on order creation.
// Fractional amounts round up: 99.4 - 10 = 89.4 is submitted as 90.
func SubmittedUnitPrice(item LineItem) int64 {
	return int64(math.Ceil(NetUnitPrice(item)))
}

// ComputeTotals sums line items and deducts the flat discount.
// The total may go negative when the flat discount exceeds the net subtotal;
// callers that want a floor use ClampTotal.
func ComputeTotals(items []LineItem, flatDiscount float64) Totals {
	var t Totals
	var net float64
	for _, item := range items {
		qty := float64(item.Quantity)
		t.Subtotal += item.UnitPrice * qty
		t.TotalSaved += item.UnitDiscount * qty
		net += NetUnitPrice(item) * qty
	}
	t.FlatDiscount = flatDiscount
	t.Total = net - flatDiscount
	return t
}

// ClampTotal floors the order total at zero.
func (t Totals) ClampTotal() Totals {
	if t.Total < 0 {
		t.Total = 0
	}
	return t
}
