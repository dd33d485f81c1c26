package model

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name         string
		items        []LineItem
		flat         float64
		wantSubtotal float64
		wantSaved    float64
		wantTotal    float64
	}{
		{
			name: "two items with flat discount",
			items: []LineItem{
				{ProductRef: "a", UnitPrice: 100, UnitDiscount: 10, Quantity: 2},
				{ProductRef: "b", UnitPrice: 50, UnitDiscount: 0, Quantity: 1},
			},
			flat:         50,
			wantSubtotal: 250,
			wantSaved:    20,
			wantTotal:    180,
		},
		{
			name:         "no items",
			items:        nil,
			flat:         50,
			wantSubtotal: 0,
			wantSaved:    0,
			wantTotal:    -50,
		},
		{
			name: "zero flat discount",
			items: []LineItem{
				{ProductRef: "a", UnitPrice: 499, UnitDiscount: 49, Quantity: 3},
			},
			flat:         0,
			wantSubtotal: 1497,
			wantSaved:    147,
			wantTotal:    1350,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(tt.items, tt.flat)
			if !almostEqual(got.Subtotal, tt.wantSubtotal) {
				t.Errorf("Subtotal = %v, want %v", got.Subtotal, tt.wantSubtotal)
			}
			if !almostEqual(got.TotalSaved, tt.wantSaved) {
				t.Errorf("TotalSaved = %v, want %v", got.TotalSaved, tt.wantSaved)
			}
			if !almostEqual(got.Total, tt.wantTotal) {
				t.Errorf("Total = %v, want %v", got.Total, tt.wantTotal)
			}
			if got.FlatDiscount != tt.flat {
				t.Errorf("FlatDiscount = %v, want %v", got.FlatDiscount, tt.flat)
			}
		})
	}
}

func TestComputeTotals_OrderIndependent(t *testing.T) {
	items := []LineItem{
		{ProductRef: "a", UnitPrice: 100, UnitDiscount: 10, Quantity: 2},
		{ProductRef: "b", UnitPrice: 50, UnitDiscount: 5, Quantity: 1},
		{ProductRef: "c", UnitPrice: 12.5, UnitDiscount: 2.5, Quantity: 4},
	}
	reversed := []LineItem{items[2], items[1], items[0]}

	forward := ComputeTotals(items, DefaultFlatDiscount)
	backward := ComputeTotals(reversed, DefaultFlatDiscount)

	if !almostEqual(forward.Subtotal, backward.Subtotal) {
		t.Errorf("Subtotal differs by order: %v vs %v", forward.Subtotal, backward.Subtotal)
	}
	if !almostEqual(forward.TotalSaved, backward.TotalSaved) {
		t.Errorf("TotalSaved differs by order: %v vs %v", forward.TotalSaved, backward.TotalSaved)
	}
	if !almostEqual(forward.Total, backward.Total) {
		t.Errorf("Total differs by order: %v vs %v", forward.Total, backward.Total)
	}
}

// TestComputeTotals_NegativeTotalUnclamped documents that the flat discount
// can push the total below zero; ClampTotal is opt-in.
func TestComputeTotals_NegativeTotalUnclamped(t *testing.T) {
	items := []LineItem{{ProductRef: "a", UnitPrice: 30, UnitDiscount: 0, Quantity: 1}}

	got := ComputeTotals(items, DefaultFlatDiscount)
	if !almostEqual(got.Total, -20) {
		t.Errorf("Total = %v, want -20 (unclamped)", got.Total)
	}

	clamped := got.ClampTotal()
	if clamped.Total != 0 {
		t.Errorf("ClampTotal().Total = %v, want 0", clamped.Total)
	}
	if !almostEqual(clamped.Subtotal, 30) {
		t.Errorf("ClampTotal() should not touch Subtotal, got %v", clamped.Subtotal)
	}
}

func TestSubmittedUnitPrice(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		discount float64
		want     int64
	}{
		{"fraction rounds up", 99.4, 10, 90},
		{"whole number unchanged", 100, 10, 90},
		{"small fraction rounds up", 10.01, 0, 11},
		{"no discount", 250, 0, 250},
		{"discount equals price", 40, 40, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := LineItem{ProductRef: "p", UnitPrice: tt.price, UnitDiscount: tt.discount, Quantity: 1}
			if got := SubmittedUnitPrice(item); got != tt.want {
				t.Errorf("SubmittedUnitPrice(%v-%v) = %d, want %d", tt.price, tt.discount, got, tt.want)
			}
		})
	}
}
