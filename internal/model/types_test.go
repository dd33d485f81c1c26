package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestLineItemValidate(t *testing.T) {
	tests := []struct {
		name    string
		item    LineItem
		wantErr bool
	}{
		{"valid", LineItem{ProductRef: "p1", UnitPrice: 100, UnitDiscount: 10, Quantity: 1}, false},
		{"zero discount", LineItem{ProductRef: "p1", UnitPrice: 100, Quantity: 3}, false},
		{"missing product", LineItem{UnitPrice: 100, Quantity: 1}, true},
		{"zero quantity", LineItem{ProductRef: "p1", UnitPrice: 100, Quantity: 0}, true},
		{"negative discount", LineItem{ProductRef: "p1", UnitPrice: 100, UnitDiscount: -1, Quantity: 1}, true},
		{"discount above price", LineItem{ProductRef: "p1", UnitPrice: 10, UnitDiscount: 11, Quantity: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLineItemFromProduct(t *testing.T) {
	p := Product{ID: "p9", Name: "Mango Sapling", Price: 299, Discount: 20, Images: []string{"a.jpg", "b.jpg"}}

	li := LineItemFromProduct(p)
	if li.Quantity != 1 {
		t.Errorf("Quantity = %d, want 1", li.Quantity)
	}
	if li.UnitDiscount != 20 {
		t.Errorf("UnitDiscount = %v, want 20 (absolute)", li.UnitDiscount)
	}
	if li.ImageRef != "a.jpg" {
		t.Errorf("ImageRef = %q, want first image", li.ImageRef)
	}

	noImages := LineItemFromProduct(Product{ID: "p1", Price: 10})
	if noImages.ImageRef != "" {
		t.Errorf("ImageRef = %q, want empty", noImages.ImageRef)
	}
}

func TestAddressString(t *testing.T) {
	a := Address{Street: "12 Hill Rd", City: "Pune", State: "MH", Zip: "411001", Country: "India"}
	if got := a.String(); got != "12 Hill Rd, Pune, MH, 411001, India" {
		t.Errorf("String() = %q", got)
	}
}

func TestParsePaymentMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    PaymentMethod
		wantErr bool
	}{
		{"cod", PaymentCashOnDelivery, false},
		{"COD", PaymentCashOnDelivery, false},
		{"online", PaymentOnline, false},
		{" Razorpay ", PaymentOnline, false},
		{"bitcoin", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePaymentMethod(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("error should wrap ErrValidation")
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOrderIntentToRequest(t *testing.T) {
	intent := OrderIntent{
		LineItems: []LineItem{
			{ProductRef: "p1", UnitPrice: 99.4, UnitDiscount: 10, Quantity: 2},
			{ProductRef: "p2", UnitPrice: 50, Quantity: 1},
		},
		ShippingAddress: "12 Hill Rd, Pune, MH, 411001, India",
		ShippingName:    "Asha",
		PhoneNumber:     "9876543210",
		PaymentMethod:   PaymentCashOnDelivery,
	}

	data, err := json.Marshal(intent.ToRequest())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"products":[{"product":"p1","quantity":2,"price":90},{"product":"p2","quantity":1,"price":50}],` +
		`"shippingAddress":"12 Hill Rd, Pune, MH, 411001, India","shippingName":"Asha","phoneNumber":"9876543210","paymentMethod":"COD"}`
	if string(data) != want {
		t.Errorf("request body =\n%s\nwant\n%s", data, want)
	}
}
