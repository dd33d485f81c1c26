package payment

import (
	"fmt"
	"html/template"
	"io"

	"storefront/internal/model"
)

// CheckoutScriptURL is the provider's checkout library.
const CheckoutScriptURL = "https://checkout.razorpay.com/v1/checkout.js"

// Page defaults used when the session leaves a value empty.
const (
	DefaultCurrency      = "INR"
	DefaultMerchantName  = "Magic Tree"
	DefaultCustomerName  = "Customer"
	DefaultCustomerEmail = "customer@example.com"
)

// PageData is the input of the checkout page template.
type PageData struct {
	Session      model.PaymentSession
	MerchantName string

	// CallbackURL receives the result message when the page is opened in a
	// regular browser. Empty when a native webview receives postMessage.
	CallbackURL string
}

type pageView struct {
	KeyID         string
	Amount        string
	Currency      string
	MerchantName  string
	OrderID       string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CallbackURL   string
}

// RenderCheckoutPage writes the hosted payment page for a session.
func RenderCheckoutPage(w io.Writer, data PageData) error {
	s := data.Session
	if s.ProviderOrderID == "" || s.ProviderKeyID == "" {
		return model.NewValidationError("payment session is incomplete", "razorpayOrderId", "razorpayKeyId")
	}
	if _, err := s.Amount.Float64(); err != nil {
		return model.NewValidationError(fmt.Sprintf("invalid amount %q", s.Amount), "amount")
	}

	view := pageView{
		KeyID:         s.ProviderKeyID,
		Amount:        s.Amount.String(),
		Currency:      orDefault(s.Currency, DefaultCurrency),
		MerchantName:  orDefault(data.MerchantName, DefaultMerchantName),
		OrderID:       s.ProviderOrderID,
		CustomerName:  orDefault(s.CustomerName, DefaultCustomerName),
		CustomerEmail: orDefault(s.CustomerEmail, DefaultCustomerEmail),
		CustomerPhone: s.CustomerPhone,
		CallbackURL:   data.CallbackURL,
	}
	return checkoutPage.Execute(w, view)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

var checkoutPage = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>Processing Payment</title>
    <script src="` + CheckoutScriptURL + `"></script>
    <style>
      body {
        display: flex;
        align-items: center;
        justify-content: center;
        height: 100vh;
        margin: 0;
        font-family: sans-serif;
        color: white;
        background: linear-gradient(to right, hsla(20, 100%, 22%, 1), hsla(19, 100%, 56%, 1));
      }
    </style>
  </head>
  <body>
    <div id="status">Processing payment...</div>
{{- if .CallbackURL}}
    <script>
      if (!window.ReactNativeWebView) {
        window.ReactNativeWebView = {
          postMessage: function (body) {
            fetch({{.CallbackURL}}, {
              method: "POST",
              headers: { "Content-Type": "application/json" },
              body: body
            }).then(function (r) {
              document.getElementById("status").textContent = r.ok
                ? "Payment response received. You can close this window."
                : "Invalid payment response.";
            });
          }
        };
      }
    </script>
{{- end}}
    <script>
      const options = {
        key: {{.KeyID}},
        amount: {{.Amount}},
        currency: {{.Currency}},
        name: {{.MerchantName}},
        description: "Order Payment",
        order_id: {{.OrderID}},
        prefill: {
          name: {{.CustomerName}},
          email: {{.CustomerEmail}},
          contact: {{.CustomerPhone}}
        },
        theme: {
          color: "hsla(151, 93%, 22%, 1)"
        },
        handler: function (response) {
          window.ReactNativeWebView.postMessage(JSON.stringify({
            razorpay_order_id: response.razorpay_order_id,
            razorpay_payment_id: response.razorpay_payment_id,
            razorpay_signature: response.razorpay_signature
          }));
        },
        modal: {
          ondismiss: function () {
            window.ReactNativeWebView.postMessage(JSON.stringify({
              cancelled: true
            }));
          }
        }
      };

      setTimeout(function () {
        const rzp = new Razorpay(options);
        rzp.open();
      }, 200);
    </script>
  </body>
</html>
`))
