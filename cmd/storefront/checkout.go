package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"storefront/internal/address"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/payment"
)

// cliNavigator turns navigation requests into hints on the terminal.
type cliNavigator struct{}

func (cliNavigator) OrderHistory() { printInfo("See your orders with 'storefront orders'") }
func (cliNavigator) Back()         { printInfo("Nothing was charged. You can retry the checkout.") }
func (cliNavigator) Login()        { printWarning("Session expired. Run 'storefront login' and retry.") }

// =============================================================================
// CHECKOUT
// =============================================================================

func runCheckout(args []string) {
	fs := newFlagSet("checkout", "checkout [-product ID] -name N -phone P [-address N] -payment cod|online")
	var (
		productID string
		name      string
		phone     string
		addrIndex int
		method    string
		wait      time.Duration
	)
	fs.StringVar(&productID, "product", "", "Buy this product now instead of the cart")
	fs.StringVar(&name, "name", "", "Shipping name (required)")
	fs.StringVar(&phone, "phone", "", "Phone number (required)")
	fs.IntVar(&addrIndex, "address", 0, "Address number from 'storefront addresses' (default: the default address)")
	fs.StringVar(&method, "payment", "", "Payment method: cod or online (required)")
	fs.DurationVar(&wait, "wait", 10*time.Minute, "How long to wait for an online payment")
	a := setup(fs, args)

	pm, err := model.ParsePaymentMethod(method)
	if err != nil {
		fatal("%v", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	// === Hand-off server ===

	var handoff *payment.HandoffServer
	if pm == model.PaymentOnline {
		var stop func()
		handoff, stop = a.startHandoff()
		defer stop()
	}

	// === Orchestrator ===

	mgr := address.NewManager(a.client, a.logger)
	cfg := a.cfg.OrchestratorConfig(productID)
	if verbose {
		cfg.OnTransition = func(from, to checkout.State) {
			fmt.Fprintf(os.Stderr, "%s[%s → %s]%s\n", colorGray, from, to, colorReset)
		}
	}
	deps := checkout.Deps{
		Cart:      cart.NewResolver(a.client, a.logger),
		Addresses: mgr,
		Orders:    a.client,
		Navigator: cliNavigator{},
		Logger:    a.logger,
	}
	if handoff != nil {
		deps.Handoff = handoff
	}
	orch, err := checkout.New(deps, cfg)
	if err != nil {
		fatal("%v", err)
	}
	defer orch.Close()

	if err := orch.Load(ctx); err != nil {
		fatalErr("Checkout unavailable", err)
	}
	if addrIndex > 0 {
		if err := mgr.Select(addrIndex - 1); err != nil {
			fatalErr("Invalid -address", err)
		}
	}

	view := orch.Snapshot()
	if !quiet {
		fmt.Printf("%sOrder summary%s\n", colorBold, colorReset)
		a.printItems(view.Items)
		if addr, ok := mgr.Selected(); ok {
			fmt.Printf("  Ship to:  %s\n", addr)
		}
		fmt.Println()
	}

	result, err := orch.Submit(ctx, checkout.SubmitRequest{
		ShippingName:  name,
		PhoneNumber:   phone,
		PaymentMethod: pm,
	})
	if err != nil {
		fatalErr("Order failed", err)
	}

	switch result.State {
	case checkout.StateSucceeded:
		if quiet {
			fmt.Println(orderID(result))
			return
		}
		printSuccess("Order placed: %s", orderID(result))
		cliNavigator{}.OrderHistory()

	case checkout.StateAwaitingPaymentRedirect:
		if err := a.awaitPayment(ctx, handoff, result.Payment, wait); err != nil {
			fatalErr("Payment not completed", err)
		}
		if quiet {
			fmt.Println(orderID(result))
			return
		}
		printSuccess("Payment verified")
	}
}

func orderID(result *checkout.Result) string {
	if result.Order != nil {
		return result.Order.ID
	}
	return ""
}

// startHandoff listens on the configured hand-off address and serves the
// payment pages until stop is called.
func (a *app) startHandoff() (*payment.HandoffServer, func()) {
	ln, err := net.Listen("tcp", a.cfg.Server.HandoffAddr)
	if err != nil {
		fatal("Cannot start payment page server on %s: %v", a.cfg.Server.HandoffAddr, err)
	}

	handoff := payment.NewHandoffServer(payment.HandoffConfig{
		PublicURL:    a.cfg.PaymentOrigin(ln.Addr().String()),
		MerchantName: a.cfg.Checkout.MerchantName,
		Logger:       a.logger,
		Announce: func(url string, s model.PaymentSession) {
			if quiet {
				fmt.Fprintln(os.Stderr, url)
				return
			}
			printInfo("Complete the payment of %s %s in your browser:", s.Amount, s.Currency)
			fmt.Printf("  %s%s%s\n", colorCyan, url, colorReset)
		},
	})

	srv := &http.Server{
		Handler: middleware.Chain(
			middleware.Recovery(a.logger),
			middleware.Logging(a.logger),
			middleware.RequestID(),
		)(handoff.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("payment page server stopped", slog.String("error", err.Error()))
		}
	}()

	return handoff, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// awaitPayment blocks until the checkout page reports back, then verifies
// the outcome with the backend.
func (a *app) awaitPayment(ctx context.Context, handoff *payment.HandoffServer, session *model.PaymentSession, wait time.Duration) error {
	if handoff == nil || session == nil {
		return model.NewPaymentError("no payment session")
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msg, err := handoff.Await(waitCtx, session.ProviderOrderID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.NewPaymentError("timed out waiting for payment")
		}
		return err
	}

	verifier := payment.NewVerificationHandler(a.client, a.client.Store(), cliNavigator{}, a.logger)
	return verifier.HandleMessage(ctx, msg)
}

// =============================================================================
// VERIFY
// =============================================================================

// runVerify checks a payment whose page result was captured elsewhere,
// e.g. after the checkout command was interrupted.
func runVerify(args []string) {
	fs := newFlagSet("verify", "verify -order ID -payment-id ID -signature SIG")
	var params payment.CallbackParams
	fs.StringVar(&params.OrderID, "order", "", "Provider order id (required)")
	fs.StringVar(&params.PaymentID, "payment-id", "", "Provider payment id (required)")
	fs.StringVar(&params.Signature, "signature", "", "Provider signature (required)")
	a := setup(fs, args)

	ctx, cancel := commandContext()
	defer cancel()

	verifier := payment.NewVerificationHandler(a.client, a.client.Store(), cliNavigator{}, a.logger)
	if err := verifier.Verify(ctx, params); err != nil {
		fatalErr("Verification failed", err)
	}
	printSuccess("Payment verified")
}
