// Package checkout drives one checkout session from loading through order
// submission and, for online payment, the hand-off to the payment page.
//
// The same Orchestrator serves "buy now" (a single product id) and full-cart
// checkout; the difference is only how the cart resolver is asked.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"storefront/internal/cart"
	"storefront/internal/model"
	"storefront/internal/reconcile"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateLoading                 State = "loading"
	StateReady                   State = "ready"
	StateSubmitting              State = "submitting"
	StateSucceeded               State = "succeeded"
	StateAwaitingPaymentRedirect State = "awaiting_payment_redirect"
	StateFailed                  State = "failed"
)

var (
	// ErrSubmitInProgress is returned when Submit is called while another
	// submission is in flight. The call has no effect.
	ErrSubmitInProgress = errors.New("an order is already being placed")

	// ErrNotReady is returned when Submit is called outside the Ready state.
	ErrNotReady = errors.New("checkout is not ready")

	// ErrClosed is returned for work that finished after Close.
	ErrClosed = errors.New("checkout closed")

	// ErrStale is returned by a Load superseded by a newer Load.
	ErrStale = errors.New("superseded by a newer load")
)

// === Collaborators ===

// Navigator performs screen transitions. Implementations must not block.
type Navigator interface {
	OrderHistory()
	Back()
	Login()
}

// PaymentHandoff opens the hosted payment page for a provider session.
type PaymentHandoff interface {
	Open(ctx context.Context, session model.PaymentSession) error
}

// CartSource resolves line items.
type CartSource interface {
	Resolve(ctx context.Context, productID string) (*cart.Resolution, error)
}

// AddressSource loads addresses and exposes the current selection.
// Fetch must not change the selection; Apply commits a fetched list.
type AddressSource interface {
	Fetch(ctx context.Context) ([]model.Address, error)
	Apply(addresses []model.Address) []model.Address
	Selected() (model.Address, bool)
}

// OrderBackend creates orders.
type OrderBackend interface {
	CreateOrder(ctx context.Context, order model.CreateOrderRequest) (*model.CreateOrderResponse, error)
}

// Config parameterizes an Orchestrator.
type Config struct {
	// ProductID selects buy-now mode; empty means the server cart.
	ProductID string

	// FlatDiscount is subtracted once from the total. Zero disables it.
	FlatDiscount float64

	// ClampNegativeTotal floors the total at zero.
	ClampNegativeTotal bool

	// OnTransition, when set, observes every state change. It runs with the
	// orchestrator locked and must not call back into it.
	OnTransition func(from, to State)
}

// DefaultConfig returns the storefront's standard pricing for cart checkout.
func DefaultConfig() Config {
	return Config{FlatDiscount: model.DefaultFlatDiscount}
}

// Deps are the orchestrator's collaborators. Handoff may be nil when the
// caller opens the payment page itself from the returned session.
type Deps struct {
	Cart      CartSource
	Addresses AddressSource
	Orders    OrderBackend
	Navigator Navigator
	Handoff   PaymentHandoff
	Logger    *slog.Logger
}

// SubmitRequest is the customer input collected on the checkout screen.
type SubmitRequest struct {
	ShippingName  string
	PhoneNumber   string
	PaymentMethod model.PaymentMethod
}

// Result describes a successful submission.
type Result struct {
	State   State                 `json:"state"`
	Order   *model.Order          `json:"order,omitempty"`
	Payment *model.PaymentSession `json:"payment,omitempty"`
	Totals  model.Totals          `json:"totals"`
}

// View is a consistent snapshot of the orchestrator for rendering.
type View struct {
	State     State            `json:"state"`
	Items     []model.LineItem `json:"items"`
	Totals    model.Totals     `json:"totals"`
	LastError error            `json:"-"`
}

// Orchestrator is the checkout state machine. Safe for concurrent use.
type Orchestrator struct {
	deps     Deps
	cfg      Config
	logger   *slog.Logger
	validate *validator.Validate
	gen      reconcile.Generation

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	items   []model.LineItem
	totals  model.Totals
	lastErr error
	session *model.PaymentSession
}

// New creates an orchestrator in the Loading state.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Cart == nil || deps.Addresses == nil || deps.Orders == nil {
		return nil, fmt.Errorf("cart, addresses and orders are required")
	}
	if deps.Navigator == nil {
		deps.Navigator = nopNavigator{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "checkout")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateLoading,
	}, nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load fetches line items and addresses concurrently. The orchestrator
// becomes Ready only when both succeed; otherwise it stays Loading with the
// error recorded. An authentication failure navigates to login.
//
// A Load superseded by a later Load (or by Close) discards its results.
func (o *Orchestrator) Load(ctx context.Context) error {
	tag := o.gen.Begin()

	o.mu.Lock()
	if o.ctx.Err() != nil {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state == StateSubmitting {
		o.mu.Unlock()
		return ErrSubmitInProgress
	}
	o.transition(StateLoading)
	o.lastErr = nil
	o.mu.Unlock()

	ctx, done := o.scoped(ctx)
	defer done()

	var (
		resolution *cart.Resolution
		addresses  []model.Address
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := o.deps.Cart.Resolve(gctx, o.cfg.ProductID)
		if err != nil {
			return err
		}
		resolution = res
		return nil
	})
	g.Go(func() error {
		list, err := o.deps.Addresses.Fetch(gctx)
		if err != nil {
			return err
		}
		addresses = list
		return nil
	})
	err := g.Wait()

	o.mu.Lock()
	if o.ctx.Err() != nil {
		o.mu.Unlock()
		return ErrClosed
	}
	if !o.gen.IsCurrent(tag) {
		o.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		o.lastErr = err
		o.mu.Unlock()
		o.logger.Warn("checkout load failed", slog.String("error", err.Error()))
		if errors.Is(err, model.ErrUnauthenticated) {
			o.deps.Navigator.Login()
		}
		return err
	}

	o.deps.Addresses.Apply(addresses)
	totals := o.computeTotals(resolution.Items)
	o.items = resolution.Items
	o.totals = totals
	o.transition(StateReady)
	o.mu.Unlock()

	o.logger.Debug("checkout ready",
		slog.String("mode", string(resolution.Mode)),
		slog.Int("items", len(resolution.Items)),
		slog.Float64("total", totals.Total),
	)
	return nil
}

func (o *Orchestrator) computeTotals(items []model.LineItem) model.Totals {
	totals := model.ComputeTotals(items, o.cfg.FlatDiscount)
	if o.cfg.ClampNegativeTotal {
		totals = totals.ClampTotal()
	}
	return totals
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit places the order.
//
// Guard violations (no name, no phone, no selected address, no items, unknown
// payment method) return a ValidationError without a network call or a state
// change. Calls while a submission is in flight return ErrSubmitInProgress.
//
// Cash on delivery ends in Succeeded and navigates to the order history once.
// Online payment ends in AwaitingPaymentRedirect with the provider session
// forwarded unchanged; if a PaymentHandoff is configured it is opened and its
// error, if any, is returned alongside the result. A failed order creation
// passes through Failed back to Ready with the error recorded.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	o.mu.Lock()
	switch o.state {
	case StateReady:
	case StateSubmitting:
		o.mu.Unlock()
		return nil, ErrSubmitInProgress
	default:
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", ErrNotReady, state)
	}

	intent, err := o.buildIntent(req)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.transition(StateSubmitting)
	totals := o.totals
	o.mu.Unlock()

	ctx, done := o.scoped(ctx)
	defer done()

	o.logger.Info("placing order",
		slog.String("payment_method", string(intent.PaymentMethod)),
		slog.Int("items", len(intent.LineItems)),
	)
	resp, err := o.deps.Orders.CreateOrder(ctx, intent.ToRequest())

	o.mu.Lock()
	if o.ctx.Err() != nil {
		o.mu.Unlock()
		return nil, ErrClosed
	}

	switch {
	case err != nil:
	case resp == nil:
		err = model.NewUpstreamError("shop backend", errors.New("empty order response"))
	case intent.PaymentMethod == model.PaymentOnline && resp.RazorpayOrderID == "":
		err = model.NewUpstreamError("shop backend", errors.New("order created without a payment session"))
	}
	if err != nil {
		saveErr := model.NewSaveError("order", err)
		o.transition(StateFailed)
		o.lastErr = saveErr
		o.transition(StateReady)
		o.mu.Unlock()

		o.logger.Warn("placing order failed", slog.String("error", err.Error()))
		if errors.Is(err, model.ErrUnauthenticated) {
			o.deps.Navigator.Login()
		}
		return nil, saveErr
	}

	result := &Result{Totals: totals}
	if intent.PaymentMethod == model.PaymentCashOnDelivery {
		result.State = StateSucceeded
		result.Order = resp.Order
		o.transition(StateSucceeded)
		o.mu.Unlock()

		o.deps.Navigator.OrderHistory()
		return result, nil
	}

	session := model.PaymentSession{
		ProviderOrderID: resp.RazorpayOrderID,
		ProviderKeyID:   resp.RazorpayKeyID,
		Amount:          resp.Amount,
		Currency:        resp.Currency,
		CustomerName:    intent.ShippingName,
		CustomerPhone:   intent.PhoneNumber,
	}
	o.session = &session
	result.State = StateAwaitingPaymentRedirect
	result.Payment = &session
	o.transition(StateAwaitingPaymentRedirect)
	o.mu.Unlock()

	if o.deps.Handoff != nil {
		if err := o.deps.Handoff.Open(ctx, session); err != nil {
			o.mu.Lock()
			o.lastErr = err
			o.mu.Unlock()
			return result, fmt.Errorf("opening payment page: %w", err)
		}
	}
	return result, nil
}

// intentFields maps OrderIntent fields to the names shown to the user.
var intentFields = map[string]string{
	"LineItems":       "items",
	"ShippingAddress": "address",
	"ShippingName":    "name",
	"PhoneNumber":     "phone",
	"PaymentMethod":   "payment_method",
}

// buildIntent assembles and checks the order intent. Callers hold mu.
func (o *Orchestrator) buildIntent(req SubmitRequest) (*model.OrderIntent, error) {
	intent := &model.OrderIntent{
		LineItems:     o.items,
		ShippingName:  strings.TrimSpace(req.ShippingName),
		PhoneNumber:   strings.TrimSpace(req.PhoneNumber),
		PaymentMethod: req.PaymentMethod,
	}
	if addr, ok := o.deps.Addresses.Selected(); ok {
		intent.ShippingAddress = addr.String()
	}

	err := o.validate.Struct(intent)
	if err == nil {
		return intent, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, model.NewValidationError(err.Error())
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name, ok := intentFields[fe.StructField()]
		if !ok {
			name = fe.Field()
		}
		fields = append(fields, name)
	}
	return nil, model.NewValidationError("please complete your order details", fields...)
}

// =============================================================================
// STATE
// =============================================================================

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the most recent load or submission error.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// PaymentSession returns the session awaiting payment, if any.
func (o *Orchestrator) PaymentSession() (model.PaymentSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return model.PaymentSession{}, false
	}
	return *o.session, true
}

// Snapshot returns the state, items and totals together.
func (o *Orchestrator) Snapshot() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := make([]model.LineItem, len(o.items))
	copy(items, o.items)
	return View{
		State:     o.state,
		Items:     items,
		Totals:    o.totals,
		LastError: o.lastErr,
	}
}

// Close cancels outstanding requests. Results arriving afterwards are discarded.
func (o *Orchestrator) Close() {
	o.gen.Invalidate()
	o.cancel()
}

// transition changes state and notifies the observer. Callers hold mu.
func (o *Orchestrator) transition(to State) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	o.logger.Debug("state change", slog.String("from", string(from)), slog.String("to", string(to)))
	if o.cfg.OnTransition != nil {
		o.cfg.OnTransition(from, to)
	}
}

// scoped derives a context that is also cancelled by Close.
func (o *Orchestrator) scoped(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

type nopNavigator struct{}

func (nopNavigator) OrderHistory() {}
func (nopNavigator) Back()         {}
func (nopNavigator) Login()        {}
