package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront/internal/address"
	"storefront/internal/api"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/model"
	"storefront/internal/payment"
)

// === MCP Tool Input/Output Types ===
// Optional inputs carry omitempty so the inferred schema leaves them out of "required".

// ResolveCartInput is the input schema for resolve_cart.
type ResolveCartInput struct {
	ProductID string `json:"product_id,omitempty" jsonschema:"buy a single product now; omit to use the server cart"`
}

// ResolveCartOutput lists the items a checkout would contain.
type ResolveCartOutput struct {
	Mode   cart.Mode        `json:"mode"`
	Items  []model.LineItem `json:"items"`
	Totals model.Totals     `json:"totals"`
}

// ListAddressesInput is the (empty) input schema for list_addresses.
type ListAddressesInput struct{}

// ListAddressesOutput is the saved addresses with the default selection.
type ListAddressesOutput struct {
	Addresses []model.Address `json:"addresses"`
	Selected  int             `json:"selected" jsonschema:"index of the selected address, -1 when none"`
}

// AddAddressInput is the input schema for add_address.
type AddAddressInput struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// AddAddressOutput is the saved address.
type AddAddressOutput struct {
	Address model.Address `json:"address"`
}

// PlaceOrderInput is the input schema for place_order.
type PlaceOrderInput struct {
	ProductID     string `json:"product_id,omitempty" jsonschema:"buy a single product now; omit to order the server cart"`
	ShippingName  string `json:"shipping_name" jsonschema:"name of the recipient"`
	PhoneNumber   string `json:"phone_number" jsonschema:"contact phone number"`
	PaymentMethod string `json:"payment_method" jsonschema:"cod or online"`
	AddressIndex  *int   `json:"address_index,omitempty" jsonschema:"index from list_addresses; defaults to the default address"`
}

// PaymentOutput is the provider session for online payment. Amount is kept
// as the backend's string form.
type PaymentOutput struct {
	OrderID  string `json:"razorpay_order_id"`
	KeyID    string `json:"razorpay_key_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	PageURL  string `json:"page_url,omitempty" jsonschema:"open this URL in a browser to pay"`
}

// PlaceOrderOutput reports the order outcome.
type PlaceOrderOutput struct {
	State      checkout.State `json:"state"`
	Totals     model.Totals   `json:"totals"`
	Order      *model.Order   `json:"order,omitempty"`
	Payment    *PaymentOutput `json:"payment,omitempty"`
	Navigation string         `json:"navigation,omitempty"`
}

// VerifyPaymentInput carries the provider's callback parameters.
type VerifyPaymentInput struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// PaymentMessageInput is the input schema for payment_message.
type PaymentMessageInput struct {
	OrderID     string `json:"razorpay_order_id" jsonschema:"provider order id returned by place_order"`
	WaitSeconds int    `json:"wait_seconds,omitempty" jsonschema:"how long to wait for the payment page"`
}

// PaymentOutcome reports verification of a payment.
type PaymentOutcome struct {
	Received   bool   `json:"received"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	Verified   bool   `json:"verified"`
	Message    string `json:"message,omitempty"`
	Navigation string `json:"navigation,omitempty"`
}

// ListOrdersInput is the (empty) input schema for list_orders.
type ListOrdersInput struct{}

// ListOrdersOutput is the order history.
type ListOrdersOutput struct {
	Orders []model.Order `json:"orders"`
}

// LoginInput is the input schema for login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginOutput confirms the session.
type LoginOutput struct {
	Authenticated bool `json:"authenticated"`
}

// NewMCPServer creates an MCP server with the storefront tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront",
			Version: h.cfg.Version,
		},
		&mcp.ServerOptions{
			Instructions: "Storefront checkout. Resolve the cart or a single product, " +
				"pick or add a shipping address, then place the order. Online orders " +
				"return a payment page URL; call payment_message to wait for the result.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "login",
		Description: "Log in to the shop and store the session for later calls.",
	}, h.mcpLogin)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_cart",
		Description: "Resolve checkout items and totals, for one product or the whole cart.",
	}, h.mcpResolveCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_addresses",
		Description: "List saved shipping addresses and the default selection.",
	}, h.mcpListAddresses)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_address",
		Description: "Save a new shipping address. All fields are required.",
	}, h.mcpAddAddress)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "place_order",
		Description: "Place an order with cash on delivery or online payment.",
	}, h.mcpPlaceOrder)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "verify_payment",
		Description: "Verify an online payment with the provider's order id, payment id and signature.",
	}, h.mcpVerifyPayment)

	if h.handoff != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "payment_message",
			Description: "Wait for the payment page result of an online order and verify it.",
		}, h.mcpPaymentMessage)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_orders",
		Description: "List past orders that have a payment status.",
	}, h.mcpListOrders)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpLogin(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LoginInput,
) (*mcp.CallToolResult, LoginOutput, error) {
	if _, err := h.backend.Login(ctx, model.Credentials{Email: input.Email, Password: input.Password}); err != nil {
		return nil, LoginOutput{}, h.mcpError(err)
	}
	return nil, LoginOutput{Authenticated: true}, nil
}

func (h *Handler) mcpResolveCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ResolveCartInput,
) (*mcp.CallToolResult, ResolveCartOutput, error) {
	res, err := cart.NewResolver(h.backend, h.logger).Resolve(ctx, input.ProductID)
	if err != nil {
		return nil, ResolveCartOutput{}, h.mcpError(err)
	}
	return nil, ResolveCartOutput{
		Mode:   res.Mode,
		Items:  res.Items,
		Totals: h.totals(res.Items),
	}, nil
}

func (h *Handler) mcpListAddresses(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListAddressesInput,
) (*mcp.CallToolResult, ListAddressesOutput, error) {
	mgr := address.NewManager(h.backend, h.logger)
	addrs, err := mgr.List(ctx)
	if err != nil {
		return nil, ListAddressesOutput{}, h.mcpError(err)
	}
	if addrs == nil {
		addrs = []model.Address{}
	}
	return nil, ListAddressesOutput{Addresses: addrs, Selected: mgr.SelectedIndex()}, nil
}

func (h *Handler) mcpAddAddress(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddAddressInput,
) (*mcp.CallToolResult, AddAddressOutput, error) {
	saved, err := address.NewManager(h.backend, h.logger).Add(ctx, model.AddressDraft{
		Street:  input.Street,
		City:    input.City,
		State:   input.State,
		Zip:     input.Zip,
		Country: input.Country,
	})
	if err != nil {
		return nil, AddAddressOutput{}, h.mcpError(err)
	}
	return nil, AddAddressOutput{Address: *saved}, nil
}

func (h *Handler) mcpPlaceOrder(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input PlaceOrderInput,
) (*mcp.CallToolResult, PlaceOrderOutput, error) {
	method, err := model.ParsePaymentMethod(input.PaymentMethod)
	if err != nil {
		return nil, PlaceOrderOutput{}, h.mcpError(err)
	}

	nav := &navigation{}
	addrs := address.NewManager(h.backend, h.logger)
	deps := checkout.Deps{
		Cart:      cart.NewResolver(h.backend, h.logger),
		Addresses: addrs,
		Orders:    h.backend,
		Navigator: nav,
		Logger:    h.logger,
	}
	var link *pageLink
	if h.handoff != nil {
		link = &pageLink{server: h.handoff}
		deps.Handoff = link
	}

	orch, err := checkout.New(deps, checkout.Config{
		ProductID:          input.ProductID,
		FlatDiscount:       h.cfg.FlatDiscount,
		ClampNegativeTotal: h.cfg.ClampNegativeTotal,
	})
	if err != nil {
		return nil, PlaceOrderOutput{}, h.mcpError(err)
	}
	defer orch.Close()

	if err := orch.Load(ctx); err != nil {
		return nil, PlaceOrderOutput{}, h.mcpError(err)
	}
	if input.AddressIndex != nil {
		if err := addrs.Select(*input.AddressIndex); err != nil {
			return nil, PlaceOrderOutput{}, h.mcpError(err)
		}
	}

	result, err := orch.Submit(ctx, checkout.SubmitRequest{
		ShippingName:  input.ShippingName,
		PhoneNumber:   input.PhoneNumber,
		PaymentMethod: method,
	})
	if err != nil {
		return nil, PlaceOrderOutput{}, h.mcpError(err)
	}

	out := PlaceOrderOutput{
		State:      result.State,
		Totals:     result.Totals,
		Order:      result.Order,
		Navigation: nav.last,
	}
	if p := result.Payment; p != nil {
		out.Payment = &PaymentOutput{
			OrderID:  p.ProviderOrderID,
			KeyID:    p.ProviderKeyID,
			Amount:   p.Amount.String(),
			Currency: p.Currency,
		}
		if link != nil {
			out.Payment.PageURL = link.url
		}
	}
	return nil, out, nil
}

func (h *Handler) mcpVerifyPayment(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input VerifyPaymentInput,
) (*mcp.CallToolResult, PaymentOutcome, error) {
	nav := &navigation{}
	err := h.verifier(nav).Verify(ctx, payment.CallbackParams{
		OrderID:   input.OrderID,
		PaymentID: input.PaymentID,
		Signature: input.Signature,
	})
	return h.outcome(PaymentOutcome{Received: true}, nav, err)
}

func (h *Handler) mcpPaymentMessage(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input PaymentMessageInput,
) (*mcp.CallToolResult, PaymentOutcome, error) {
	if input.OrderID == "" {
		return nil, PaymentOutcome{}, h.mcpError(model.NewValidationError("razorpay_order_id is required", "razorpay_order_id"))
	}

	wait := h.cfg.PaymentWait
	if input.WaitSeconds > 0 && time.Duration(input.WaitSeconds)*time.Second < wait {
		wait = time.Duration(input.WaitSeconds) * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msg, err := h.handoff.Await(waitCtx, input.OrderID)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, PaymentOutcome{Message: "no payment response yet"}, nil
	case errors.Is(err, payment.ErrUnknownSession):
		return nil, PaymentOutcome{}, h.mcpError(model.NewNotFoundError("payment session"))
	case err != nil:
		return nil, PaymentOutcome{}, err
	}

	nav := &navigation{}
	err = h.verifier(nav).HandleMessage(ctx, msg)
	return h.outcome(PaymentOutcome{Received: true, Cancelled: msg.Cancelled}, nav, err)
}

func (h *Handler) mcpListOrders(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListOrdersInput,
) (*mcp.CallToolResult, ListOrdersOutput, error) {
	orders, err := h.backend.ListOrders(ctx)
	if err != nil {
		return nil, ListOrdersOutput{}, h.mcpError(err)
	}
	orders = api.WithPaymentStatus(orders)
	if orders == nil {
		orders = []model.Order{}
	}
	return nil, ListOrdersOutput{Orders: orders}, nil
}

// === Helpers ===

func (h *Handler) verifier(nav *navigation) *payment.VerificationHandler {
	return payment.NewVerificationHandler(h.backend, h.backend.Store(), nav, h.logger)
}

// outcome folds a verification error into the result. A missing session is
// still a tool error so the agent knows to log in first.
func (h *Handler) outcome(out PaymentOutcome, nav *navigation, err error) (*mcp.CallToolResult, PaymentOutcome, error) {
	out.Navigation = nav.last
	if err == nil {
		out.Verified = true
		return nil, out, nil
	}
	if errors.Is(err, model.ErrUnauthenticated) {
		return nil, PaymentOutcome{}, h.mcpError(err)
	}
	out.Message = model.UserMessage(err)
	return nil, out, nil
}

func (h *Handler) totals(items []model.LineItem) model.Totals {
	t := model.ComputeTotals(items, h.cfg.FlatDiscount)
	if h.cfg.ClampNegativeTotal {
		t = t.ClampTotal()
	}
	return t
}

// mcpError converts domain errors to MCP-friendly errors. An authentication
// failure wins over whatever wraps it so the agent knows to log in.
func (h *Handler) mcpError(err error) error {
	if authErr, ok := model.AuthCause(err); ok {
		return fmt.Errorf("%s: %s; call the login tool", authErr.Code, authErr.Message)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	if errors.Is(err, checkout.ErrNotReady) || errors.Is(err, checkout.ErrSubmitInProgress) {
		return err
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", slog.String("error", err.Error()))
	return fmt.Errorf("internal error")
}
