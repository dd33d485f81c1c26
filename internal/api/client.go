// Package api is the REST client for the shop backend.
//
// Every call goes to a single fixed origin. Authenticated calls read the
// token from the session store immediately before the request and fail with
// an Unauthenticated error, without touching the network, when none is
// stored. Backend failures are normalized to model.APIError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront/internal/model"
	"storefront/internal/session"
	"storefront/internal/transport"
)

// DefaultBaseURL is the production backend origin.
const DefaultBaseURL = "https://magictreebackend.onrender.com"

// serviceName labels upstream errors.
const serviceName = "shop backend"

// userAgent identifies this client to the backend and its CDN.
const userAgent = "storefront-client/1.0"

// RequestIDHeader correlates client logs with backend logs.
const RequestIDHeader = "X-Request-ID"

// Config holds client configuration.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	ChromeTLS     bool
	ClientVersion string
	Store         session.Store
	Logger        *slog.Logger

	// HTTPClient overrides the transport stack built from the fields above.
	HTTPClient *http.Client
}

// Client talks to the shop backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	store      session.Store
	logger     *slog.Logger
}

// New creates a backend client.
func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: transport.New(transport.Options{
				Timeout:   timeout,
				ChromeTLS: cfg.ChromeTLS,
				App:       "storefront",
				Version:   cfg.ClientVersion,
			}),
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		store:      cfg.Store,
		logger:     logger,
	}, nil
}

// Store returns the session store the client reads tokens from.
func (c *Client) Store() session.Store {
	return c.store
}

// === Catalog & Cart ===

// GetProduct fetches one product. No authentication is needed.
func (c *Client) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	if productID == "" {
		return nil, model.NewValidationError("product id is required", "product_id")
	}

	var resp model.ProductResponse
	if err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/products/" + productID,
		resource: "product",
		out:      &resp,
	}); err != nil {
		return nil, err
	}
	return &resp.Product, nil
}

// GetCartItems fetches the server-side cart of the logged-in user.
// A cart that was never created is reported by the backend as 404.
func (c *Client) GetCartItems(ctx context.Context) ([]model.CartEntry, error) {
	var resp model.CartResponse
	if err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/cart/items",
		auth:     true,
		resource: "cart",
		out:      &resp,
	}); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// === Addresses ===

// ListAddresses fetches the saved addresses in backend order.
func (c *Client) ListAddresses(ctx context.Context) ([]model.Address, error) {
	var addresses []model.Address
	if err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/user/addresses",
		auth:     true,
		resource: "addresses",
		out:      &addresses,
	}); err != nil {
		return nil, err
	}
	return addresses, nil
}

// AddAddress saves a new address and returns the backend's record of it.
// Some deployments answer with the full updated list; the last entry is the
// new address in that case.
func (c *Client) AddAddress(ctx context.Context, draft model.AddressDraft) (*model.Address, error) {
	var raw json.RawMessage
	if err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/user/addresses",
		auth:     true,
		body:     draft,
		resource: "address",
		out:      &raw,
	}); err != nil {
		return nil, err
	}

	created := model.Address{
		Street:  draft.Street,
		City:    draft.City,
		State:   draft.State,
		Zip:     draft.Zip,
		Country: draft.Country,
	}

	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return &created, nil
	case trimmed[0] == '[':
		var list []model.Address
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parsing address list: %w", err)
		}
		if len(list) > 0 {
			created = list[len(list)-1]
		}
	case trimmed[0] == '{':
		var addr model.Address
		if err := json.Unmarshal(trimmed, &addr); err != nil {
			return nil, fmt.Errorf("parsing address: %w", err)
		}
		if addr.Street != "" || addr.ID != "" {
			created = addr
		}
	}
	return &created, nil
}

// === Orders & Payment ===

// CreateOrder submits an order. For online payment the response carries the
// provider session; for cash on delivery it carries the order record.
func (c *Client) CreateOrder(ctx context.Context, order model.CreateOrderRequest) (*model.CreateOrderResponse, error) {
	var raw json.RawMessage
	if err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/order/create",
		auth:     true,
		body:     order,
		resource: "order",
		out:      &raw,
	}); err != nil {
		return nil, err
	}

	var resp model.CreateOrderResponse
	if len(bytes.TrimSpace(raw)) == 0 {
		return &resp, nil
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parsing order response: %w", err)
	}
	if resp.RazorpayOrderID == "" {
		var wrapped struct {
			Order *model.Order `json:"order"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Order != nil {
			resp.Order = wrapped.Order
		} else {
			var order model.Order
			if err := json.Unmarshal(raw, &order); err == nil {
				resp.Order = &order
			}
		}
	}
	return &resp, nil
}

// VerifyPayment asks the backend to verify a provider payment signature.
func (c *Client) VerifyPayment(ctx context.Context, req model.VerificationRequest) (*model.VerificationResponse, error) {
	var resp model.VerificationResponse
	if err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/payment/verify",
		auth:     true,
		body:     req,
		resource: "payment",
		out:      &resp,
	}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListOrders fetches the order history of the logged-in user.
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	if err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/order/",
		auth:     true,
		resource: "orders",
		out:      &orders,
	}); err != nil {
		return nil, err
	}
	return orders, nil
}

// WithPaymentStatus keeps the orders that have a recorded payment status,
// the subset the order history screen shows.
func WithPaymentStatus(orders []model.Order) []model.Order {
	var out []model.Order
	for _, o := range orders {
		if o.Payment != nil && o.Payment.Status != "" {
			out = append(out, o)
		}
	}
	return out
}

// === Accounts ===

// Login authenticates and stores the returned token.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (*model.AuthResponse, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, model.NewValidationError("email and password are required", missing(map[string]string{
			"email":    creds.Email,
			"password": creds.Password,
		})...)
	}
	return c.authenticate(ctx, "/user/login", creds)
}

// Register creates an account and stores the returned token.
func (c *Client) Register(ctx context.Context, reg model.Registration) (*model.AuthResponse, error) {
	if fields := missing(map[string]string{
		"name":     reg.Name,
		"email":    reg.Email,
		"password": reg.Password,
	}); len(fields) > 0 {
		return nil, model.NewValidationError("missing registration details", fields...)
	}
	return c.authenticate(ctx, "/user/register", reg)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	if err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     path,
		body:     body,
		resource: "account",
		out:      &resp,
	}); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, model.NewUpstreamError(serviceName, fmt.Errorf("%s returned no token", path))
	}
	if err := c.store.SetToken(ctx, resp.Token); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return &resp, nil
}

// Logout forgets the stored token. The backend keeps no session state.
func (c *Client) Logout(ctx context.Context) error {
	return c.store.ClearToken(ctx)
}

// Me fetches the logged-in user's profile.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/user/me",
		auth:     true,
		resource: "user",
		out:      &user,
	}); err != nil {
		return nil, err
	}
	return &user, nil
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// request describes one backend call.
type request struct {
	method   string
	path     string
	auth     bool
	body     any
	resource string // used in NotFound messages
	out      any
}

// errorResponse is the backend's error body. Routes disagree on the key.
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e errorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// do executes a request and decodes a successful JSON body into r.out.
func (c *Client) do(ctx context.Context, r request) error {
	var token string
	if r.auth {
		t, err := c.store.Token(ctx)
		if err != nil {
			return err
		}
		token = t
	}

	var bodyReader io.Reader
	if r.body != nil {
		jsonBody, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	requestID := uuid.NewString()
	c.setHeaders(req, token, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return model.NewUpstreamError(serviceName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("backend call",
		slog.String("method", r.method),
		slog.String("path", r.path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
		slog.String("request_id", requestID),
	)

	if resp.StatusCode >= 400 {
		return parseErrorResponse(r.resource, resp.StatusCode, respBody)
	}

	if r.out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if raw, ok := r.out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respBody...)
		return nil
	}
	if err := json.Unmarshal(respBody, r.out); err != nil {
		return fmt.Errorf("parsing %s response: %w", r.resource, err)
	}
	return nil
}

// setHeaders sets headers for backend requests.
func (c *Client) setHeaders(req *http.Request, token, requestID string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// parseErrorResponse converts a backend error to APIError.
func parseErrorResponse(resource string, statusCode int, body []byte) error {
	var beErr errorResponse
	json.Unmarshal(body, &beErr) // Best effort parse
	msg := beErr.text()

	switch statusCode {
	case 401, 403:
		if msg == "" {
			msg = "your session has expired, please log in again"
		}
		return model.NewUnauthenticatedError(msg)
	case 404:
		return model.NewNotFoundError(resource)
	case 400, 422:
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError(msg)
	default:
		return model.NewUpstreamError(serviceName,
			fmt.Errorf("status %d: %s", statusCode, msg))
	}
}

// missing returns the names of empty values in a fixed order.
func missing(fields map[string]string) []string {
	var names []string
	for _, name := range []string{"name", "email", "phone", "password"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			names = append(names, name)
		}
	}
	return names
}
