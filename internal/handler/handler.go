// Package handler exposes the storefront checkout over MCP and serves the
// payment hand-off pages and health checks.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"storefront/internal/address"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/model"
	"storefront/internal/payment"
	"storefront/internal/session"
)

// Backend is the shop backend surface the tools need. *api.Client satisfies it.
type Backend interface {
	cart.Backend
	address.Backend
	checkout.OrderBackend
	payment.Verifier
	ListOrders(ctx context.Context) ([]model.Order, error)
	Login(ctx context.Context, creds model.Credentials) (*model.AuthResponse, error)
	Store() session.Store
}

// Config tunes pricing and payment waiting for tool calls.
type Config struct {
	Version            string
	FlatDiscount       float64
	ClampNegativeTotal bool

	// PaymentWait bounds how long payment_message blocks when the caller
	// does not ask for a shorter wait.
	PaymentWait time.Duration
}

// DefaultPaymentWait is used when Config.PaymentWait is zero.
const DefaultPaymentWait = 2 * time.Minute

// Handler holds dependencies for MCP tools and HTTP endpoints.
type Handler struct {
	backend Backend
	handoff *payment.HandoffServer
	cfg     Config
	logger  *slog.Logger
}

// New creates a Handler. handoff may be nil, in which case online orders
// return the provider session without a page URL and payment_message is
// unavailable.
func New(backend Backend, handoff *payment.HandoffServer, cfg Config, logger *slog.Logger) *Handler {
	if cfg.PaymentWait <= 0 {
		cfg.PaymentWait = DefaultPaymentWait
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		backend: backend,
		handoff: handoff,
		cfg:     cfg,
		logger:  logger,
	}
}

// Routes returns the full HTTP surface: /mcp, /health and the /pay pages.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Handle("/mcp", h.NewMCPHandler())
	r.Get("/health", h.handleHealth)
	r.Get("/healthz", h.handleHealth)
	if h.handoff != nil {
		h.handoff.Register(r)
	}
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.cfg.Version,
	})
}

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// navigation records where the app would go next. Tool outputs report it so
// agents can follow the same flow as the mobile screens.
type navigation struct {
	last string
}

const (
	navOrderHistory = "order_history"
	navBack         = "back"
	navLogin        = "login"
)

func (n *navigation) OrderHistory() { n.last = navOrderHistory }
func (n *navigation) Back()         { n.last = navBack }
func (n *navigation) Login()        { n.last = navLogin }

// pageLink opens payment sessions on the hand-off server and keeps the URL
// for the tool result instead of announcing it.
type pageLink struct {
	server *payment.HandoffServer
	url    string
}

func (p *pageLink) Open(ctx context.Context, s model.PaymentSession) error {
	_, p.url = p.server.Start(s)
	return nil
}
