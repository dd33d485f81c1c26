package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storefront/internal/model"
)

// =============================================================================
// HAND-OFF SERVER
// =============================================================================
//
// The mobile app shows the provider page in a webview and receives the result
// through window.ReactNativeWebView.postMessage. Outside the app there is no
// webview, so the server plays both parts:
//
//   GET  /pay/{session}          serves the checkout page for one payment
//   POST /pay/{session}/message  receives the page's result message
//
// Each session accepts exactly one valid message. A message without order or
// payment id is rejected with 400 and the session stays open, so the customer
// can retry on the same page.
//
// =============================================================================

// DefaultSessionTTL bounds how long an unanswered session is kept.
const DefaultSessionTTL = 30 * time.Minute

// maxMessageBytes caps the message body; real messages are a few hundred bytes.
const maxMessageBytes = 8 << 10

var (
	// ErrUnknownSession is returned for ids that were never opened or expired.
	ErrUnknownSession = errors.New("unknown payment session")

	// ErrSessionDone is returned when a session already received its message.
	ErrSessionDone = errors.New("payment session already completed")
)

// HandoffConfig configures a HandoffServer.
type HandoffConfig struct {
	// PublicURL is the externally reachable origin of the server, used to
	// build links, e.g. "http://127.0.0.1:8765".
	PublicURL    string
	MerchantName string
	SessionTTL   time.Duration
	Logger       *slog.Logger

	// Announce is called with the page URL whenever a session is opened.
	Announce func(url string, session model.PaymentSession)
}

type pendingSession struct {
	id       string
	payment  model.PaymentSession
	created  time.Time
	done     bool
	messages chan Message // buffered, capacity 1
}

// HandoffServer serves checkout pages and collects their results.
type HandoffServer struct {
	cfg    HandoffConfig
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	sessions   map[string]*pendingSession
	byProvider map[string]string // provider order id → session id
}

// NewHandoffServer creates a server. Mount its Routes on an HTTP router.
func NewHandoffServer(cfg HandoffConfig) *HandoffServer {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")
	return &HandoffServer{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "handoff")),
		now:        time.Now,
		sessions:   make(map[string]*pendingSession),
		byProvider: make(map[string]string),
	}
}

// Open registers a payment session and announces its page URL.
// Implements checkout.PaymentHandoff.
func (s *HandoffServer) Open(ctx context.Context, payment model.PaymentSession) error {
	if payment.ProviderOrderID == "" {
		return model.NewValidationError("payment session has no order id", "razorpayOrderId")
	}
	id, url := s.Start(payment)
	s.logger.Info("payment page ready",
		slog.String("session", id),
		slog.String("order_id", payment.ProviderOrderID),
	)
	if s.cfg.Announce != nil {
		s.cfg.Announce(url, payment)
	}
	return nil
}

// Start registers a payment session and returns its id and page URL.
func (s *HandoffServer) Start(payment model.PaymentSession) (id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()

	id = uuid.NewString()
	s.sessions[id] = &pendingSession{
		id:       id,
		payment:  payment,
		created:  s.now(),
		messages: make(chan Message, 1),
	}
	s.byProvider[payment.ProviderOrderID] = id
	return id, s.PageURL(id)
}

// PageURL returns the page link for a session id.
func (s *HandoffServer) PageURL(id string) string {
	return s.cfg.PublicURL + "/pay/" + id
}

// Await blocks until the session opened for providerOrderID receives its
// message, or ctx ends. A consumed session is removed; its page and message
// endpoints answer 404 afterwards.
func (s *HandoffServer) Await(ctx context.Context, providerOrderID string) (Message, error) {
	s.mu.Lock()
	id, ok := s.byProvider[providerOrderID]
	var p *pendingSession
	if ok {
		p = s.sessions[id]
	}
	s.mu.Unlock()
	if p == nil {
		return Message{}, ErrUnknownSession
	}

	select {
	case msg := <-p.messages:
		s.mu.Lock()
		s.removeLocked(p)
		s.mu.Unlock()
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Deliver records the message for a session. Invalid messages are rejected
// and leave the session open.
func (s *HandoffServer) Deliver(id string, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.sessions[id]
	if !ok || s.expiredLocked(p) {
		return ErrUnknownSession
	}
	if p.done {
		return ErrSessionDone
	}
	p.done = true
	p.messages <- msg
	return nil
}

func (s *HandoffServer) lookup(id string) (model.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sessions[id]
	if !ok || s.expiredLocked(p) {
		return model.PaymentSession{}, ErrUnknownSession
	}
	if p.done {
		return model.PaymentSession{}, ErrSessionDone
	}
	return p.payment, nil
}

func (s *HandoffServer) expiredLocked(p *pendingSession) bool {
	return s.now().Sub(p.created) > s.cfg.SessionTTL
}

func (s *HandoffServer) evictExpiredLocked() {
	for _, p := range s.sessions {
		if s.expiredLocked(p) {
			s.removeLocked(p)
		}
	}
}

func (s *HandoffServer) removeLocked(p *pendingSession) {
	delete(s.sessions, p.id)
	if s.byProvider[p.payment.ProviderOrderID] == p.id {
		delete(s.byProvider, p.payment.ProviderOrderID)
	}
}

// pending reports how many sessions are held.
func (s *HandoffServer) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// === HTTP ===

// Routes returns the hand-off endpoints on their own router.
func (s *HandoffServer) Routes() http.Handler {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

// Register adds the hand-off endpoints to an existing router.
func (s *HandoffServer) Register(r chi.Router) {
	r.Get("/pay/{session}", s.handlePage)
	r.Post("/pay/{session}/message", s.handleMessage)
}

func (s *HandoffServer) handlePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	payment, err := s.lookup(id)
	if err != nil {
		writeStatus(w, statusFor(err), err.Error())
		return
	}

	var buf bytes.Buffer
	if err := RenderCheckoutPage(&buf, PageData{
		Session:      payment,
		MerchantName: s.cfg.MerchantName,
		CallbackURL:  "/pay/" + id + "/message",
	}); err != nil {
		s.logger.Error("rendering checkout page failed", slog.String("session", id), slog.String("error", err.Error()))
		writeStatus(w, http.StatusInternalServerError, "could not render payment page")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *HandoffServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "could not read payment response")
		return
	}
	msg, err := DecodeMessage(body)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, model.UserMessage(err))
		return
	}

	if err := s.Deliver(id, msg); err != nil {
		s.logger.Warn("payment message rejected", slog.String("session", id), slog.String("error", err.Error()))
		writeStatus(w, statusFor(err), messageFor(err))
		return
	}

	s.logger.Info("payment message received",
		slog.String("session", id),
		slog.Bool("cancelled", msg.Cancelled),
	)
	writeStatus(w, http.StatusAccepted, "received")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionDone):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func messageFor(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": message})
}
