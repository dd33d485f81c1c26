package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storefront/internal/model"
	"storefront/internal/payment"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams represents the params for tools/call method.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

func TestMCPInitialize(t *testing.T) {
	_, _, mux := testHandler(newMockBackend())

	resp := rpc(t, mux, "", jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test-client", "version": "1.0.0"},
			"capabilities":    map[string]any{},
		},
	})

	var result struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to parse initialize result: %v", err)
	}
	if result.ServerInfo.Name != "storefront" || result.ServerInfo.Version != "1.2.3" {
		t.Errorf("serverInfo = %+v", result.ServerInfo)
	}
}

func TestMCPToolsList(t *testing.T) {
	_, _, mux := testHandler(newMockBackend())
	sessionID := initMCPSession(t, mux)

	resp := rpc(t, mux, sessionID, jsonrpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})

	var toolsResult struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &toolsResult); err != nil {
		t.Fatalf("Failed to parse tools result: %v", err)
	}

	expected := map[string]bool{
		"login": false, "resolve_cart": false, "list_addresses": false, "add_address": false,
		"place_order": false, "verify_payment": false, "payment_message": false, "list_orders": false,
	}
	for _, tool := range toolsResult.Tools {
		if _, ok := expected[tool.Name]; ok {
			expected[tool.Name] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("Expected tool %q not found in tools list", name)
		}
	}
}

func TestMCPToolsListWithoutHandoff(t *testing.T) {
	h := New(newMockBackend(), nil, Config{}, testLogger())
	mux := h.Routes()
	sessionID := initMCPSession(t, mux)

	resp := rpc(t, mux, sessionID, jsonrpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})
	if strings.Contains(string(resp.Result), "payment_message") {
		t.Error("payment_message registered without a hand-off server")
	}
}

func TestMCPResolveCart(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		wantMode  string
		wantItems int
		want      model.Totals
	}{
		{
			name:      "server cart",
			args:      map[string]any{},
			wantMode:  "cart",
			wantItems: 2,
			want:      model.Totals{Subtotal: 250, TotalSaved: 20, FlatDiscount: 50, Total: 180},
		},
		{
			name:      "buy now",
			args:      map[string]any{"product_id": "p9"},
			wantMode:  "single_product",
			wantItems: 1,
			want:      model.Totals{Subtotal: 100, TotalSaved: 10, FlatDiscount: 50, Total: 40},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, mux := testHandler(newMockBackend())
			result := callTool(t, mux, "resolve_cart", tt.args)

			var out ResolveCartOutput
			decodeOutput(t, result, &out)
			if string(out.Mode) != tt.wantMode || len(out.Items) != tt.wantItems {
				t.Errorf("mode = %s, items = %d", out.Mode, len(out.Items))
			}
			if out.Totals != tt.want {
				t.Errorf("Totals = %+v, want %+v", out.Totals, tt.want)
			}
		})
	}
}

func TestMCPResolveCartEmpty(t *testing.T) {
	backend := newMockBackend()
	backend.GetCartItemsFunc = func(ctx context.Context) ([]model.CartEntry, error) {
		return nil, model.NewNotFoundError("cart")
	}
	_, _, mux := testHandler(backend)

	result := callTool(t, mux, "resolve_cart", map[string]any{})
	if !result.IsError {
		t.Fatal("Expected tool error for an empty cart")
	}
}

func TestMCPUnauthenticatedSurfacesThroughWrappers(t *testing.T) {
	expired := model.NewUnauthenticatedError("session expired")
	tests := []struct {
		name  string
		tool  string
		setup func(b *mockBackend)
	}{
		{
			name:  "cart fetch",
			tool:  "resolve_cart",
			setup: func(b *mockBackend) { b.GetCartItemsFunc = func(ctx context.Context) ([]model.CartEntry, error) { return nil, expired } },
		},
		{
			name:  "address fetch",
			tool:  "list_addresses",
			setup: func(b *mockBackend) { b.ListAddressesFunc = func(ctx context.Context) ([]model.Address, error) { return nil, expired } },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newMockBackend()
			tt.setup(backend)
			_, _, mux := testHandler(backend)

			result := callTool(t, mux, tt.tool, map[string]any{})
			if !result.IsError || len(result.Content) == 0 {
				t.Fatal("Expected tool error")
			}
			text := result.Content[0].Text
			if !strings.HasPrefix(text, "UNAUTHENTICATED: session expired") || !strings.Contains(text, "login") {
				t.Errorf("error text = %q, want the authentication failure", text)
			}
		})
	}
}

func TestMCPListAddresses(t *testing.T) {
	_, _, mux := testHandler(newMockBackend())
	result := callTool(t, mux, "list_addresses", map[string]any{})

	var out ListAddressesOutput
	decodeOutput(t, result, &out)
	if len(out.Addresses) != 2 || out.Selected != 1 {
		t.Errorf("addresses = %d, selected = %d; want 2, 1 (the default)", len(out.Addresses), out.Selected)
	}
}

func TestMCPAddAddress(t *testing.T) {
	backend := newMockBackend()
	var saved []model.AddressDraft
	backend.AddAddressFunc = func(ctx context.Context, draft model.AddressDraft) (*model.Address, error) {
		saved = append(saved, draft)
		return &model.Address{ID: "a9", Street: draft.Street, City: draft.City}, nil
	}
	_, _, mux := testHandler(backend)

	t.Run("complete", func(t *testing.T) {
		result := callTool(t, mux, "add_address", map[string]any{
			"street": " 9 Hill Rd ", "city": "Mumbai", "state": "MH", "zip": "400050", "country": "IN",
		})
		var out AddAddressOutput
		decodeOutput(t, result, &out)
		if out.Address.ID != "a9" || out.Address.Street != "9 Hill Rd" {
			t.Errorf("address = %+v", out.Address)
		}
	})

	t.Run("blank field", func(t *testing.T) {
		before := len(saved)
		result := callTool(t, mux, "add_address", map[string]any{
			"street": "9 Hill Rd", "city": " ", "state": "MH", "zip": "400050", "country": "IN",
		})
		if !result.IsError {
			t.Fatal("Expected tool error for a blank city")
		}
		if len(saved) != before {
			t.Error("backend called for an incomplete address")
		}
	})
}

func TestMCPPlaceOrderCOD(t *testing.T) {
	backend := newMockBackend()
	_, _, mux := testHandler(backend)

	result := callTool(t, mux, "place_order", map[string]any{
		"shipping_name":  "Asha",
		"phone_number":   "9999999999",
		"payment_method": "cod",
	})

	var out PlaceOrderOutput
	decodeOutput(t, result, &out)
	if out.State != "succeeded" || out.Navigation != navOrderHistory {
		t.Errorf("state = %s, navigation = %s", out.State, out.Navigation)
	}
	if out.Order == nil || out.Order.ID != "o1" {
		t.Errorf("order = %+v", out.Order)
	}
	if out.Totals.Total != 180 {
		t.Errorf("total = %v, want 180", out.Totals.Total)
	}

	if len(backend.created) != 1 {
		t.Fatalf("orders created = %d, want 1", len(backend.created))
	}
	req := backend.created[0]
	if req.ShippingAddress != "2 Park St, Kolkata, WB, 700016, IN" {
		t.Errorf("shipping address = %q, want the default address", req.ShippingAddress)
	}
	if req.PaymentMethod != model.PaymentCashOnDelivery {
		t.Errorf("payment method = %s", req.PaymentMethod)
	}
	if len(req.Products) != 2 || req.Products[0].Price != 90 {
		t.Errorf("products = %+v", req.Products)
	}
}

func TestMCPPlaceOrderAddressIndex(t *testing.T) {
	backend := newMockBackend()
	_, _, mux := testHandler(backend)

	callTool(t, mux, "place_order", map[string]any{
		"shipping_name": "Asha", "phone_number": "1", "payment_method": "cod", "address_index": 0,
	})
	if len(backend.created) != 1 || !strings.HasPrefix(backend.created[0].ShippingAddress, "1 MG Road") {
		t.Errorf("created = %+v, want the first address", backend.created)
	}

	result := callTool(t, mux, "place_order", map[string]any{
		"shipping_name": "Asha", "phone_number": "1", "payment_method": "cod", "address_index": 7,
	})
	if !result.IsError || len(backend.created) != 1 {
		t.Error("out-of-range address index should fail without creating an order")
	}
}

func TestMCPPlaceOrderOnline(t *testing.T) {
	backend := newMockBackend()
	backend.CreateOrderFunc = func(ctx context.Context, order model.CreateOrderRequest) (*model.CreateOrderResponse, error) {
		return &model.CreateOrderResponse{
			RazorpayOrderID: "order_Q",
			RazorpayKeyID:   "rzp_k",
			Amount:          "18000",
			Currency:        "INR",
		}, nil
	}
	_, _, mux := testHandler(backend)

	result := callTool(t, mux, "place_order", map[string]any{
		"product_id": "p9", "shipping_name": "Asha", "phone_number": "9999999999", "payment_method": "online",
	})

	var out PlaceOrderOutput
	decodeOutput(t, result, &out)
	if out.State != "awaiting_payment_redirect" || out.Navigation != "" {
		t.Errorf("state = %s, navigation = %q", out.State, out.Navigation)
	}
	if out.Payment == nil {
		t.Fatal("missing payment session")
	}
	if out.Payment.OrderID != "order_Q" || out.Payment.KeyID != "rzp_k" || out.Payment.Amount != "18000" {
		t.Errorf("payment = %+v", out.Payment)
	}
	if !strings.HasPrefix(out.Payment.PageURL, "http://127.0.0.1:8765/pay/") {
		t.Errorf("page_url = %q", out.Payment.PageURL)
	}
}

func TestMCPPlaceOrderErrors(t *testing.T) {
	tests := []struct {
		name  string
		args  map[string]any
		setup func(*mockBackend)
	}{
		{
			name: "unknown payment method",
			args: map[string]any{"shipping_name": "A", "phone_number": "1", "payment_method": "cheque"},
		},
		{
			name: "missing name",
			args: map[string]any{"shipping_name": "", "phone_number": "1", "payment_method": "cod"},
		},
		{
			name: "backend rejects order",
			args: map[string]any{"shipping_name": "A", "phone_number": "1", "payment_method": "cod"},
			setup: func(m *mockBackend) {
				m.CreateOrderFunc = func(ctx context.Context, order model.CreateOrderRequest) (*model.CreateOrderResponse, error) {
					return nil, model.NewUpstreamError("shop backend", errors.New("boom"))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newMockBackend()
			if tt.setup != nil {
				tt.setup(backend)
			}
			_, _, mux := testHandler(backend)

			if result := callTool(t, mux, "place_order", tt.args); !result.IsError {
				t.Error("Expected tool error")
			}
		})
	}
}

func TestMCPVerifyPayment(t *testing.T) {
	args := map[string]any{"razorpay_order_id": "order_Q", "razorpay_payment_id": "pay_1", "razorpay_signature": "sig"}

	t.Run("verified", func(t *testing.T) {
		_, _, mux := testHandler(newMockBackend())
		var out PaymentOutcome
		decodeOutput(t, callTool(t, mux, "verify_payment", args), &out)
		if !out.Verified || out.Navigation != navOrderHistory {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		backend := newMockBackend()
		backend.VerifyPaymentFunc = func(ctx context.Context, req model.VerificationRequest) (*model.VerificationResponse, error) {
			return &model.VerificationResponse{Success: false}, nil
		}
		_, _, mux := testHandler(backend)
		var out PaymentOutcome
		decodeOutput(t, callTool(t, mux, "verify_payment", args), &out)
		if out.Verified || out.Navigation != navBack || out.Message == "" {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("logged out", func(t *testing.T) {
		backend := newMockBackend()
		backend.store.ClearToken(context.Background())
		_, _, mux := testHandler(backend)
		if result := callTool(t, mux, "verify_payment", args); !result.IsError {
			t.Error("Expected tool error without a session")
		}
	})
}

func TestMCPPaymentMessage(t *testing.T) {
	session := model.PaymentSession{ProviderOrderID: "order_Q", ProviderKeyID: "rzp_k", Amount: "100"}

	t.Run("paid", func(t *testing.T) {
		_, handoff, mux := testHandler(newMockBackend())
		id, _ := handoff.Start(session)
		if err := handoff.Deliver(id, payment.Message{OrderID: "order_Q", PaymentID: "pay_1", Signature: "sig"}); err != nil {
			t.Fatal(err)
		}

		var out PaymentOutcome
		decodeOutput(t, callTool(t, mux, "payment_message", map[string]any{"razorpay_order_id": "order_Q"}), &out)
		if !out.Received || !out.Verified || out.Navigation != navOrderHistory {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		_, handoff, mux := testHandler(newMockBackend())
		id, _ := handoff.Start(session)
		handoff.Deliver(id, payment.Message{Cancelled: true})

		var out PaymentOutcome
		decodeOutput(t, callTool(t, mux, "payment_message", map[string]any{"razorpay_order_id": "order_Q"}), &out)
		if !out.Cancelled || out.Verified || out.Navigation != navBack {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("no response yet", func(t *testing.T) {
		_, handoff, mux := testHandler(newMockBackend())
		handoff.Start(session)

		var out PaymentOutcome
		decodeOutput(t, callTool(t, mux, "payment_message", map[string]any{"razorpay_order_id": "order_Q", "wait_seconds": 1}), &out)
		if out.Received || out.Verified {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		_, _, mux := testHandler(newMockBackend())
		if result := callTool(t, mux, "payment_message", map[string]any{"razorpay_order_id": "order_X"}); !result.IsError {
			t.Error("Expected tool error for an unknown order")
		}
	})
}

func TestMCPListOrders(t *testing.T) {
	backend := newMockBackend()
	backend.ListOrdersFunc = func(ctx context.Context) ([]model.Order, error) {
		return []model.Order{
			{ID: "o1", Payment: &model.OrderPayment{Method: "COD", Status: "pending"}},
			{ID: "o2"},
			{ID: "o3", Payment: &model.OrderPayment{Method: "Online", Status: "paid"}},
		}, nil
	}
	_, _, mux := testHandler(backend)

	var out ListOrdersOutput
	decodeOutput(t, callTool(t, mux, "list_orders", map[string]any{}), &out)
	if len(out.Orders) != 2 || out.Orders[0].ID != "o1" || out.Orders[1].ID != "o3" {
		t.Errorf("orders = %+v, want o1 and o3", out.Orders)
	}
}

func TestMCPLogin(t *testing.T) {
	backend := newMockBackend()
	backend.store.ClearToken(context.Background())
	_, _, mux := testHandler(backend)

	var out LoginOutput
	decodeOutput(t, callTool(t, mux, "login", map[string]any{"email": "a@b.c", "password": "pw"}), &out)
	if !out.Authenticated {
		t.Error("login not reported")
	}
	if tok, _ := backend.store.Token(context.Background()); tok != "fresh" {
		t.Errorf("stored token = %q, want fresh", tok)
	}
}

// === Helpers ===

func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// MCP Streamable HTTP requires Accept header with both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) ([]byte, error) {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: ")), nil
		}
	}
	// If no SSE format found, assume plain JSON
	return []byte(body), nil
}

// rpc posts one JSON-RPC request and returns the decoded response.
func rpc(t *testing.T, mux http.Handler, sessionID string, req jsonrpcRequest) jsonrpcResponse {
	t.Helper()

	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, sessionID)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	jsonData, err := parseSSEResponse(w.Body.String())
	if err != nil {
		t.Fatalf("Failed to parse SSE response: %v", err)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(jsonData, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v\nBody: %s", err, string(jsonData))
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	return resp
}

// initMCPSession initializes an MCP session and returns the session ID.
func initMCPSession(t *testing.T, mux http.Handler) string {
	t.Helper()

	body, _ := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]any{},
		},
	})
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, "")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Failed to initialize MCP session: %s", w.Body.String())
	}
	return w.Header().Get("Mcp-Session-Id")
}

// callTool opens a session, calls one tool and returns its result.
func callTool(t *testing.T, mux http.Handler, name string, args map[string]any) callToolResult {
	t.Helper()

	sessionID := initMCPSession(t, mux)
	rawArgs, _ := json.Marshal(args)
	resp := rpc(t, mux, sessionID, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  toolCallParams{Name: name, Arguments: rawArgs},
	})

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	return result
}

// decodeOutput reads the tool's structured output, falling back to the
// JSON text content.
func decodeOutput(t *testing.T, result callToolResult, v any) {
	t.Helper()

	if result.IsError {
		var text string
		if len(result.Content) > 0 {
			text = result.Content[0].Text
		}
		t.Fatalf("Expected success, got error: %s", text)
	}
	data := []byte(result.StructuredContent)
	if len(data) == 0 && len(result.Content) > 0 {
		data = []byte(result.Content[0].Text)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("Failed to parse tool output: %v\n%s", err, data)
	}
}
