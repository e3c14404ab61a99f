package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RPCHandlerFunc produces the result for one JSON-RPC method call. Return
// a non-nil *RPCError to answer with a JSON-RPC error object instead.
type RPCHandlerFunc func(params []json.RawMessage) (any, *RPCError)

// RPCError is the JSON-RPC error object shape.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MockRPCServer serves canned JSON-RPC responses over HTTP. Methods
// without a registered handler answer with -32601.
type MockRPCServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]RPCHandlerFunc
	calls    map[string]int
}

// NewMockRPCServer starts a mock server and closes it on test cleanup.
func NewMockRPCServer(t *testing.T) *MockRPCServer {
	m := &MockRPCServer{
		handlers: make(map[string]RPCHandlerFunc),
		calls:    make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the server's base URL.
func (m *MockRPCServer) URL() string {
	return m.server.URL
}

// Handle registers the handler for a JSON-RPC method.
func (m *MockRPCServer) Handle(method string, fn RPCHandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = fn
}

// HandleResult registers a handler that always returns a fixed result.
func (m *MockRPCServer) HandleResult(method string, result any) {
	m.Handle(method, func([]json.RawMessage) (any, *RPCError) {
		return result, nil
	})
}

// Calls returns how many times a method has been invoked.
func (m *MockRPCServer) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockRPCServer) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.calls[req.Method]++
	fn, ok := m.handlers[req.Method]
	m.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = &RPCError{Code: -32601, Message: "method not found"}
	} else if result, rpcErr := fn(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// NewFailingHTTPServer starts a server that answers every request with
// the given HTTP status, for exercising transport-level failures.
func NewFailingHTTPServer(t *testing.T, status int) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(status), status)
	}))
	t.Cleanup(srv.Close)
	return srv
}
