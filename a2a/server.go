package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Handler processes the params of one JSON-RPC method and returns the
// result value, which is serialized into the response envelope.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// InvalidParams marks err as a params validation failure so the server maps
// it to the invalid-params error code instead of internal error.
func InvalidParams(err error) error {
	return invalidParamsError{err}
}

type invalidParamsError struct{ err error }

func (e invalidParamsError) Error() string { return e.err.Error() }
func (e invalidParamsError) Unwrap() error { return e.err }

// Server dispatches JSON-RPC 2.0 requests to registered method handlers.
// A semaphore bounds concurrent requests; a saturated server answers 503 so
// the caller's retry loop backs off instead of queueing.
type Server struct {
	methods map[string]Handler
	sem     chan struct{}
	logger  *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerConcurrency sets the maximum number of in-flight requests
// (default: 64).
func ServerConcurrency(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// ServerLogger sets the structured logger.
func ServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer returns a server with no methods registered.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		methods: make(map[string]Handler),
		sem:     make(chan struct{}, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Register binds a handler to a method name. Later registrations replace
// earlier ones. Not safe to call after the server starts serving.
func (s *Server) Register(method string, h Handler) {
	s.methods[method] = h
}

// RegisterCard registers the get_agent_card method serving a fixed card.
func (s *Server) RegisterCard(card any) {
	s.Register(MethodGetAgentCard, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return card, nil
	})
}

// ServeHTTP implements http.Handler. GET /healthz answers 200 for probes;
// everything else must be a POSTed JSON-RPC request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/healthz" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	default:
		s.logger.Warn("server saturated, rejecting request")
		w.Header().Set("Retry-After", "1")
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, CodeParse, "parse error", err)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeError(w, req.ID, CodeInvalidRequest, "invalid request", nil)
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		writeError(w, req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		return
	}

	result, err := s.dispatch(r.Context(), handler, req)
	if err != nil {
		var ip invalidParamsError
		if errors.As(err, &ip) {
			writeError(w, req.ID, CodeInvalidParams, "invalid params", err)
			return
		}
		s.logger.Error("handler failed", "method", req.Method, "error", err)
		writeError(w, req.ID, CodeInternal, "internal error", err)
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("result encoding failed", "method", req.Method, "error", err)
		writeError(w, req.ID, CodeInternal, "internal error", err)
		return
	}
	writeResponse(w, Response{JSONRPC: "2.0", Result: raw, ID: req.ID})
}

// dispatch runs the handler with panic recovery. A panicking handler fails
// its own request, not the server.
func (s *Server) dispatch(ctx context.Context, h Handler, req Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "method", req.Method, "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, req.Params)
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string, cause error) {
	e := &Error{Code: code, Message: message}
	if cause != nil {
		e.Data = &ErrorData{Type: fmt.Sprintf("%T", errors.Unwrap(cause)), Message: cause.Error()}
		if e.Data.Type == "<nil>" {
			e.Data.Type = fmt.Sprintf("%T", cause)
		}
	}
	if id == nil {
		id = json.RawMessage("null")
	}
	writeResponse(w, Response{JSONRPC: "2.0", Error: e, ID: id})
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
