package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nevindra/maestro"
)

func postRPC(t *testing.T, srv *Server, body string) Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestServer_Dispatch(t *testing.T) {
	srv := NewServer()
	srv.Register("echo", func(_ context.Context, params json.RawMessage) (any, error) {
		var in map[string]string
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, InvalidParams(err)
		}
		return in, nil
	})

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","method":"echo","params":{"k":"v"},"id":1}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var out map[string]string
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if out["k"] != "v" {
		t.Errorf(`result["k"] = %q, want "v"`, out["k"])
	}
	if string(resp.ID) != "1" {
		t.Errorf("id = %s, want 1", resp.ID)
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	srv := NewServer()
	srv.Register("boom", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("kaput")
	})
	srv.Register("strict", func(_ context.Context, params json.RawMessage) (any, error) {
		return nil, InvalidParams(errors.New("missing field"))
	})
	srv.Register("panics", func(context.Context, json.RawMessage) (any, error) {
		panic("surprise")
	})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{not json`, CodeParse},
		{"invalid request", `{"jsonrpc":"1.0","method":"echo","id":1}`, CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{"method not found", `{"jsonrpc":"2.0","method":"nope","id":1}`, CodeMethodNotFound},
		{"invalid params", `{"jsonrpc":"2.0","method":"strict","id":1}`, CodeInvalidParams},
		{"handler error", `{"jsonrpc":"2.0","method":"boom","id":1}`, CodeInternal},
		{"handler panic", `{"jsonrpc":"2.0","method":"panics","id":1}`, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRPC(t, srv, tt.body)
			if resp.Error == nil {
				t.Fatal("expected error, got result")
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %d, want %d", resp.Error.Code, tt.code)
			}
		})
	}
}

func TestServer_SaturationReturns503(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	srv := NewServer(ServerConcurrency(1))
	srv.Register("slow", func(context.Context, json.RawMessage) (any, error) {
		close(started)
		<-release
		return "done", nil
	})

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","method":"slow","id":1}`))
		srv.ServeHTTP(httptest.NewRecorder(), req)
	}()
	<-started

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","method":"slow","id":2}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	close(release)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestServer_Healthz(t *testing.T) {
	srv := NewServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestClient_CallAgent(t *testing.T) {
	srv := NewServer()
	srv.Register(MethodProcessTask, func(_ context.Context, params json.RawMessage) (any, error) {
		var p taskParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidParams(err)
		}
		var task maestro.Task
		if err := json.Unmarshal(p.Task, &task); err != nil {
			return nil, InvalidParams(err)
		}
		return maestro.TaskResult{
			Status:    maestro.TaskCompleted,
			Artifacts: []maestro.Artifact{maestro.NewArtifact(task.ID, "text/plain", []byte("result for "+task.Instruction))},
		}, nil
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := NewClient()
	defer c.Close()

	result, err := c.CallAgent(context.Background(), ts.URL, maestro.NewTask("analyze"), StandardTimeout)
	if err != nil {
		t.Fatalf("CallAgent: %v", err)
	}
	if result.Status != maestro.TaskCompleted {
		t.Errorf("status = %q, want %q", result.Status, maestro.TaskCompleted)
	}
	if got, want := result.Text(), "result for analyze"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestClient_GetAgentCard(t *testing.T) {
	card := maestro.AgentCard{Name: "researcher", Version: "1.2.0", Capabilities: []string{"research"}}
	srv := NewServer()
	srv.RegisterCard(card)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := NewClient()
	defer c.Close()

	got, err := c.GetAgentCard(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("GetAgentCard: %v", err)
	}
	if !got.SameIdentity(card) {
		t.Errorf("card = %s/%s, want %s/%s", got.Name, got.Version, card.Name, card.Version)
	}
	if !got.HasCapability("research") {
		t.Error("card lost its capabilities in transit")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		writeResponse(w, Response{JSONRPC: "2.0", Result: json.RawMessage(`{"status":"completed","artifacts":[]}`), ID: json.RawMessage("1")})
	}))
	defer ts.Close()

	c := NewClient(ClientRetryPolicy(maestro.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}))
	defer c.Close()

	result, err := c.CallAgent(context.Background(), ts.URL, maestro.NewTask("t"), StandardTimeout)
	if err != nil {
		t.Fatalf("CallAgent: %v", err)
	}
	if result.Status != maestro.TaskCompleted {
		t.Errorf("status = %q, want completed", result.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer ts.Close()

	c := NewClient(ClientRetryPolicy(maestro.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	defer c.Close()

	_, err := c.CallAgent(context.Background(), ts.URL, maestro.NewTask("t"), StandardTimeout)
	var httpErr *maestro.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest {
		t.Fatalf("err = %v, want ErrHTTP 400", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}

func TestClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := NewServer()
	srv.Register(MethodProcessTask, func(context.Context, json.RawMessage) (any, error) {
		calls.Add(1)
		return nil, errors.New("specialist blew up")
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := NewClient(ClientRetryPolicy(maestro.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	defer c.Close()

	_, err := c.CallAgent(context.Background(), ts.URL, maestro.NewTask("t"), StandardTimeout)
	var rpcErr *maestro.ErrRPC
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want ErrRPC", err)
	}
	if rpcErr.Code != CodeInternal {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeInternal)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestClient_BreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(
		ClientRetryPolicy(maestro.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}),
		ClientBreakerOptions(maestro.BreakerThreshold(1), maestro.BreakerTimeout(time.Hour)),
	)
	defer c.Close()

	if _, err := c.CallAgent(context.Background(), ts.URL, maestro.NewTask("t"), StandardTimeout); err == nil {
		t.Fatal("expected first call to fail")
	}
	if got := c.BreakerState(ts.URL); got != maestro.BreakerOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	before := calls.Load()
	_, err := c.CallAgent(context.Background(), ts.URL, maestro.NewTask("t"), StandardTimeout)
	if !errors.Is(err, maestro.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != before {
		t.Error("open breaker let a request through")
	}
}

// A slow call on a long-timeout session must not be starved by a short
// health-check timeout on the same endpoint: the two ride separate sessions.
func TestPool_TimeoutIsolation(t *testing.T) {
	srv := NewServer()
	srv.Register(MethodProcessTask, func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-time.After(150 * time.Millisecond):
			return maestro.TaskResult{Status: maestro.TaskCompleted}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := NewClient(ClientRetryPolicy(maestro.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}))
	defer c.Close()

	if _, err := c.CallAgent(context.Background(), ts.URL, maestro.NewTask("t"), 30*time.Millisecond); err == nil {
		t.Fatal("short-timeout call should have timed out")
	}

	result, err := c.CallAgent(context.Background(), ts.URL, maestro.NewTask("t"), 2*time.Second)
	if err != nil {
		t.Fatalf("long-timeout call failed: %v", err)
	}
	if result.Status != maestro.TaskCompleted {
		t.Errorf("status = %q, want completed", result.Status)
	}
	if got := c.pool.size(); got != 2 {
		t.Errorf("pool sessions = %d, want 2 (one per timeout)", got)
	}
}

func TestClient_TimeoutStripsInterruptedWorkflow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
	}))
	defer ts.Close()

	c := NewClient(ClientRetryPolicy(maestro.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}))
	defer c.Close()

	task := maestro.NewTask("resume work")
	task.Context[InterruptedWorkflowKey] = "wf-123"

	_, err := c.CallAgent(context.Background(), ts.URL, task, 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if _, ok := task.Context[InterruptedWorkflowKey]; ok {
		t.Error("interrupted-workflow marker survived a timed-out call")
	}
}

func TestSessionPool_SweepRecyclesIdle(t *testing.T) {
	p := newSessionPool(defaultMaxIdleConns, defaultMaxConnsPerHost, defaultKeepAlive, defaultDNSCacheTTL, slog.Default())
	defer p.close()

	p.get("http://a.example", StandardTimeout)
	p.get("http://b.example", HealthCheckTimeout)
	if got := p.size(); got != 2 {
		t.Fatalf("size = %d, want 2", got)
	}

	p.sweep(time.Now().Add(p.recycleAge + time.Second))
	if got := p.size(); got != 0 {
		t.Errorf("after sweep size = %d, want 0", got)
	}
}
