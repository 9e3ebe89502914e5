package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nevindra/maestro"
)

// Client issues JSON-RPC calls to remote agents. Each endpoint gets its own
// circuit breaker; sessions come from the shared pool and are keyed by
// (endpoint, timeout).
type Client struct {
	pool   *sessionPool
	policy maestro.RetryPolicy
	logger *slog.Logger
	tracer maestro.Tracer

	mu       sync.Mutex
	breakers map[string]*maestro.Breaker

	breakerOpts []maestro.BreakerOption
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// ClientRetryPolicy sets the retry policy for all calls. The zero policy
// means defaults.
func ClientRetryPolicy(p maestro.RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// ClientLogger sets the structured logger.
func ClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// ClientTracer sets the tracer for outward calls.
func ClientTracer(t maestro.Tracer) ClientOption {
	return func(c *Client) { c.tracer = t }
}

// ClientBreakerOptions sets the options applied to every per-endpoint
// breaker the client creates.
func ClientBreakerOptions(opts ...maestro.BreakerOption) ClientOption {
	return func(c *Client) { c.breakerOpts = opts }
}

// NewClient returns a client with a fresh session pool.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		breakers: make(map[string]*maestro.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.pool = newSessionPool(defaultMaxIdleConns, defaultMaxConnsPerHost, defaultKeepAlive, defaultDNSCacheTTL, c.logger)
	return c
}

// Close releases the session pool.
func (c *Client) Close() {
	c.pool.close()
}

// BreakerState reports the breaker state for an endpoint, BreakerClosed if
// the endpoint has never been called.
func (c *Client) BreakerState(baseURL string) maestro.BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[baseURL]; ok {
		return b.State()
	}
	return maestro.BreakerClosed
}

func (c *Client) breaker(baseURL string) *maestro.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[baseURL]
	if !ok {
		opts := append([]maestro.BreakerOption{maestro.BreakerLogger(c.logger)}, c.breakerOpts...)
		b = maestro.NewBreaker(opts...)
		c.breakers[baseURL] = b
	}
	return b
}

// GetAgentCard fetches the agent's manifest. Card fetches run under the
// health-check timeout.
func (c *Client) GetAgentCard(ctx context.Context, baseURL string) (maestro.AgentCard, error) {
	var card maestro.AgentCard
	raw, err := c.call(ctx, baseURL, MethodGetAgentCard, nil, HealthCheckTimeout)
	if err != nil {
		return card, err
	}
	if err := json.Unmarshal(raw, &card); err != nil {
		return card, fmt.Errorf("decode agent card: %w", err)
	}
	return card, nil
}

// CallAgent sends a task to a remote agent and returns its result. The
// timeout selects the session the call rides on; pass one of the timeout
// classes. When a call times out, the interrupted-workflow marker is
// stripped from the task context so a later retransmission starts a fresh
// workflow instead of resuming one that may still be running remotely.
func (c *Client) CallAgent(ctx context.Context, baseURL string, task maestro.Task, timeout time.Duration) (maestro.TaskResult, error) {
	if timeout <= 0 {
		timeout = StandardTimeout
	}
	params, err := json.Marshal(taskParams{Task: mustMarshal(task)})
	if err != nil {
		return maestro.TaskResult{}, fmt.Errorf("encode task: %w", err)
	}

	raw, err := c.call(ctx, baseURL, MethodProcessTask, params, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && task.Context != nil {
			delete(task.Context, InterruptedWorkflowKey)
		}
		return maestro.TaskResult{}, err
	}

	var result maestro.TaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return maestro.TaskResult{}, fmt.Errorf("decode task result: %w", err)
	}
	return result, nil
}

// call runs one JSON-RPC method through the resilience stack.
func (c *Client) call(ctx context.Context, baseURL, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if c.tracer != nil {
		var span maestro.Span
		ctx, span = c.tracer.Start(ctx, "a2a.call",
			maestro.StringAttr("url", baseURL),
			maestro.StringAttr("method", method))
		defer span.End()
	}

	b := c.breaker(baseURL)
	return maestro.ResilientCall(ctx, b, c.policy, timeout, func(ctx context.Context) (json.RawMessage, error) {
		return c.post(ctx, baseURL, method, params, timeout)
	})
}

// post performs a single JSON-RPC round trip.
func (c *Client) post(ctx context.Context, baseURL, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      mustMarshal(maestro.NewID()),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.pool.get(baseURL, timeout)
	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		c.logger.Debug("a2a request failed", "url", baseURL, "method", method, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &maestro.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(b),
			RetryAfter: maestro.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		rpcErr := &maestro.ErrRPC{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
		if rpcResp.Error.Data != nil {
			rpcErr.Type = rpcResp.Error.Data.Type
		}
		return nil, rpcErr
	}

	c.logger.Debug("a2a request done",
		"url", baseURL,
		"method", method,
		"duration", time.Since(start))
	return rpcResp.Result, nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
