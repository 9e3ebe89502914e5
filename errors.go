package maestro

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrLLM is a provider-level failure building or decoding a model request.
// Rejected, never retried.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrCircuitOpen is returned when a circuit breaker rejects a call without
// invoking the operation. Never retried.
var ErrCircuitOpen = errors.New("circuit open")

// ErrNoAgent is returned by capability queries when no healthy agent
// advertises the requested capability.
var ErrNoAgent = errors.New("no agent available")

// ErrHTTP is a transport-level HTTP failure. Status >= 500 is retryable;
// 4xx is a rejected request and is surfaced to the caller unchanged.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, 0 if absent
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrRPC is a JSON-RPC error response from a remote agent. Rejected,
// never retried.
type ErrRPC struct {
	Code    int
	Message string
	Type    string // remote error class from error.data, "" if absent
}

func (e *ErrRPC) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("rpc %d: %s: %s", e.Code, e.Type, e.Message)
	}
	return fmt.Sprintf("rpc %d: %s", e.Code, e.Message)
}

// ErrRecursionLimit is returned when a graph run exceeds its node activation
// budget. The last checkpoint written before the limit remains valid.
type ErrRecursionLimit struct {
	Graph string
	Limit int
}

func (e *ErrRecursionLimit) Error() string {
	return fmt.Sprintf("graph %s: recursion limit %d exceeded", e.Graph, e.Limit)
}

// ErrPersistence wraps a store write failure. The in-memory state keeps the
// written value; the error is recorded as an event and the next successful
// write closes the gap.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e *ErrPersistence) Error() string { return fmt.Sprintf("persist %s: %v", e.Op, e.Err) }
func (e *ErrPersistence) Unwrap() error { return e.Err }

// ErrExtraction wraps a memory extraction failure. The update cursor is not
// advanced so the same messages are retried on the next trigger.
type ErrExtraction struct {
	Err error
}

func (e *ErrExtraction) Error() string { return fmt.Sprintf("memory extraction: %v", e.Err) }
func (e *ErrExtraction) Unwrap() error { return e.Err }

// ErrValidation is a configuration or schema violation. Fatal at init;
// at runtime callers fall back to a safe default and log a warning.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Message) }

// ParseRetryAfter reads a Retry-After header value in seconds form.
// HTTP-date form is not supported; 0 means absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
