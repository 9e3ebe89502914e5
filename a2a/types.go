// Package a2a implements the agent-to-agent transport: JSON-RPC 2.0
// envelopes over HTTP POST, a pooled client with per-endpoint circuit
// breakers, and a method-dispatching server. One request per call; no
// batching, no notifications.
package a2a

import (
	"encoding/json"
	"time"
)

// Well-known methods. Servers may register application extensions beside
// them.
const (
	MethodProcessTask  = "process_task"
	MethodGetAgentCard = "get_agent_card"
)

// Timeout classes for outward calls. Every call carries one of these as its
// enforced deadline.
const (
	HealthCheckTimeout = 10 * time.Second
	StandardTimeout    = 30 * time.Second
	LongTimeout        = 120 * time.Second
	BatchTimeout       = 300 * time.Second
)

// InterruptedWorkflowKey is the task-context key a specialist uses to resume
// a previously interrupted workflow. The client strips it after a timed-out
// call so a retransmission cannot resume a workflow whose first execution
// may still be running remotely.
const InterruptedWorkflowKey = "interrupted_workflow"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is a JSON-RPC 2.0 error object. Data carries the remote error class
// and message for diagnostics.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the structured payload inside a JSON-RPC error.
type ErrorData struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// taskParams is the params object for process_task.
type taskParams struct {
	Task json.RawMessage `json:"task"`
}
