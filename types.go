package maestro

import "encoding/json"

// --- Conversation types ---

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry in the conversation flowing through the graph.
// Every message carries a unique ID; the messages reducer deduplicates on it,
// which makes replays idempotent. A message with Remove set is a directive:
// the reducer elides the message whose ID matches and the directive itself
// never appears in the merged sequence.
type Message struct {
	ID         string          `json:"id"`
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Remove     bool            `json:"remove,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Event is an orchestrator lifecycle record kept in state for diagnostics.
// The events reducer appends and caps the sequence (oldest dropped first).
type Event struct {
	Type string `json:"type"`
	Node string `json:"node,omitempty"`
	Text string `json:"text,omitempty"`
	At   int64  `json:"at"`
}

// Event types recorded in state.
const (
	EventNodeStart   = "node_start"
	EventNodeEnd     = "node_end"
	EventNodeError   = "node_error"
	EventPersistErr  = "persist_error"
	EventAgentCall   = "agent_call"
	EventInterrupted = "interrupted"
	EventResumed     = "resumed"
)

// --- LLM protocol types ---

type ChatRequest struct {
	Messages       []ChatMessage   `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	ResponseSchema *ResponseSchema `json:"response_schema,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
}

// ChatMessage is the provider-facing message shape. Graph Messages are
// converted to ChatMessages when building a request; remove directives and
// internal metadata never reach the provider.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ResponseSchema constrains provider output to a JSON shape. Providers that
// support structured output enforce it server-side; the caller still
// validates on parse.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleUser, Content: text}
}

func SystemMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleSystem, Content: text}
}

func AssistantMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Content: text}
}

func ToolResultMessage(callID, content string) Message {
	return Message{ID: NewID(), Role: RoleTool, Content: content, ToolCallID: callID}
}

// RemoveMessage builds a remove directive targeting the message with the
// given ID.
func RemoveMessage(id string) Message {
	return Message{ID: id, Remove: true}
}

// ChatMessages converts graph messages to the provider-facing shape.
// Remove directives and per-message metadata are dropped.
func ChatMessages(msgs []Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Remove {
			continue
		}
		out = append(out, ChatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}
