package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nevindra/maestro"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockProvider for observer tests.
type mockProvider struct {
	name     string
	chatResp maestro.ChatResponse
	chatErr  error
	lastReq  maestro.ChatRequest
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Chat(_ context.Context, req maestro.ChatRequest) (maestro.ChatResponse, error) {
	m.lastReq = req
	return m.chatResp, m.chatErr
}

// mockTool for observer tests.
type mockTool struct {
	defs   []maestro.ToolDefinition
	result maestro.ToolResult
	err    error
}

func (m *mockTool) Definitions() []maestro.ToolDefinition { return m.defs }
func (m *mockTool) Execute(_ context.Context, _ string, _ json.RawMessage) (maestro.ToolResult, error) {
	return m.result, m.err
}

// mockCaller for observer tests.
type mockCaller struct {
	result   maestro.TaskResult
	err      error
	lastURL  string
	lastTask maestro.Task
}

func (m *mockCaller) CallAgent(_ context.Context, baseURL string, task maestro.Task, _ time.Duration) (maestro.TaskResult, error) {
	m.lastURL = baseURL
	m.lastTask = task
	return m.result, m.err
}

// testInstruments creates a no-op Instruments using the global OTEL providers
// (which are no-ops by default). This is safe for testing delegation behavior
// without any real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

// ---------------------------------------------------------------------------
// ObservedProvider tests
// ---------------------------------------------------------------------------

func TestObservedProviderName(t *testing.T) {
	inner := &mockProvider{name: "test-provider"}
	op := WrapProvider(inner, "test-model", testInstruments(t))

	got := op.Name()
	if got != "test-provider" {
		t.Errorf("Name() = %q, want %q", got, "test-provider")
	}
}

func TestObservedProviderChat(t *testing.T) {
	want := maestro.ChatResponse{
		Content: "hello from LLM",
		Usage:   maestro.Usage{InputTokens: 10, OutputTokens: 5},
	}
	inner := &mockProvider{name: "p", chatResp: want}
	op := WrapProvider(inner, "m", testInstruments(t))

	got, err := op.Chat(context.Background(), maestro.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat returned unexpected error: %v", err)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
	if got.Usage != want.Usage {
		t.Errorf("Usage = %+v, want %+v", got.Usage, want.Usage)
	}
}

func TestObservedProviderChatError(t *testing.T) {
	wantErr := errors.New("provider unavailable")
	inner := &mockProvider{name: "p", chatErr: wantErr}
	op := WrapProvider(inner, "m", testInstruments(t))

	_, err := op.Chat(context.Background(), maestro.ChatRequest{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Chat error = %v, want %v", err, wantErr)
	}
}

func TestObservedProviderChatWithTools(t *testing.T) {
	want := maestro.ChatResponse{
		Content: "tool response",
		ToolCalls: []maestro.ToolCall{
			{ID: "call-1", Name: "search", Args: json.RawMessage(`{"q":"go"}`)},
		},
		Usage: maestro.Usage{InputTokens: 20, OutputTokens: 15},
	}
	inner := &mockProvider{name: "p", chatResp: want}
	op := WrapProvider(inner, "m", testInstruments(t))

	req := maestro.ChatRequest{
		Tools: []maestro.ToolDefinition{{Name: "search", Description: "search things"}},
	}
	got, err := op.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Chat returned unexpected error: %v", err)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
	if len(got.ToolCalls) != 1 {
		t.Fatalf("ToolCalls length = %d, want 1", len(got.ToolCalls))
	}
	if got.ToolCalls[0].Name != "search" {
		t.Errorf("ToolCalls[0].Name = %q, want %q", got.ToolCalls[0].Name, "search")
	}
	if len(inner.lastReq.Tools) != 1 {
		t.Errorf("inner request tools = %d, want 1", len(inner.lastReq.Tools))
	}
}

// ---------------------------------------------------------------------------
// ObservedTool tests
// ---------------------------------------------------------------------------

func TestObservedToolDefinitions(t *testing.T) {
	defs := []maestro.ToolDefinition{
		{Name: "search", Description: "web search"},
		{Name: "calc", Description: "calculator"},
	}
	inner := &mockTool{defs: defs}
	ot := WrapTool(inner, testInstruments(t))

	got := ot.Definitions()
	if len(got) != len(defs) {
		t.Fatalf("Definitions length = %d, want %d", len(got), len(defs))
	}
	for i, d := range got {
		if d.Name != defs[i].Name {
			t.Errorf("Definitions[%d].Name = %q, want %q", i, d.Name, defs[i].Name)
		}
		if d.Description != defs[i].Description {
			t.Errorf("Definitions[%d].Description = %q, want %q", i, d.Description, defs[i].Description)
		}
	}
}

func TestObservedToolExecute(t *testing.T) {
	want := maestro.ToolResult{Content: "result data"}
	inner := &mockTool{result: want}
	ot := WrapTool(inner, testInstruments(t))

	got, err := ot.Execute(context.Background(), "search", json.RawMessage(`{"q":"test"}`))
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
	if got.Error != "" {
		t.Errorf("Error = %q, want empty", got.Error)
	}
}

func TestObservedToolExecuteError(t *testing.T) {
	wantErr := errors.New("tool broken")
	inner := &mockTool{err: wantErr}
	ot := WrapTool(inner, testInstruments(t))

	_, err := ot.Execute(context.Background(), "search", json.RawMessage(`{}`))
	if !errors.Is(err, wantErr) {
		t.Errorf("Execute error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// ObservedCaller tests
// ---------------------------------------------------------------------------

func TestObservedCallerCallAgent(t *testing.T) {
	task := maestro.NewTask("research the account")
	want := maestro.TaskResult{
		Artifacts: []maestro.Artifact{maestro.NewArtifact(task.ID, "text/plain", []byte("findings"))},
		Status:    maestro.TaskCompleted,
	}
	inner := &mockCaller{result: want}
	oc := WrapCaller(inner, testInstruments(t))

	got, err := oc.CallAgent(context.Background(), "http://agent:8001", task, time.Second)
	if err != nil {
		t.Fatalf("CallAgent returned unexpected error: %v", err)
	}
	if got.Text() != "findings" {
		t.Errorf("result text = %q, want %q", got.Text(), "findings")
	}
	if inner.lastURL != "http://agent:8001" {
		t.Errorf("inner baseURL = %q, want %q", inner.lastURL, "http://agent:8001")
	}
	if inner.lastTask.ID != task.ID {
		t.Errorf("inner task id = %q, want %q", inner.lastTask.ID, task.ID)
	}
}

func TestObservedCallerCallAgentError(t *testing.T) {
	wantErr := errors.New("agent down")
	inner := &mockCaller{err: wantErr}
	oc := WrapCaller(inner, testInstruments(t))

	_, err := oc.CallAgent(context.Background(), "http://agent:8001", maestro.NewTask("x"), time.Second)
	if !errors.Is(err, wantErr) {
		t.Errorf("CallAgent error = %v, want %v", err, wantErr)
	}
}
