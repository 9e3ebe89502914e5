// Package orchestrator wires the conversation graph: memory initialisation,
// the chatbot loop with tool dispatch, background summarisation and memory
// updates, and the plan-execute subgraph for multi-step delegated work.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/maestro"
	"github.com/nevindra/maestro/registry"
)

// Node names in the main graph.
const (
	nodeInitMemory   = "initialize_memory"
	nodeChatbot      = "chatbot"
	nodeTools        = "tools"
	nodeSummarize    = "summarize_conversation"
	nodeUpdateMemory = "update_memory"
	nodePlanExecute  = "plan_execute"
)

// User-facing degradation strings. Background failures never surface; these
// two are the only texts a user sees when something breaks.
const (
	replyAgentUnavailable = "I couldn't reach a specialist that handles this right now. Please try again in a moment."
	replyInternalError    = "Something went wrong on my side while handling that. Your conversation is safe; please try again."
)

// Settings are the conversation-shaping knobs, mirroring the conversation
// config block.
type Settings struct {
	SummaryTriggerMessages      int // unsummarised messages before summarisation kicks in
	MaxMessagesToPreserve       int
	MaxTokensToPreserve         int
	MemoryUpdateTriggerMessages int
	MaxEventHistory             int
	TriggerKeywords             []string // empty = built-in CRM keyword list
	Temperature                 float64
	MaxTokens                   int
	AgentCallTimeout            time.Duration
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		SummaryTriggerMessages:      5,
		MaxMessagesToPreserve:       10,
		MaxTokensToPreserve:         3000,
		MemoryUpdateTriggerMessages: 5,
		MaxEventHistory:             maestro.MaxEventHistory,
		Temperature:                 0.7,
		MaxTokens:                   4096,
		AgentCallTimeout:            30 * time.Second,
	}
}

// AgentCaller delegates a task to a remote agent. *a2a.Client satisfies it.
type AgentCaller interface {
	CallAgent(ctx context.Context, baseURL string, task maestro.Task, timeout time.Duration) (maestro.TaskResult, error)
}

// Orchestrator owns the compiled conversation graph and its dependencies.
type Orchestrator struct {
	provider maestro.Provider
	registry *registry.Registry
	caller   AgentCaller
	store    maestro.Store
	memories maestro.MemoryStore
	tools    *maestro.ToolRegistry
	settings Settings
	logger   *slog.Logger
	tracer   maestro.Tracer

	recursionLimit int
	graph          *maestro.Graph
	plan           *maestro.Graph
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer for graph node spans.
func WithTracer(t maestro.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMemoryStore enables relational write-through for user memory.
func WithMemoryStore(m maestro.MemoryStore) Option {
	return func(o *Orchestrator) { o.memories = m }
}

// WithSettings replaces the default conversation settings.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithRecursionLimit caps node activations per turn (default: 50).
func WithRecursionLimit(n int) Option {
	return func(o *Orchestrator) { o.recursionLimit = n }
}

// New builds and compiles the orchestrator graph. The store holds
// checkpoints and the embedded memory cache.
func New(p maestro.Provider, reg *registry.Registry, caller AgentCaller, store maestro.Store, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		provider:       p,
		registry:       reg,
		caller:         caller,
		store:          store,
		settings:       DefaultSettings(),
		recursionLimit: maestro.DefaultRecursionLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	o.tools = maestro.NewToolRegistry()
	o.tools.Add(&registryQueryTool{registry: reg})
	o.tools.Add(&taskAgentTool{orch: o})
	o.tools.Add(&delegateTools{orch: o})

	plan, err := o.buildPlanGraph()
	if err != nil {
		return nil, err
	}
	o.plan = plan

	graph, err := o.buildGraph()
	if err != nil {
		return nil, err
	}
	o.graph = graph
	return o, nil
}

func (o *Orchestrator) buildGraph() (*maestro.Graph, error) {
	b := maestro.NewGraph("orchestrator")
	b.AddNode(nodeInitMemory, o.initializeMemory)
	b.AddNode(nodeChatbot, o.chatbot)
	b.AddNode(nodeTools, o.runTools)
	b.AddNode(nodeSummarize, o.summarizeConversation)
	b.AddNode(nodeUpdateMemory, o.updateMemory)
	b.AddNode(nodePlanExecute, o.planExecute)
	b.SetEntry(nodeInitMemory)

	b.AddEdge(nodeInitMemory, nodeChatbot)
	b.AddConditionalEdge(nodeChatbot, o.afterChatbot)
	b.AddConditionalEdge(nodeTools, o.afterTools)
	b.AddConditionalEdge(nodePlanExecute, o.backgroundRoute)
	// Fan-out branches; reached only through backgroundRoute.
	b.AddEdge(nodeSummarize, maestro.GraphEnd)
	b.AddEdge(nodeUpdateMemory, maestro.GraphEnd)

	return b.Compile(
		maestro.GraphCheckpoints(o.store),
		maestro.GraphRecursionLimit(o.recursionLimit),
		maestro.GraphEventCap(o.settings.MaxEventHistory),
		maestro.GraphLogger(o.logger),
		maestro.GraphTracer(o.tracer),
	)
}

// afterChatbot routes the assistant's turn: tool calls go to the tools node,
// otherwise the turn is done and background work may fan out.
func (o *Orchestrator) afterChatbot(s *maestro.State) maestro.Route {
	if last, ok := s.LastMessage(); ok && last.Role == maestro.RoleAssistant && len(last.ToolCalls) > 0 {
		return maestro.Goto(nodeTools)
	}
	return o.backgroundRoute(s)
}

// afterTools loops tool results back to the chatbot unless a specialist
// asked for the plan-execute workflow.
func (o *Orchestrator) afterTools(s *maestro.State) maestro.Route {
	if s.NeedsPlanExecute {
		return maestro.Goto(nodePlanExecute)
	}
	return maestro.Goto(nodeChatbot)
}

// backgroundRoute fans out to the background nodes whose triggers fired,
// or ends the turn.
func (o *Orchestrator) backgroundRoute(s *maestro.State) maestro.Route {
	var sends []maestro.Send
	if o.needsSummary(s) {
		sends = append(sends, maestro.Send{Target: nodeSummarize})
	}
	if o.needsMemoryUpdate(s) {
		sends = append(sends, maestro.Send{Target: nodeUpdateMemory})
	}
	if len(sends) > 0 {
		return maestro.FanOut(sends...)
	}
	return maestro.End()
}

// Reply is the outcome of one conversational turn.
type Reply struct {
	Text      string
	Suspended bool
	Prompt    string
}

// HandleMessage runs one turn for (userID, threadID). A suspended thread
// treats the text as the reply to the pending prompt; anything else starts a
// fresh turn. Graph failures degrade to a bounded apology; the thread's last
// checkpoint stays valid either way.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, threadID, text string) (Reply, error) {
	var res maestro.RunResult
	var err error

	if _, suspended, serr := o.graph.Suspended(ctx, threadID); serr == nil && suspended {
		res, err = o.graph.Resume(ctx, threadID, text)
	} else {
		res, err = o.graph.Invoke(ctx, threadID, maestro.Update{
			Messages: []maestro.Message{maestro.UserMessage(text)},
			UserID:   maestro.Ptr(userID),
			ThreadID: maestro.Ptr(threadID),
		})
	}
	if err != nil {
		o.logger.Error("turn failed", "thread_id", threadID, "error", err)
		return Reply{Text: replyInternalError}, nil
	}

	switch res.Status {
	case maestro.RunSuspended:
		return Reply{Text: res.Prompt, Suspended: true, Prompt: res.Prompt}, nil
	case maestro.RunCancelled:
		return Reply{}, ctx.Err()
	default:
		return Reply{Text: lastAssistantText(res.State)}, nil
	}
}

// ProcessTask adapts the orchestrator to the A2A process_task contract so it
// can serve as an agent itself. Thread and user ids ride in the task context;
// a task without them gets a thread of its own.
func (o *Orchestrator) ProcessTask(ctx context.Context, task maestro.Task) (maestro.TaskResult, error) {
	threadID, _ := task.Context["thread_id"].(string)
	if threadID == "" {
		threadID = task.ID
	}
	userID, _ := task.Context["user_id"].(string)
	if userID == "" {
		userID = threadID
	}

	reply, err := o.HandleMessage(ctx, userID, threadID, task.Instruction)
	if err != nil {
		return maestro.TaskResult{}, err
	}
	artifact := maestro.NewArtifact(task.ID, "text/plain", []byte(reply.Text))
	if reply.Suspended {
		artifact.Metadata = map[string]any{"suspended": true, "thread_id": threadID}
	}
	return maestro.TaskResult{Status: maestro.TaskCompleted, Artifacts: []maestro.Artifact{artifact}}, nil
}

// ThreadState exposes the last checkpointed state for a thread.
func (o *Orchestrator) ThreadState(ctx context.Context, threadID string) (*maestro.State, bool, error) {
	return o.graph.ThreadState(ctx, threadID)
}

func lastAssistantText(s *maestro.State) string {
	if s == nil {
		return ""
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == maestro.RoleAssistant && s.Messages[i].Content != "" {
			return s.Messages[i].Content
		}
	}
	return ""
}

// delegate sends an instruction to a specific agent endpoint and renders the
// outcome as model-readable text.
func (o *Orchestrator) delegate(ctx context.Context, agent registry.Agent, instruction string, stateCtx map[string]any) (string, error) {
	task := maestro.NewTask(instruction)
	for k, v := range stateCtx {
		task.Context[k] = v
	}
	result, err := o.caller.CallAgent(ctx, agent.Endpoint, task, o.settings.AgentCallTimeout)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", agent.Name, err)
	}
	if result.Status == maestro.TaskFailed {
		return "", fmt.Errorf("agent %s reported failure: %s", agent.Name, result.Text())
	}
	return result.Text(), nil
}
