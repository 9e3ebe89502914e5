package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/nevindra/maestro"
)

// maxParallelTools bounds concurrent tool executions within one tools step.
const maxParallelTools = 5

// initializeMemory loads the user's durable memory into state once per
// thread. A load failure substitutes empty memory and the conversation goes
// on; the flag flips either way so the node stays idempotent.
func (o *Orchestrator) initializeMemory(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	if s.MemoryInitDone {
		return maestro.Update{}, nil
	}
	done := maestro.Ptr(true)

	raw, ok, err := o.store.Get(ctx, maestro.Namespace("memory", s.UserID), maestro.MemoryKey)
	if err != nil {
		o.logger.Warn("memory load failed, starting empty", "user_id", s.UserID, "error", err)
		return maestro.Update{
			MemoryInitDone: done,
			Events:         []maestro.Event{{Type: maestro.EventPersistErr, Node: nodeInitMemory, Text: err.Error(), At: maestro.NowUnix()}},
		}, nil
	}
	if !ok {
		return maestro.Update{MemoryInitDone: done}, nil
	}

	var mem maestro.UserMemory
	if err := json.Unmarshal(raw, &mem); err != nil {
		o.logger.Warn("memory document malformed, starting empty", "user_id", s.UserID, "error", err)
		return maestro.Update{MemoryInitDone: done}, nil
	}
	return maestro.Update{Memory: &mem, MemoryInitDone: done}, nil
}

const chatbotBasePrompt = `You are an orchestration assistant for CRM work. You answer directly when you can, and delegate to specialist agents through your tools when the request needs external systems. Use agent_registry_query to discover capabilities, task_agent to delegate by capability, and the agent_* tools to address a specialist directly. Never invent CRM record ids.`

// systemPrompt composes the base instructions with the memory projection and
// the rolling summary.
func (o *Orchestrator) systemPrompt(s *maestro.State) string {
	var b strings.Builder
	b.WriteString(chatbotBasePrompt)
	if mem := s.Memory.ContextString(); mem != "" {
		b.WriteString("\n\n")
		b.WriteString(mem)
	}
	if s.Summary != "" {
		b.WriteString("\n\n## Conversation so far\n")
		b.WriteString(s.Summary)
	}
	return b.String()
}

// chatbot runs one LM turn over the conversation with the tool catalogue
// bound. It has no side effects beyond the returned assistant message.
func (o *Orchestrator) chatbot(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	msgs := make([]maestro.ChatMessage, 0, len(s.Messages)+1)
	msgs = append(msgs, maestro.ChatMessage{Role: maestro.RoleSystem, Content: o.systemPrompt(s)})
	msgs = append(msgs, maestro.ChatMessages(nonSystem(s.Messages))...)

	resp, err := o.provider.Chat(ctx, maestro.ChatRequest{
		Messages:    msgs,
		Tools:       o.tools.AllDefinitions(),
		Temperature: o.settings.Temperature,
		MaxTokens:   o.settings.MaxTokens,
	})
	if err != nil {
		return maestro.Update{}, err
	}

	msg := maestro.AssistantMessage(resp.Content)
	msg.ToolCalls = resp.ToolCalls
	return maestro.Update{Messages: []maestro.Message{msg}}, nil
}

func nonSystem(msgs []maestro.Message) []maestro.Message {
	out := make([]maestro.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != maestro.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// planExecuteSignal is the payload a tool result carries to hand the turn
// over to the plan-execute subgraph.
type planExecuteSignal struct {
	NeedsPlanExecute bool   `json:"needs_plan_execute"`
	Task             string `json:"task"`
}

// runTools executes the tool calls of the last assistant message, bounded
// parallel, and emits one tool-result message per call in call order.
// Failures become result text; the conversation continues either way.
func (o *Orchestrator) runTools(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	last, ok := s.LastMessage()
	if !ok || len(last.ToolCalls) == 0 {
		return maestro.Update{}, nil
	}

	results := make([]maestro.ToolResult, len(last.ToolCalls))
	sem := make(chan struct{}, maxParallelTools)
	var wg sync.WaitGroup
	for i, call := range last.ToolCalls {
		wg.Add(1)
		go func(i int, call maestro.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := o.tools.Execute(ctx, call.Name, call.Args)
			if err != nil {
				res = maestro.ToolResult{Error: err.Error()}
			}
			results[i] = res
		}(i, call)
	}
	wg.Wait()

	update := maestro.Update{}
	for i, call := range last.ToolCalls {
		res := results[i]
		content := res.Content
		if res.Error != "" {
			o.logger.Warn("tool failed", "tool", call.Name, "error", res.Error)
			if content == "" {
				content = "tool error: " + res.Error
			}
		}
		update.Messages = append(update.Messages, maestro.ToolResultMessage(call.ID, content))
		update.Events = append(update.Events, maestro.Event{
			Type: maestro.EventAgentCall, Node: nodeTools, Text: call.Name, At: maestro.NowUnix(),
		})

		var signal planExecuteSignal
		if err := json.Unmarshal([]byte(res.Content), &signal); err == nil && signal.NeedsPlanExecute {
			update.NeedsPlanExecute = maestro.Ptr(true)
			update.PlanExecuteTask = maestro.Ptr(signal.Task)
		}
	}
	return update, nil
}
