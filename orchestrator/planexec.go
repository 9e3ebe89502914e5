package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/maestro"
	"github.com/nevindra/maestro/registry"
)

// SubgraphRecursionLimit caps node activations inside plan-execute.
const SubgraphRecursionLimit = 25

func (o *Orchestrator) buildPlanGraph() (*maestro.Graph, error) {
	b := maestro.NewGraph("plan_execute")
	b.AddNode("plan", o.planNode)
	b.AddNode("approve", o.approveNode)
	b.AddNode("execute", o.executeNode)
	b.AddNode("report", o.reportNode)
	b.SetEntry("plan")

	b.AddEdge("plan", "approve")
	b.AddConditionalEdge("approve", func(s *maestro.State) maestro.Route {
		if s.Approved {
			return maestro.Goto("execute")
		}
		return maestro.Goto("report")
	})
	b.AddEdge("execute", "report")
	b.AddEdge("report", maestro.GraphEnd)

	return b.Compile(
		maestro.GraphCheckpoints(o.store),
		maestro.GraphRecursionLimit(SubgraphRecursionLimit),
		maestro.GraphEventCap(o.settings.MaxEventHistory),
		maestro.GraphLogger(o.logger),
		maestro.GraphTracer(o.tracer),
	)
}

// planExecute is the parent node bridging into the subgraph. The subgraph
// checkpoints under the same thread id beside the parent, so a suspension
// inside it (the approval gate) propagates here as the same interrupt and a
// later resume re-enters the subgraph where it stopped.
func (o *Orchestrator) planExecute(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	var res maestro.RunResult
	var err error

	if _, suspended, serr := o.plan.Suspended(ctx, s.ThreadID); serr == nil && suspended {
		reply, ok := maestro.ResumedValue(s)
		if !ok {
			prompt, _, _ := o.plan.Suspended(ctx, s.ThreadID)
			return maestro.Update{}, maestro.Interrupt(prompt)
		}
		res, err = o.plan.Resume(ctx, s.ThreadID, reply)
	} else {
		res, err = o.plan.Invoke(ctx, s.ThreadID, maestro.Update{
			UserID:          maestro.Ptr(s.UserID),
			PlanExecuteTask: maestro.Ptr(s.PlanExecuteTask),
		})
	}
	if err != nil {
		return maestro.Update{}, err
	}
	if res.Status == maestro.RunSuspended {
		return maestro.Update{}, maestro.Interrupt(res.Prompt)
	}

	return maestro.Update{
		Messages:         []maestro.Message{maestro.AssistantMessage(lastAssistantText(res.State))},
		NeedsPlanExecute: maestro.Ptr(false),
		PlanExecuteTask:  maestro.Ptr(""),
	}, nil
}

var planSchema = &maestro.ResponseSchema{
	Name:   "plan_steps",
	Schema: json.RawMessage(`{"type":"array","items":{"type":"string"}}`),
}

const planPrompt = `You are a planning assistant. Break the given task into a short ordered list of concrete steps, each executable by a single specialist agent. Return ONLY a JSON array of step strings, 2 to 6 steps.`

// planNode asks the LM for the step list.
func (o *Orchestrator) planNode(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	resp, err := o.provider.Chat(ctx, maestro.ChatRequest{
		Messages: []maestro.ChatMessage{
			{Role: maestro.RoleSystem, Content: planPrompt},
			{Role: maestro.RoleUser, Content: s.PlanExecuteTask},
		},
		ResponseSchema: planSchema,
	})
	if err != nil {
		return maestro.Update{}, fmt.Errorf("plan: %w", err)
	}
	steps, err := parsePlan(resp.Content)
	if err != nil {
		return maestro.Update{}, fmt.Errorf("plan: %w", err)
	}
	return maestro.Update{Plan: steps}, nil
}

func parsePlan(response string) ([]string, error) {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start == -1 || end < start {
		return nil, fmt.Errorf("no step array in response")
	}
	var steps []string
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty plan")
	}
	return steps, nil
}

// approveNode gates execution on user approval. First activation interrupts
// with the plan; the resumed activation reads the reply.
func (o *Orchestrator) approveNode(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	if reply, ok := maestro.ResumedValue(s); ok {
		approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), "y")
		return maestro.Update{Approved: maestro.Ptr(approved)}, nil
	}

	var b strings.Builder
	b.WriteString("I plan to do the following:\n")
	for i, step := range s.Plan {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	b.WriteString("Shall I proceed? (yes/no)")
	return maestro.Update{}, maestro.Interrupt(b.String())
}

// executeNode runs the approved steps in order, delegating each to the first
// healthy specialist. A step with no agent available falls back to the LM;
// a failed step records its error and the plan continues.
func (o *Orchestrator) executeNode(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	results := make([]string, 0, len(s.Plan))
	for _, step := range s.Plan {
		out, err := o.executeStep(ctx, s, step)
		if err != nil {
			o.logger.Warn("plan step failed", "step", step, "error", err)
			out = "failed: " + err.Error()
		}
		results = append(results, out)
	}
	return maestro.Update{PlanResults: results}, nil
}

func (o *Orchestrator) executeStep(ctx context.Context, s *maestro.State, step string) (string, error) {
	for _, agent := range o.registry.All() {
		if agent.Status != registry.StatusHealthy {
			continue
		}
		if out, err := o.delegate(ctx, agent, step, map[string]any{"user_id": s.UserID}); err == nil {
			return out, nil
		}
	}
	resp, err := o.provider.Chat(ctx, maestro.ChatRequest{
		Messages: []maestro.ChatMessage{
			{Role: maestro.RoleSystem, Content: "Execute this step of a plan and report the outcome concisely."},
			{Role: maestro.RoleUser, Content: step},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// reportNode composes the final message of the workflow.
func (o *Orchestrator) reportNode(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	var b strings.Builder
	if !s.Approved {
		b.WriteString("Understood, I won't run that plan. Let me know if you'd like a different approach.")
	} else {
		b.WriteString("Done. Here's what happened:\n")
		for i, step := range s.Plan {
			result := ""
			if i < len(s.PlanResults) {
				result = s.PlanResults[i]
			}
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, step, result)
		}
	}
	return maestro.Update{Messages: []maestro.Message{maestro.AssistantMessage(b.String())}}, nil
}
