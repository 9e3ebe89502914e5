package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nevindra/maestro"
	"github.com/nevindra/maestro/registry"
)

// registryQueryTool answers capability lookups from the registry. Pure: no
// network, no side effects.
type registryQueryTool struct {
	registry *registry.Registry
}

func (t *registryQueryTool) Definitions() []maestro.ToolDefinition {
	return []maestro.ToolDefinition{{
		Name:        "agent_registry_query",
		Description: "Look up which specialist agent (if any) can handle a capability, e.g. \"research\" or \"crm_write\".",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"capability":{"type":"string"}},"required":["capability"]}`),
	}}
}

func (t *registryQueryTool) Execute(ctx context.Context, name string, args json.RawMessage) (maestro.ToolResult, error) {
	var in struct {
		Capability string `json:"capability"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return maestro.ToolResult{Error: "invalid arguments: " + err.Error()}, nil
	}
	agent, err := t.registry.Query(in.Capability)
	if errors.Is(err, maestro.ErrNoAgent) {
		return maestro.ToolResult{Content: fmt.Sprintf("no healthy agent advertises %q", in.Capability)}, nil
	}
	if err != nil {
		return maestro.ToolResult{Error: err.Error()}, nil
	}
	return maestro.ToolResult{Content: fmt.Sprintf(
		"agent %q (version %s) handles %q; capabilities: %s",
		agent.Name, agent.Card.Version, in.Capability, strings.Join(agent.Card.Capabilities, ", "),
	)}, nil
}

// taskAgentTool delegates an instruction to whichever healthy agent
// advertises the capability.
type taskAgentTool struct {
	orch *Orchestrator
}

func (t *taskAgentTool) Definitions() []maestro.ToolDefinition {
	return []maestro.ToolDefinition{{
		Name:        "task_agent",
		Description: "Delegate an instruction to a specialist agent selected by capability.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"capability":{"type":"string"},"instruction":{"type":"string"}},"required":["capability","instruction"]}`),
	}}
}

func (t *taskAgentTool) Execute(ctx context.Context, name string, args json.RawMessage) (maestro.ToolResult, error) {
	var in struct {
		Capability  string `json:"capability"`
		Instruction string `json:"instruction"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return maestro.ToolResult{Error: "invalid arguments: " + err.Error()}, nil
	}

	agent, err := t.orch.registry.Query(in.Capability)
	if errors.Is(err, maestro.ErrNoAgent) {
		return maestro.ToolResult{Content: replyAgentUnavailable}, nil
	}
	if err != nil {
		return maestro.ToolResult{Error: err.Error()}, nil
	}

	out, err := t.orch.delegate(ctx, agent, in.Instruction, nil)
	if err != nil {
		return maestro.ToolResult{Error: err.Error(), Content: replyAgentUnavailable}, nil
	}
	return maestro.ToolResult{Content: out}, nil
}

// delegateTools exposes one agent_<name> tool per registered specialist.
// The catalogue is computed per call, so agents added after startup appear
// without a rebuild.
type delegateTools struct {
	orch *Orchestrator
}

const delegatePrefix = "agent_"

func (t *delegateTools) Definitions() []maestro.ToolDefinition {
	agents := t.orch.registry.All()
	defs := make([]maestro.ToolDefinition, 0, len(agents))
	for _, a := range agents {
		desc := a.Card.Description
		if desc == "" {
			desc = "Delegate an instruction to the " + a.Name + " agent."
		}
		defs = append(defs, maestro.ToolDefinition{
			Name:        delegatePrefix + a.Name,
			Description: desc,
			Parameters:  json.RawMessage(`{"type":"object","properties":{"instruction":{"type":"string"}},"required":["instruction"]}`),
		})
	}
	return defs
}

func (t *delegateTools) Execute(ctx context.Context, name string, args json.RawMessage) (maestro.ToolResult, error) {
	agentName := strings.TrimPrefix(name, delegatePrefix)
	agent, ok := t.orch.registry.Get(agentName)
	if !ok {
		return maestro.ToolResult{Error: "unknown agent: " + agentName}, nil
	}
	if agent.Status != registry.StatusHealthy {
		return maestro.ToolResult{Content: replyAgentUnavailable}, nil
	}

	var in struct {
		Instruction string `json:"instruction"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return maestro.ToolResult{Error: "invalid arguments: " + err.Error()}, nil
	}

	out, err := t.orch.delegate(ctx, agent, in.Instruction, nil)
	if err != nil {
		return maestro.ToolResult{Error: err.Error(), Content: replyAgentUnavailable}, nil
	}
	return maestro.ToolResult{Content: out}, nil
}
