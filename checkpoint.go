package maestro

import (
	"context"
	"encoding/json"
	"fmt"
)

// CheckpointNamespace is the store namespace prefix for thread checkpoints.
// The full namespace is ("checkpoints", threadID); the key is the graph name,
// so a parent graph and its subgraphs checkpoint side by side under one
// thread without colliding.
const CheckpointNamespace = "checkpoints"

// checkpoint is the persisted snapshot written after every node. A non-empty
// PendingNode marks a suspended run awaiting Resume.
type checkpoint struct {
	Seq         int    `json:"seq"`
	State       *State `json:"state"`
	PendingNode string `json:"pending_node,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	SavedAt     int64  `json:"saved_at"`
}

func (g *Graph) saveCheckpoint(ctx context.Context, threadID string, cp checkpoint) error {
	cp.SavedAt = NowUnix()
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint %s/%s: marshal: %w", g.name, threadID, err)
	}
	ns := Namespace(CheckpointNamespace, threadID)
	if err := g.checkpoints.Put(ctx, ns, g.name, raw); err != nil {
		return &ErrPersistence{Op: "checkpoint", Err: err}
	}
	return nil
}

func (g *Graph) loadCheckpoint(ctx context.Context, threadID string) (checkpoint, bool, error) {
	ns := Namespace(CheckpointNamespace, threadID)
	raw, ok, err := g.checkpoints.Get(ctx, ns, g.name)
	if err != nil || !ok {
		return checkpoint{}, false, err
	}
	var cp checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return checkpoint{}, false, fmt.Errorf("checkpoint %s/%s: decode: %w", g.name, threadID, err)
	}
	return cp, true, nil
}

// ThreadState returns the last checkpointed state for a thread, if any.
func (g *Graph) ThreadState(ctx context.Context, threadID string) (*State, bool, error) {
	cp, ok, err := g.loadCheckpoint(ctx, threadID)
	if err != nil || !ok {
		return nil, false, err
	}
	return cp.State, true, nil
}

// Suspended reports whether the thread's last run stopped at an interrupt,
// returning the pending prompt when it did.
func (g *Graph) Suspended(ctx context.Context, threadID string) (string, bool, error) {
	cp, ok, err := g.loadCheckpoint(ctx, threadID)
	if err != nil || !ok {
		return "", false, err
	}
	return cp.Prompt, cp.PendingNode != "", nil
}
