package maestro

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunStatus is the terminal condition of a graph invocation.
type RunStatus int

const (
	// RunCompleted means the run reached GraphEnd.
	RunCompleted RunStatus = iota
	// RunSuspended means a node interrupted; resume with Graph.Resume.
	RunSuspended
	// RunCancelled means the context was cancelled at a node boundary.
	// The last checkpoint is intact and the thread can be re-invoked.
	RunCancelled
)

// String returns the status name for logs.
func (s RunStatus) String() string {
	switch s {
	case RunCompleted:
		return "completed"
	case RunSuspended:
		return "suspended"
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RunResult is the outcome of Invoke or Resume. State is the merged state
// as of the last completed node; Prompt is set only when suspended.
type RunResult struct {
	Status RunStatus
	State  *State
	Prompt string
}

// ErrNotSuspended is returned by Resume when the thread has no pending
// interrupt to resume from.
var ErrNotSuspended = errors.New("thread is not suspended")

// Invoke runs the graph for a thread. The thread's last checkpoint (if any)
// is loaded first, the initial update is merged in, and execution starts
// from the entry node. State is checkpointed after every node; the run ends
// at GraphEnd, at an Interrupt, on cancellation, or with an error.
func (g *Graph) Invoke(ctx context.Context, threadID string, initial Update) (RunResult, error) {
	cp, ok, err := g.loadCheckpoint(ctx, threadID)
	if err != nil {
		return RunResult{}, err
	}
	state := &State{ThreadID: threadID}
	if ok {
		state = cp.State
		// A fresh turn supersedes a dangling suspension.
		cp.PendingNode = ""
		cp.Prompt = ""
	}
	state.eventCap = g.eventCap
	state.ResumeValue = ""
	state.Apply(initial)
	return g.run(ctx, threadID, state, g.entry, cp.Seq)
}

// Resume continues a suspended thread from its pending node. The reply is
// injected into state and readable by the pending node via ResumedValue.
func (g *Graph) Resume(ctx context.Context, threadID, reply string) (RunResult, error) {
	cp, ok, err := g.loadCheckpoint(ctx, threadID)
	if err != nil {
		return RunResult{}, err
	}
	if !ok || cp.PendingNode == "" {
		return RunResult{}, ErrNotSuspended
	}
	state := cp.State
	state.eventCap = g.eventCap
	state.ResumeValue = reply
	state.Events = appendEvents(state.Events, []Event{{Type: EventResumed, Node: cp.PendingNode, At: NowUnix()}}, state.eventCap)
	return g.run(ctx, threadID, state, cp.PendingNode, cp.Seq)
}

// run drives the node loop. One node executes at a time; a FanOut route
// runs its branches concurrently, merges their updates in input order, and
// completes the run.
func (g *Graph) run(ctx context.Context, threadID string, state *State, start string, seq int) (RunResult, error) {
	node := start
	activations := 0

	for {
		if ctx.Err() != nil {
			g.logger.Info("run cancelled", "graph", g.name, "thread_id", threadID, "node", node)
			return RunResult{Status: RunCancelled, State: state}, nil
		}
		activations++
		if activations > g.recursionLimit {
			return RunResult{}, &ErrRecursionLimit{Graph: g.name, Limit: g.recursionLimit}
		}

		update, err := g.runNode(ctx, node, state)
		if prompt, suspended := AsInterrupt(err); suspended {
			state.ResumeValue = ""
			state.Events = appendEvents(state.Events, []Event{{Type: EventInterrupted, Node: node, At: NowUnix()}}, state.eventCap)
			seq++
			if err := g.saveCheckpoint(ctx, threadID, checkpoint{Seq: seq, State: state, PendingNode: node, Prompt: prompt}); err != nil {
				return RunResult{}, err
			}
			g.logger.Info("run suspended", "graph", g.name, "thread_id", threadID, "node", node)
			return RunResult{Status: RunSuspended, State: state, Prompt: prompt}, nil
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return RunResult{Status: RunCancelled, State: state}, nil
			}
			return RunResult{}, fmt.Errorf("graph %s: node %s: %w", g.name, node, err)
		}

		state.Apply(update)
		seq++
		if err := g.saveCheckpoint(ctx, threadID, checkpoint{Seq: seq, State: state}); err != nil {
			return RunResult{}, err
		}

		route := g.routeFrom(node, state)
		switch {
		case route.IsEnd():
			return RunResult{Status: RunCompleted, State: state}, nil
		case len(route.sends) > 0:
			activations += len(route.sends)
			if activations > g.recursionLimit {
				return RunResult{}, &ErrRecursionLimit{Graph: g.name, Limit: g.recursionLimit}
			}
			if err := g.fanOut(ctx, state, route.sends); err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return RunResult{Status: RunCancelled, State: state}, nil
				}
				return RunResult{}, err
			}
			seq++
			if err := g.saveCheckpoint(ctx, threadID, checkpoint{Seq: seq, State: state}); err != nil {
				return RunResult{}, err
			}
			return RunResult{Status: RunCompleted, State: state}, nil
		default:
			node = route.target
		}
	}
}

// runNode executes one node with logging and optional tracing.
func (g *Graph) runNode(ctx context.Context, name string, state *State) (Update, error) {
	fn, ok := g.nodes[name]
	if !ok {
		return Update{}, fmt.Errorf("unknown node %q", name)
	}
	nodeCtx := ctx
	var span Span
	if g.tracer != nil {
		nodeCtx, span = g.tracer.Start(ctx, "graph.node",
			StringAttr("graph", g.name),
			StringAttr("node", name))
		defer span.End()
	}

	start := time.Now()
	g.logger.Debug("node start", "graph", g.name, "node", name)
	update, err := fn(nodeCtx, state)
	if err != nil {
		if _, suspended := AsInterrupt(err); !suspended {
			g.logger.Error("node failed", "graph", g.name, "node", name, "error", err)
			if span != nil {
				span.Error(err)
			}
		}
		return Update{}, err
	}
	g.logger.Debug("node end", "graph", g.name, "node", name, "duration", time.Since(start))
	return update, nil
}

// routeFrom resolves the next step after a node. A conditional edge takes
// priority over a static edge.
func (g *Graph) routeFrom(node string, state *State) Route {
	if p, ok := g.conds[node]; ok {
		return p(state)
	}
	if to, ok := g.edges[node]; ok {
		return Goto(to)
	}
	return End()
}

// fanOut runs each send's node on its own sub-state concurrently, then
// merges the collected updates into the main state in input order, keeping
// the reducer merge deterministic regardless of completion order.
func (g *Graph) fanOut(ctx context.Context, state *State, sends []Send) error {
	updates := make([]Update, len(sends))
	eg, branchCtx := errgroup.WithContext(ctx)
	for i, send := range sends {
		sub := send.State
		if sub == nil {
			sub = state.Clone()
		}
		target := send.Target
		eg.Go(func() error {
			u, err := g.runNode(branchCtx, target, sub)
			if err != nil {
				return fmt.Errorf("graph %s: branch %s: %w", g.name, target, err)
			}
			updates[i] = u
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for _, u := range updates {
		state.Apply(u)
	}
	return nil
}
