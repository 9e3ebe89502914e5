package maestro

import (
	"context"
	"fmt"
	"log/slog"
)

// GraphEnd is the terminal edge target. Routing to it completes the run.
const GraphEnd = "__end__"

// NodeFunc is a graph node: an async function from state to a partial state
// update. Nodes must not mutate s beyond reading; all writes flow through
// the returned Update so the reducers stay in control.
type NodeFunc func(ctx context.Context, s *State) (Update, error)

// Predicate routes after a node. It inspects the merged state and returns
// where to go next.
type Predicate func(s *State) Route

// Route is the routing decision sum: a single next node (Goto), the
// terminal marker (End), or a parallel fan-out (FanOut).
type Route struct {
	target string
	sends  []Send
}

// Send schedules one fan-out branch: the named node runs on its own
// sub-state concurrently with its siblings.
type Send struct {
	Target string
	State  *State
}

// Goto routes to the named node.
func Goto(node string) Route { return Route{target: node} }

// End terminates the run.
func End() Route { return Route{target: GraphEnd} }

// FanOut runs each send's node concurrently. The runtime waits for all
// branches, then merges their updates into the main state in input order.
// A fan-out step is terminal: branch results merge and the run completes.
func FanOut(sends ...Send) Route { return Route{sends: sends} }

// IsEnd reports whether the route terminates the run.
func (r Route) IsEnd() bool { return r.target == GraphEnd && len(r.sends) == 0 }

// GraphBuilder accumulates nodes and edges, then freezes them into an
// immutable Graph. Build errors surface at Compile, not at run time.
type GraphBuilder struct {
	name  string
	nodes map[string]NodeFunc
	order []string
	edges map[string]string
	conds map[string]Predicate
	entry string
	err   error
}

// NewGraph starts a builder for a graph with the given name. The name keys
// the graph's checkpoints, so two graphs sharing a store need distinct names.
func NewGraph(name string) *GraphBuilder {
	return &GraphBuilder{
		name:  name,
		nodes: make(map[string]NodeFunc),
		edges: make(map[string]string),
		conds: make(map[string]Predicate),
	}
}

// AddNode registers a named node. Names must be unique and non-reserved.
func (b *GraphBuilder) AddNode(name string, fn NodeFunc) *GraphBuilder {
	if b.err != nil {
		return b
	}
	if name == "" || name == GraphEnd {
		b.err = fmt.Errorf("graph %s: reserved node name %q", b.name, name)
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.err = fmt.Errorf("graph %s: duplicate node name %q", b.name, name)
		return b
	}
	if fn == nil {
		b.err = fmt.Errorf("graph %s: node %q has nil function", b.name, name)
		return b
	}
	b.nodes[name] = fn
	b.order = append(b.order, name)
	return b
}

// AddEdge declares a static edge from one node to the next (or to GraphEnd).
func (b *GraphBuilder) AddEdge(from, to string) *GraphBuilder {
	if b.err != nil {
		return b
	}
	if _, dup := b.edges[from]; dup {
		b.err = fmt.Errorf("graph %s: node %q already has an edge", b.name, from)
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdge declares a predicate evaluated after the node runs.
// A conditional takes priority over a static edge from the same node.
func (b *GraphBuilder) AddConditionalEdge(from string, p Predicate) *GraphBuilder {
	if b.err != nil {
		return b
	}
	if p == nil {
		b.err = fmt.Errorf("graph %s: nil predicate on %q", b.name, from)
		return b
	}
	if _, dup := b.conds[from]; dup {
		b.err = fmt.Errorf("graph %s: node %q already has a conditional edge", b.name, from)
		return b
	}
	b.conds[from] = p
	return b
}

// SetEntry declares the node every invocation starts from.
func (b *GraphBuilder) SetEntry(node string) *GraphBuilder {
	if b.err == nil {
		b.entry = node
	}
	return b
}

// GraphOption configures the compiled runtime.
type GraphOption func(*Graph)

// GraphCheckpoints sets the store checkpoints are written to after every
// node. Without it the graph keeps checkpoints in a process-local MemStore.
func GraphCheckpoints(s Store) GraphOption {
	return func(g *Graph) { g.checkpoints = s }
}

// GraphRecursionLimit caps node activations per invocation (default: 50).
func GraphRecursionLimit(n int) GraphOption {
	return func(g *Graph) { g.recursionLimit = n }
}

// GraphLogger sets the structured logger for node lifecycle output.
// If not set, a no-op logger is used (no output).
func GraphLogger(l *slog.Logger) GraphOption {
	return func(g *Graph) { g.logger = l }
}

// GraphTracer sets the tracer for per-node spans. Nil disables tracing.
func GraphTracer(t Tracer) GraphOption {
	return func(g *Graph) { g.tracer = t }
}

// GraphEventCap caps the events history kept in thread state
// (default: MaxEventHistory).
func GraphEventCap(n int) GraphOption {
	return func(g *Graph) { g.eventCap = n }
}

// DefaultRecursionLimit bounds node activations for a top-level graph.
const DefaultRecursionLimit = 50

// Compile validates the accumulated shape and freezes it into a Graph:
// the entry must be set and exist, every edge target must exist, and every
// node must have a way out (a static edge or a conditional).
func (b *GraphBuilder) Compile(opts ...GraphOption) (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.entry == "" {
		return nil, fmt.Errorf("graph %s: entry not set", b.name)
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("graph %s: entry %q is not a node", b.name, b.entry)
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph %s: edge from unknown node %q", b.name, from)
		}
		if to != GraphEnd {
			if _, ok := b.nodes[to]; !ok {
				return nil, fmt.Errorf("graph %s: edge %q -> unknown node %q", b.name, from, to)
			}
		}
	}
	for from := range b.conds {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph %s: conditional edge from unknown node %q", b.name, from)
		}
	}
	for _, name := range b.order {
		if _, hasEdge := b.edges[name]; hasEdge {
			continue
		}
		if _, hasCond := b.conds[name]; hasCond {
			continue
		}
		return nil, fmt.Errorf("graph %s: node %q has no outgoing edge", b.name, name)
	}

	g := &Graph{
		name:           b.name,
		nodes:          b.nodes,
		edges:          b.edges,
		conds:          b.conds,
		entry:          b.entry,
		recursionLimit: DefaultRecursionLimit,
		logger:         nopLogger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.checkpoints == nil {
		g.checkpoints = NewMemStore()
	}
	if g.recursionLimit <= 0 {
		g.recursionLimit = DefaultRecursionLimit
	}
	return g, nil
}

// Graph is the frozen runtime. It is immutable after Compile and safe for
// concurrent invocations across distinct thread ids; one node runs at a
// time per thread id.
type Graph struct {
	name           string
	nodes          map[string]NodeFunc
	edges          map[string]string
	conds          map[string]Predicate
	entry          string
	recursionLimit int
	eventCap       int
	checkpoints    Store
	logger         *slog.Logger
	tracer         Tracer
}

// Name returns the graph's identifier.
func (g *Graph) Name() string { return g.name }
