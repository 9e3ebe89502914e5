// Package registry tracks the specialist agents known to the orchestrator
// and their health. Agents are registered by endpoint; a background prober
// keeps their cards and statuses fresh.
package registry

import (
	"sync"
	"time"

	"github.com/nevindra/maestro"
)

// Status is an agent's last observed health.
type Status int

const (
	// StatusUnknown means the agent has not been probed yet.
	StatusUnknown Status = iota
	// StatusHealthy means the last probe succeeded.
	StatusHealthy
	// StatusUnhealthy means the last probe failed.
	StatusUnhealthy
	// StatusCircuitOpen means the endpoint's breaker is rejecting calls.
	StatusCircuitOpen
)

// String returns the status name for logs.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusCircuitOpen:
		return "circuit-open"
	default:
		return "unknown"
	}
}

// Agent is a registered specialist: where to reach it, its last known card,
// and its probe status.
type Agent struct {
	Name      string
	Endpoint  string
	Card      maestro.AgentCard
	Status    Status
	LastProbe time.Time
}

// Registry is a thread-safe set of agents keyed by name.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string // registration order, for deterministic queries
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Add registers an agent endpoint. Re-adding a name replaces its endpoint
// and resets its status; the prober will pick it up on the next cycle.
func (r *Registry) Add(name, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; !ok {
		r.order = append(r.order, name)
	}
	r.agents[name] = &Agent{Name: name, Endpoint: endpoint}
}

// Get returns the agent by name.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// All returns a snapshot of every agent in registration order.
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.agents[name])
	}
	return out
}

// Query returns the first healthy agent advertising the capability, in
// registration order. ErrNoAgent when none qualifies; unhealthy and
// circuit-open agents never match.
func (r *Registry) Query(capability string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		a := r.agents[name]
		if a.Status == StatusHealthy && a.Card.HasCapability(capability) {
			return *a, nil
		}
	}
	return Agent{}, maestro.ErrNoAgent
}

// update records a probe outcome. The card is refreshed only on success so
// a flapping agent keeps its last good card.
func (r *Registry) update(name string, status Status, card *maestro.AgentCard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[name]
	if !ok {
		return
	}
	a.Status = status
	a.LastProbe = time.Now()
	if card != nil {
		a.Card = *card
	}
}
