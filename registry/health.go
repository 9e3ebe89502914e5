package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nevindra/maestro"
)

// CardFetcher fetches an agent's card from its endpoint. *a2a.Client
// satisfies it.
type CardFetcher interface {
	GetAgentCard(ctx context.Context, baseURL string) (maestro.AgentCard, error)
}

// DefaultProbeInterval is the gap between probe cycles.
const DefaultProbeInterval = 30 * time.Second

// Prober periodically fetches every registered agent's card and updates its
// status. A probe that the endpoint's breaker rejects marks the agent
// circuit-open without touching the wire; any other failure marks it
// unhealthy. A success refreshes the card, so an agent that redeploys with
// new capabilities is picked up on its first healthy probe.
type Prober struct {
	registry *Registry
	fetcher  CardFetcher
	interval time.Duration
	logger   *slog.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// ProbeInterval sets the gap between probe cycles (default: 30s).
func ProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// ProberLogger sets the structured logger.
func ProberLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) { p.logger = l }
}

// NewProber returns a prober for the registry.
func NewProber(r *Registry, f CardFetcher, opts ...ProberOption) *Prober {
	p := &Prober{
		registry: r,
		fetcher:  f,
		interval: DefaultProbeInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run probes immediately, then on every tick until the context is
// cancelled. It blocks; start it in its own goroutine.
func (p *Prober) Run(ctx context.Context) {
	p.ProbeAll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every registered agent concurrently and waits for the
// cycle to finish.
func (p *Prober) ProbeAll(ctx context.Context) {
	agents := p.registry.All()
	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a Agent) {
			defer wg.Done()
			p.probe(ctx, a)
		}(a)
	}
	wg.Wait()
}

func (p *Prober) probe(ctx context.Context, a Agent) {
	card, err := p.fetcher.GetAgentCard(ctx, a.Endpoint)
	switch {
	case err == nil:
		if a.Status != StatusHealthy {
			p.logger.Info("agent healthy", "agent", a.Name, "endpoint", a.Endpoint)
		}
		p.registry.update(a.Name, StatusHealthy, &card)
	case errors.Is(err, maestro.ErrCircuitOpen):
		if a.Status != StatusCircuitOpen {
			p.logger.Warn("agent circuit open", "agent", a.Name, "endpoint", a.Endpoint)
		}
		p.registry.update(a.Name, StatusCircuitOpen, nil)
	default:
		if a.Status != StatusUnhealthy {
			p.logger.Warn("agent unhealthy", "agent", a.Name, "endpoint", a.Endpoint, "error", err)
		}
		p.registry.update(a.Name, StatusUnhealthy, nil)
	}
}
