package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nevindra/maestro"
)

// fakeFetcher serves cards per endpoint and can be flipped to failing.
type fakeFetcher struct {
	cards map[string]maestro.AgentCard
	fail  atomic.Bool
	err   error
}

func (f *fakeFetcher) GetAgentCard(_ context.Context, baseURL string) (maestro.AgentCard, error) {
	if f.fail.Load() {
		if f.err != nil {
			return maestro.AgentCard{}, f.err
		}
		return maestro.AgentCard{}, errors.New("connection refused")
	}
	card, ok := f.cards[baseURL]
	if !ok {
		return maestro.AgentCard{}, errors.New("unknown endpoint")
	}
	return card, nil
}

func TestQuery_MatchesHealthyByCapability(t *testing.T) {
	r := New()
	r.Add("researcher", "http://researcher:8001")
	r.Add("coder", "http://coder:8002")

	f := &fakeFetcher{cards: map[string]maestro.AgentCard{
		"http://researcher:8001": {Name: "researcher", Version: "1.0", Capabilities: []string{"research", "summarize"}},
		"http://coder:8002":      {Name: "coder", Version: "1.0", Capabilities: []string{"code"}},
	}}
	NewProber(r, f).ProbeAll(context.Background())

	a, err := r.Query("code")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if a.Name != "coder" {
		t.Errorf("agent = %q, want %q", a.Name, "coder")
	}

	if _, err := r.Query("paint"); !errors.Is(err, maestro.ErrNoAgent) {
		t.Errorf("err = %v, want ErrNoAgent", err)
	}
}

func TestQuery_SkipsUnprobedAndUnhealthy(t *testing.T) {
	r := New()
	r.Add("researcher", "http://researcher:8001")

	// Never probed: status unknown, never matches.
	if _, err := r.Query("research"); !errors.Is(err, maestro.ErrNoAgent) {
		t.Errorf("unprobed agent matched: err = %v", err)
	}

	f := &fakeFetcher{cards: map[string]maestro.AgentCard{
		"http://researcher:8001": {Name: "researcher", Version: "1.0", Capabilities: []string{"research"}},
	}}
	p := NewProber(r, f)
	p.ProbeAll(context.Background())
	if _, err := r.Query("research"); err != nil {
		t.Fatalf("healthy agent did not match: %v", err)
	}

	f.fail.Store(true)
	p.ProbeAll(context.Background())
	if _, err := r.Query("research"); !errors.Is(err, maestro.ErrNoAgent) {
		t.Errorf("unhealthy agent matched: err = %v", err)
	}
}

// An endpoint whose breaker opens is marked circuit-open and excluded from
// queries; once probes get through again the agent recovers and its card is
// refreshed.
func TestProber_BreakerRecovery(t *testing.T) {
	r := New()
	r.Add("researcher", "http://researcher:8001")

	f := &fakeFetcher{cards: map[string]maestro.AgentCard{
		"http://researcher:8001": {Name: "researcher", Version: "1.0", Capabilities: []string{"research"}},
	}}
	p := NewProber(r, f)
	p.ProbeAll(context.Background())

	f.fail.Store(true)
	f.err = maestro.ErrCircuitOpen
	p.ProbeAll(context.Background())

	a, _ := r.Get("researcher")
	if a.Status != StatusCircuitOpen {
		t.Fatalf("status = %v, want circuit-open", a.Status)
	}
	if _, err := r.Query("research"); !errors.Is(err, maestro.ErrNoAgent) {
		t.Errorf("circuit-open agent matched: err = %v", err)
	}
	// Last good card is retained while the agent is down.
	if a.Card.Version != "1.0" {
		t.Errorf("card version = %q, want retained %q", a.Card.Version, "1.0")
	}

	// Endpoint recovers with a new release.
	f.cards["http://researcher:8001"] = maestro.AgentCard{
		Name: "researcher", Version: "1.1", Capabilities: []string{"research", "translate"},
	}
	f.fail.Store(false)
	p.ProbeAll(context.Background())

	a, _ = r.Get("researcher")
	if a.Status != StatusHealthy {
		t.Fatalf("status = %v, want healthy", a.Status)
	}
	if a.Card.Version != "1.1" {
		t.Errorf("card version = %q, want refreshed %q", a.Card.Version, "1.1")
	}
	if _, err := r.Query("translate"); err != nil {
		t.Errorf("new capability not queryable after refresh: %v", err)
	}
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	r := New()
	r.Add("researcher", "http://researcher:8001")
	f := &fakeFetcher{cards: map[string]maestro.AgentCard{
		"http://researcher:8001": {Name: "researcher", Version: "1.0"},
	}}
	p := NewProber(r, f, ProbeInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	a, _ := r.Get("researcher")
	if a.Status != StatusHealthy {
		t.Errorf("status = %v, want healthy after running probes", a.Status)
	}
}

func TestAdd_ReplaceResetsStatus(t *testing.T) {
	r := New()
	r.Add("researcher", "http://old:8001")
	f := &fakeFetcher{cards: map[string]maestro.AgentCard{
		"http://old:8001": {Name: "researcher", Version: "1.0", Capabilities: []string{"research"}},
	}}
	NewProber(r, f).ProbeAll(context.Background())

	r.Add("researcher", "http://new:8001")
	a, ok := r.Get("researcher")
	if !ok {
		t.Fatal("agent missing after re-add")
	}
	if a.Endpoint != "http://new:8001" {
		t.Errorf("endpoint = %q, want replaced", a.Endpoint)
	}
	if a.Status != StatusUnknown {
		t.Errorf("status = %v, want unknown after re-add", a.Status)
	}
}
