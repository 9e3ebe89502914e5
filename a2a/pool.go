package a2a

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// poolKey identifies a session. The timeout is part of the key on purpose:
// a short health-check session must never be reused for a long-running task
// call, or the task inherits the health check's socket deadlines.
type poolKey struct {
	baseURL string
	timeout time.Duration
}

// session owns one HTTP connection group. Entries are immutable once
// created; the pool replaces them rather than mutating.
type session struct {
	client    *http.Client
	createdAt time.Time
	lastUsed  time.Time
}

// Pool tuning defaults.
const (
	defaultPoolMaxSessions = 64
	defaultMaxIdleConns    = 50
	defaultMaxConnsPerHost = 20
	defaultKeepAlive       = 30 * time.Second
	defaultDNSCacheTTL     = 300 * time.Second
	defaultSweepInterval   = 30 * time.Second
	defaultRecycleAge      = 5 * time.Minute
)

// sessionPool keeps one HTTP client per (base URL, timeout) pair. A
// background sweep recycles sessions idle past the recycle age and closes
// their idle connections.
type sessionPool struct {
	mu       sync.Mutex
	sessions map[poolKey]*session

	maxSessions     int
	maxIdleConns    int
	maxConnsPerHost int
	keepAlive       time.Duration
	sweepInterval   time.Duration
	recycleAge      time.Duration

	resolver *dnsCache
	logger   *slog.Logger

	stop      chan struct{}
	closeOnce sync.Once
}

func newSessionPool(maxIdle, perHost int, keepAlive, dnsTTL time.Duration, logger *slog.Logger) *sessionPool {
	p := &sessionPool{
		sessions:        make(map[poolKey]*session),
		maxSessions:     defaultPoolMaxSessions,
		maxIdleConns:    maxIdle,
		maxConnsPerHost: perHost,
		keepAlive:       keepAlive,
		sweepInterval:   defaultSweepInterval,
		recycleAge:      defaultRecycleAge,
		resolver:        newDNSCache(dnsTTL),
		logger:          logger,
		stop:            make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// get returns the session for (baseURL, timeout), creating it on first use.
func (p *sessionPool) get(baseURL string, timeout time.Duration) *http.Client {
	key := poolKey{baseURL: baseURL, timeout: timeout}
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[key]; ok {
		s.lastUsed = now
		return s.client
	}
	if len(p.sessions) >= p.maxSessions {
		p.evictOldest()
	}
	s := &session{
		client:    p.newClient(timeout),
		createdAt: now,
		lastUsed:  now,
	}
	p.sessions[key] = s
	p.logger.Debug("session created", "url", baseURL, "timeout", timeout)
	return s.client
}

// newClient builds the HTTP client for one session. The per-session timeout
// covers the whole request including the socket read, which is why sessions
// with different timeouts cannot share a client.
func (p *sessionPool) newClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        p.maxIdleConns,
		MaxConnsPerHost:     p.maxConnsPerHost,
		MaxIdleConnsPerHost: p.maxConnsPerHost,
		IdleConnTimeout:     p.keepAlive,
		DialContext:         p.resolver.dialContext,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// evictOldest drops the least recently used session. Caller holds the lock.
func (p *sessionPool) evictOldest() {
	var oldestKey poolKey
	var oldest *session
	for k, s := range p.sessions {
		if oldest == nil || s.lastUsed.Before(oldest.lastUsed) {
			oldestKey, oldest = k, s
		}
	}
	if oldest != nil {
		oldest.client.CloseIdleConnections()
		delete(p.sessions, oldestKey)
	}
}

func (p *sessionPool) sweepLoop() {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep(time.Now())
		}
	}
}

// sweep recycles sessions idle past the recycle age.
func (p *sessionPool) sweep(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, s := range p.sessions {
		if now.Sub(s.lastUsed) > p.recycleAge {
			s.client.CloseIdleConnections()
			delete(p.sessions, k)
			p.logger.Debug("session recycled", "url", k.baseURL, "timeout", k.timeout)
		}
	}
}

// size returns the number of live sessions. Test hook.
func (p *sessionPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *sessionPool) close() {
	p.closeOnce.Do(func() { close(p.stop) })
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, s := range p.sessions {
		s.client.CloseIdleConnections()
		delete(p.sessions, k)
	}
}

// --- DNS cache ---

// dnsCache resolves hosts through net.DefaultResolver and caches the
// answers for a TTL, so repeated dials during probe storms do not hammer
// the resolver.
type dnsCache struct {
	ttl    time.Duration
	mu     sync.Mutex
	hosts  map[string]dnsEntry
	dialer net.Dialer
}

type dnsEntry struct {
	addrs   []string
	expires time.Time
}

func newDNSCache(ttl time.Duration) *dnsCache {
	if ttl <= 0 {
		ttl = defaultDNSCacheTTL
	}
	return &dnsCache{
		ttl:    ttl,
		hosts:  make(map[string]dnsEntry),
		dialer: net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
	}
}

func (d *dnsCache) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return d.dialer.DialContext(ctx, network, addr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return d.dialer.DialContext(ctx, network, addr)
	}

	addrs, err := d.resolve(ctx, host)
	if err != nil || len(addrs) == 0 {
		return d.dialer.DialContext(ctx, network, addr)
	}

	var lastErr error
	for _, a := range addrs {
		conn, err := d.dialer.DialContext(ctx, network, net.JoinHostPort(a, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *dnsCache) resolve(ctx context.Context, host string) ([]string, error) {
	now := time.Now()
	d.mu.Lock()
	if e, ok := d.hosts[host]; ok && now.Before(e.expires) {
		addrs := e.addrs
		d.mu.Unlock()
		return addrs, nil
	}
	d.mu.Unlock()

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.hosts[host] = dnsEntry{addrs: addrs, expires: now.Add(d.ttl)}
	d.mu.Unlock()
	return addrs, nil
}
