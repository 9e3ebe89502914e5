package maestro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrStoreClosed is returned for operations submitted after Close.
var ErrStoreClosed = errors.New("store closed")

// Handle tracks one queued store operation. All methods are safe for
// concurrent use. The result is readable once Done() is closed.
type Handle[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done returns a channel closed when the operation finishes.
// Composable with select for multiplexing multiple handles.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Await blocks until the operation completes or ctx is cancelled.
func (h *Handle[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// GetResult carries the two-part result of an asynchronous Get.
type GetResult struct {
	Value json.RawMessage
	OK    bool
}

// AsyncStore fronts a Store with a bounded worker pool. Callers receive a
// handle immediately and await it; workers run the underlying operations so
// graph nodes never block on persistence directly.
type AsyncStore struct {
	inner   Store
	jobs    chan func()
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	closeMu sync.Once
}

// AsyncOption configures an AsyncStore.
type AsyncOption func(*asyncConfig)

type asyncConfig struct {
	workers int
	depth   int
	logger  *slog.Logger
}

// AsyncWorkers sets the worker pool size (default: 4).
func AsyncWorkers(n int) AsyncOption {
	return func(c *asyncConfig) { c.workers = n }
}

// AsyncQueueDepth sets the pending-operation buffer (default: 64).
// Submissions beyond the buffer block until a worker frees a slot.
func AsyncQueueDepth(n int) AsyncOption {
	return func(c *asyncConfig) { c.depth = n }
}

// AsyncLogger sets the structured logger for pool events.
// If not set, a no-op logger is used (no output).
func AsyncLogger(l *slog.Logger) AsyncOption {
	return func(c *asyncConfig) { c.logger = l }
}

// NewAsyncStore starts the worker pool over inner.
func NewAsyncStore(inner Store, opts ...AsyncOption) *AsyncStore {
	cfg := asyncConfig{workers: 4, depth: 64}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = 4
	}
	if cfg.depth <= 0 {
		cfg.depth = 64
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	a := &AsyncStore{
		inner:  inner,
		jobs:   make(chan func(), cfg.depth),
		logger: cfg.logger,
	}
	a.wg.Add(cfg.workers)
	for i := 0; i < cfg.workers; i++ {
		go a.worker()
	}
	return a
}

func (a *AsyncStore) worker() {
	defer a.wg.Done()
	for job := range a.jobs {
		job()
	}
}

// Get queues a read of (ns, key).
func (a *AsyncStore) Get(ctx context.Context, ns, key string) *Handle[GetResult] {
	return submit(a, ctx, "get", func(ctx context.Context) (GetResult, error) {
		v, ok, err := a.inner.Get(ctx, ns, key)
		return GetResult{Value: v, OK: ok}, err
	})
}

// Put queues a write of (ns, key).
func (a *AsyncStore) Put(ctx context.Context, ns, key string, value json.RawMessage) *Handle[struct{}] {
	return submit(a, ctx, "put", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.inner.Put(ctx, ns, key, value)
	})
}

// List queues a scan of ns.
func (a *AsyncStore) List(ctx context.Context, ns string) *Handle[[]Entry] {
	return submit(a, ctx, "list", func(ctx context.Context) ([]Entry, error) {
		return a.inner.List(ctx, ns)
	})
}

// Delete queues a removal of (ns, key).
func (a *AsyncStore) Delete(ctx context.Context, ns, key string) *Handle[struct{}] {
	return submit(a, ctx, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.inner.Delete(ctx, ns, key)
	})
}

// Close stops accepting operations, waits for queued ones to drain and
// closes the underlying store.
func (a *AsyncStore) Close() error {
	a.closeMu.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.jobs)
		a.mu.Unlock()
		a.wg.Wait()
	})
	return a.inner.Close()
}

// Sync returns a Store view of the pool. Each call submits the operation
// and awaits its handle, so callers holding a plain Store still funnel
// every access through the bounded workers.
func (a *AsyncStore) Sync() Store { return syncStore{pool: a} }

type syncStore struct{ pool *AsyncStore }

var _ Store = syncStore{}

func (s syncStore) Get(ctx context.Context, ns, key string) (json.RawMessage, bool, error) {
	res, err := s.pool.Get(ctx, ns, key).Await(ctx)
	return res.Value, res.OK, err
}

func (s syncStore) Put(ctx context.Context, ns, key string, value json.RawMessage) error {
	_, err := s.pool.Put(ctx, ns, key, value).Await(ctx)
	return err
}

func (s syncStore) List(ctx context.Context, ns string) ([]Entry, error) {
	return s.pool.List(ctx, ns).Await(ctx)
}

func (s syncStore) Delete(ctx context.Context, ns, key string) error {
	_, err := s.pool.Delete(ctx, ns, key).Await(ctx)
	return err
}

func (s syncStore) Close() error { return s.pool.Close() }

// submit enqueues fn and returns its handle. The handle fails with
// ErrStoreClosed after Close and with ctx.Err() if the caller gives up
// while the queue is full or before a worker picks the job up.
func submit[T any](a *AsyncStore, ctx context.Context, op string, fn func(context.Context) (T, error)) *Handle[T] {
	h := &Handle[T]{done: make(chan struct{})}
	job := func() {
		defer close(h.done)
		defer func() {
			if p := recover(); p != nil {
				h.err = fmt.Errorf("store %s: panic: %v", op, p)
				a.logger.Error("store operation panic", "op", op, "panic", fmt.Sprintf("%v", p))
			}
		}()
		if err := ctx.Err(); err != nil {
			h.err = err
			return
		}
		h.val, h.err = fn(ctx)
	}

	// The read lock spans the send so Close cannot close the channel
	// between the closed check and the enqueue.
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		h.err = ErrStoreClosed
		close(h.done)
		return h
	}
	select {
	case a.jobs <- job:
	case <-ctx.Done():
		h.err = ctx.Err()
		close(h.done)
	}
	return h
}
