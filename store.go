package maestro

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Store is the durable key/value contract shared by checkpoints, memory
// write-through and anything else that needs thread-scoped persistence.
// Values are opaque JSON. List returns entries in ascending key order.
type Store interface {
	Get(ctx context.Context, ns, key string) (json.RawMessage, bool, error)
	Put(ctx context.Context, ns, key string, value json.RawMessage) error
	List(ctx context.Context, ns string) ([]Entry, error)
	Delete(ctx context.Context, ns, key string) error
	Close() error
}

// Entry is one key/value pair from Store.List.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// nsSep joins namespace segments. The unit separator never occurs in
// thread or user identifiers, so joined namespaces cannot collide.
const nsSep = "\x1f"

// Namespace joins segments into a single namespace string:
//
//	maestro.Namespace("checkpoints", threadID)
//	maestro.Namespace("memory", userID)
func Namespace(segments ...string) string {
	return strings.Join(segments, nsSep)
}

// MemStore is an in-process Store. Contents vanish on restart; it backs
// tests and ephemeral deployments that run without a database file.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string]json.RawMessage)}
}

func (m *MemStore) Get(_ context.Context, ns, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[ns][key]
	if !ok {
		return nil, false, nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemStore) Put(_ context.Context, ns, key string, value json.RawMessage) error {
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[ns] == nil {
		m.data[ns] = make(map[string]json.RawMessage)
	}
	m.data[ns][key] = cp
	return nil
}

func (m *MemStore) List(_ context.Context, ns string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.data[ns]
	entries := make([]Entry, 0, len(bucket))
	for k, v := range bucket {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		entries = append(entries, Entry{Key: k, Value: cp})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m *MemStore) Delete(_ context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[ns], key)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }
