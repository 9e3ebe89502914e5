package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nevindra/maestro"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	defer s.Close()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestWriteThenRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ns := maestro.Namespace("checkpoints", "T1")

	if err := s.Put(ctx, ns, "latest", json.RawMessage(`{"step":3}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := s.Get(ctx, ns, "latest")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get ok = false, want true")
	}
	if string(v) != `{"step":3}` {
		t.Errorf("Get = %s, want {\"step\":3}", v)
	}
}

func TestGetAbsent(t *testing.T) {
	s := testStore(t)
	_, ok, err := s.Get(context.Background(), "ns", "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get ok = true for absent key")
	}
}

func TestPutReplaces(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Put(ctx, "ns", "k", json.RawMessage(`1`))
	if err := s.Put(ctx, "ns", "k", json.RawMessage(`2`)); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	v, _, _ := s.Get(ctx, "ns", "k")
	if string(v) != `2` {
		t.Errorf("Get = %s, want 2", v)
	}
}

func TestListOrderedAndScoped(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, k := range []string{"c", "a", "b"} {
		if err := s.Put(ctx, "ns1", k, json.RawMessage(`1`)); err != nil {
			t.Fatalf("Put %q: %v", k, err)
		}
	}
	s.Put(ctx, "ns2", "z", json.RawMessage(`1`))

	entries, err := s.List(ctx, "ns1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(entries) != len(want) {
		t.Fatalf("List returned %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Key != want[i] {
			t.Errorf("entries[%d].Key = %q, want %q", i, e.Key, want[i])
		}
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Put(ctx, "ns", "k", json.RawMessage(`1`))
	if err := s.Delete(ctx, "ns", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "ns", "k"); ok {
		t.Error("key still present after Delete")
	}
	if err := s.Delete(ctx, "ns", "k"); err != nil {
		t.Errorf("Delete absent key: %v", err)
	}
}

func TestConcurrentWriters(t *testing.T) {
	// SetMaxOpenConns(1) serialises writers; none may observe SQLITE_BUSY.
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			if err := s.Put(ctx, "ns", key, json.RawMessage(`1`)); err != nil {
				t.Errorf("Put %q: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	entries, err := s.List(ctx, "ns")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 8 {
		t.Errorf("List returned %d entries, want 8", len(entries))
	}
}
