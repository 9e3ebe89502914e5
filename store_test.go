package maestro

import (
	"context"
	"encoding/json"
	"testing"
)

func TestNamespace(t *testing.T) {
	a := Namespace("checkpoints", "T1")
	b := Namespace("checkpoints", "T2")
	if a == b {
		t.Errorf("distinct threads share namespace %q", a)
	}
	if Namespace("a", "bc") == Namespace("ab", "c") {
		t.Error("segment boundaries collide")
	}
}

func TestMemStore_WriteThenRead(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	ns := Namespace("checkpoints", "T1")

	if err := s.Put(ctx, ns, "k", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := s.Get(ctx, ns, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get ok = false, want true")
	}
	if string(v) != `{"n":1}` {
		t.Errorf("Get = %s, want {\"n\":1}", v)
	}
}

func TestMemStore_GetAbsent(t *testing.T) {
	s := NewMemStore()
	_, ok, err := s.Get(context.Background(), "ns", "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get ok = true for absent key")
	}
}

func TestMemStore_ListOrdered(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	for _, k := range []string{"c", "a", "b"} {
		if err := s.Put(ctx, "ns", k, json.RawMessage(`1`)); err != nil {
			t.Fatalf("Put %q: %v", k, err)
		}
	}
	entries, err := s.List(ctx, "ns")
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

func TestMemStore_Delete(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.Put(ctx, "ns", "k", json.RawMessage(`1`))
	if err := s.Delete(ctx, "ns", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "ns", "k"); ok {
		t.Error("key still present after Delete")
	}
}

func TestMemStore_ValueIsolation(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	val := json.RawMessage(`{"n":1}`)
	s.Put(ctx, "ns", "k", val)
	val[5] = '9' // caller mutates its buffer after Put

	got, _, _ := s.Get(ctx, "ns", "k")
	if string(got) != `{"n":1}` {
		t.Errorf("stored value changed to %s after caller mutation", got)
	}
	got[5] = '7' // reader mutates its copy
	again, _, _ := s.Get(ctx, "ns", "k")
	if string(again) != `{"n":1}` {
		t.Errorf("stored value changed to %s after reader mutation", again)
	}
}
