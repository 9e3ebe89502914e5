package sqlite

import (
	"context"
	"testing"

	"github.com/nevindra/maestro"
)

func testMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := testStore(t)
	ms := NewMemoryStore(s.DB())
	if err := ms.Init(context.Background()); err != nil {
		t.Fatalf("MemoryStore Init: %v", err)
	}
	return ms
}

func TestMemoryInitIdempotent(t *testing.T) {
	s := testStore(t)
	ms := NewMemoryStore(s.DB())
	ctx := context.Background()
	if err := ms.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := ms.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestLoadMemoryMissing(t *testing.T) {
	ms := testMemoryStore(t)

	mem, found, err := ms.LoadMemory(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("LoadMemory: %v", err)
	}
	if found {
		t.Error("expected found = false for unknown user")
	}
	if len(mem.Accounts) != 0 {
		t.Errorf("expected empty memory, got %d accounts", len(mem.Accounts))
	}
}

func TestSaveAndLoadMemory(t *testing.T) {
	ms := testMemoryStore(t)
	ctx := context.Background()

	mem := maestro.UserMemory{
		Accounts: []maestro.Account{
			{ID: "acc-1", System: "salesforce", Name: "Acme Corp", Industry: "manufacturing"},
		},
		Contacts: []maestro.Contact{
			{Name: "Dana Reyes", Email: "dana@acme.example", AccountName: "Acme Corp"},
		},
		Opportunities: []maestro.Opportunity{
			{Name: "Acme renewal", Stage: "negotiation", Amount: 42000},
		},
	}
	if err := ms.SaveMemory(ctx, "user-1", mem); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}

	got, found, err := ms.LoadMemory(ctx, "user-1")
	if err != nil {
		t.Fatalf("LoadMemory: %v", err)
	}
	if !found {
		t.Fatal("expected found = true")
	}
	if len(got.Accounts) != 1 || got.Accounts[0].Name != "Acme Corp" {
		t.Errorf("accounts = %+v", got.Accounts)
	}
	if len(got.Contacts) != 1 || got.Contacts[0].Email != "dana@acme.example" {
		t.Errorf("contacts = %+v", got.Contacts)
	}
	if len(got.Opportunities) != 1 || got.Opportunities[0].Amount != 42000 {
		t.Errorf("opportunities = %+v", got.Opportunities)
	}
}

func TestSaveMemoryReplaces(t *testing.T) {
	ms := testMemoryStore(t)
	ctx := context.Background()

	first := maestro.UserMemory{
		Accounts: []maestro.Account{{Name: "Old Co"}},
		Leads:    []maestro.Lead{{Name: "Stale Lead"}},
	}
	if err := ms.SaveMemory(ctx, "user-1", first); err != nil {
		t.Fatalf("first SaveMemory: %v", err)
	}

	second := maestro.UserMemory{
		Accounts: []maestro.Account{{Name: "New Co"}},
	}
	if err := ms.SaveMemory(ctx, "user-1", second); err != nil {
		t.Fatalf("second SaveMemory: %v", err)
	}

	got, _, err := ms.LoadMemory(ctx, "user-1")
	if err != nil {
		t.Fatalf("LoadMemory: %v", err)
	}
	if len(got.Accounts) != 1 || got.Accounts[0].Name != "New Co" {
		t.Errorf("accounts = %+v", got.Accounts)
	}
	if len(got.Leads) != 0 {
		t.Errorf("expected leads cleared, got %+v", got.Leads)
	}
}

func TestMemoryIsolatedPerUser(t *testing.T) {
	ms := testMemoryStore(t)
	ctx := context.Background()

	if err := ms.SaveMemory(ctx, "alice", maestro.UserMemory{
		Accounts: []maestro.Account{{Name: "Alice Co"}},
	}); err != nil {
		t.Fatalf("SaveMemory alice: %v", err)
	}
	if err := ms.SaveMemory(ctx, "bob", maestro.UserMemory{
		Accounts: []maestro.Account{{Name: "Bob Co"}},
	}); err != nil {
		t.Fatalf("SaveMemory bob: %v", err)
	}

	got, found, err := ms.LoadMemory(ctx, "alice")
	if err != nil || !found {
		t.Fatalf("LoadMemory alice: found=%v err=%v", found, err)
	}
	if got.Accounts[0].Name != "Alice Co" {
		t.Errorf("alice accounts = %+v", got.Accounts)
	}
}

func TestSaveMemoryEmptyDocument(t *testing.T) {
	ms := testMemoryStore(t)
	ctx := context.Background()

	if err := ms.SaveMemory(ctx, "user-1", maestro.UserMemory{}); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}
	_, found, err := ms.LoadMemory(ctx, "user-1")
	if err != nil {
		t.Fatalf("LoadMemory: %v", err)
	}
	// An empty document still counts as stored memory.
	if !found {
		t.Error("expected found = true after saving empty document")
	}
}
