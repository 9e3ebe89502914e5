package maestro

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// UserMemory is the durable record of what the orchestrator knows about one
// user's CRM world. Each collection deduplicates on external id first, then
// on case-insensitive display name (see Merge). Readers must tolerate
// unknown keys in persisted documents.
type UserMemory struct {
	Accounts      []Account     `json:"accounts"`
	Contacts      []Contact     `json:"contacts"`
	Opportunities []Opportunity `json:"opportunities"`
	Cases         []Case        `json:"cases"`
	Tasks         []TaskRecord  `json:"tasks"`
	Leads         []Lead        `json:"leads"`
}

// Account is a company record.
type Account struct {
	ID       string `json:"id,omitempty"` // external CRM id, preserved verbatim
	System   string `json:"system,omitempty"`
	Name     string `json:"name"`
	Industry string `json:"industry,omitempty"`
	Website  string `json:"website,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Contact is a person linked to an account by id or name.
type Contact struct {
	ID          string `json:"id,omitempty"`
	System      string `json:"system,omitempty"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Title       string `json:"title,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	AccountName string `json:"account_name,omitempty"`
}

// Opportunity is an open or closed deal.
type Opportunity struct {
	ID          string  `json:"id,omitempty"`
	System      string  `json:"system,omitempty"`
	Name        string  `json:"name"`
	Stage       string  `json:"stage,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	CloseDate   string  `json:"close_date,omitempty"`
	AccountID   string  `json:"account_id,omitempty"`
	AccountName string  `json:"account_name,omitempty"`
}

// Case is a support or service ticket.
type Case struct {
	ID          string `json:"id,omitempty"`
	System      string `json:"system,omitempty"`
	Subject     string `json:"subject"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	AccountName string `json:"account_name,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
}

// TaskRecord is a CRM activity item. Named to stay clear of the A2A Task.
type TaskRecord struct {
	ID        string `json:"id,omitempty"`
	System    string `json:"system,omitempty"`
	Subject   string `json:"subject"`
	Status    string `json:"status,omitempty"`
	DueDate   string `json:"due_date,omitempty"`
	RelatedTo string `json:"related_to,omitempty"` // id or name of the linked record
}

// Lead is an unqualified prospect.
type Lead struct {
	ID      string `json:"id,omitempty"`
	System  string `json:"system,omitempty"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
	Status  string `json:"status,omitempty"`
}

// MemoryStore persists one durable memory record per user. The relational
// backend in store/postgres implements it; deployments without one rely on
// the embedded cache alone.
type MemoryStore interface {
	SaveMemory(ctx context.Context, userID string, mem UserMemory) error
	LoadMemory(ctx context.Context, userID string) (UserMemory, bool, error)
}

// MemoryKey is the store key holding a user's memory document inside the
// ("memory", user_id) namespace.
const MemoryKey = "SimpleMemory"

// --- merge ---

// Merge folds extracted entities into the existing memory, collection by
// collection. Matching is by external id first, then by case-insensitive
// display name; a matched item is replaced only when the incoming one is
// more complete (more populated fields, or it adds an id where none
// existed). Unmatched items are appended. Merge never loses an id.
func Merge(existing, incoming UserMemory) UserMemory {
	return UserMemory{
		Accounts:      mergeSlice(existing.Accounts, incoming.Accounts),
		Contacts:      mergeSlice(existing.Contacts, incoming.Contacts),
		Opportunities: mergeSlice(existing.Opportunities, incoming.Opportunities),
		Cases:         mergeSlice(existing.Cases, incoming.Cases),
		Tasks:         mergeSlice(existing.Tasks, incoming.Tasks),
		Leads:         mergeSlice(existing.Leads, incoming.Leads),
	}
}

// crmEntity is the merge contract every collection element satisfies.
type crmEntity interface {
	externalID() string
	display() string
	completeness() int
}

func mergeSlice[T crmEntity](existing, incoming []T) []T {
	merged := make([]T, len(existing))
	copy(merged, existing)
	for _, item := range incoming {
		idx := matchIndex(merged, item)
		if idx < 0 {
			merged = append(merged, item)
			continue
		}
		if moreComplete(merged[idx], item) {
			merged[idx] = item
		}
	}
	return merged
}

// matchIndex locates the element item deduplicates against: same non-empty
// external id, otherwise same folded display name. Two items carrying
// different non-empty ids are distinct entities even when their names
// collide.
func matchIndex[T crmEntity](items []T, item T) int {
	id := item.externalID()
	if id != "" {
		for i := range items {
			if items[i].externalID() == id {
				return i
			}
		}
	}
	name := foldName(item.display())
	if name == "" {
		return -1
	}
	for i := range items {
		if eid := items[i].externalID(); eid != "" && id != "" && eid != id {
			continue
		}
		if foldName(items[i].display()) == name {
			return i
		}
	}
	return -1
}

// moreComplete reports whether candidate should replace current: it adds an
// id where none existed, or fills more fields. A candidate without an id
// never replaces an item that has one.
func moreComplete[T crmEntity](current, candidate T) bool {
	if current.externalID() == "" && candidate.externalID() != "" {
		return true
	}
	if current.externalID() != "" && candidate.externalID() == "" {
		return false
	}
	return candidate.completeness() > current.completeness()
}

// foldName normalises a display name for case-insensitive comparison.
// NFKC folds width and compatibility variants before lowercasing, so
// "ＡＣＭＥ" and "acme" compare equal.
func foldName(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}

func countNonEmpty(fields ...string) int {
	n := 0
	for _, f := range fields {
		if f != "" {
			n++
		}
	}
	return n
}

func (a Account) externalID() string { return a.ID }
func (a Account) display() string    { return a.Name }
func (a Account) completeness() int {
	return countNonEmpty(a.ID, a.System, a.Name, a.Industry, a.Website, a.Notes)
}

func (c Contact) externalID() string { return c.ID }
func (c Contact) display() string    { return c.Name }
func (c Contact) completeness() int {
	return countNonEmpty(c.ID, c.System, c.Name, c.Email, c.Phone, c.Title, c.AccountID, c.AccountName)
}

func (o Opportunity) externalID() string { return o.ID }
func (o Opportunity) display() string    { return o.Name }
func (o Opportunity) completeness() int {
	n := countNonEmpty(o.ID, o.System, o.Name, o.Stage, o.CloseDate, o.AccountID, o.AccountName)
	if o.Amount != 0 {
		n++
	}
	return n
}

func (c Case) externalID() string { return c.ID }
func (c Case) display() string    { return c.Subject }
func (c Case) completeness() int {
	return countNonEmpty(c.ID, c.System, c.Subject, c.Status, c.Priority, c.AccountID, c.AccountName, c.ContactName)
}

func (t TaskRecord) externalID() string { return t.ID }
func (t TaskRecord) display() string    { return t.Subject }
func (t TaskRecord) completeness() int {
	return countNonEmpty(t.ID, t.System, t.Subject, t.Status, t.DueDate, t.RelatedTo)
}

func (l Lead) externalID() string { return l.ID }
func (l Lead) display() string    { return l.Name }
func (l Lead) completeness() int {
	return countNonEmpty(l.ID, l.System, l.Name, l.Company, l.Email, l.Status)
}

// --- context projection ---

// Projection caps keep the memory block small enough for every prompt.
const (
	projectAccounts      = 5
	projectContacts      = 5
	projectOpportunities = 3
	projectCases         = 3
	projectTasks         = 3
	projectLeads         = 3
)

// ContextString projects the memory into a compact text block for the
// chatbot system prompt: at most 5 accounts, 5 contacts, 3 non-closed
// opportunities, and 3 each of open cases, tasks and leads. Returns ""
// when the memory is empty.
func (m UserMemory) ContextString() string {
	var b strings.Builder

	writeSection(&b, "Accounts", m.Accounts, projectAccounts, func(a Account) string {
		return joinAttrs(a.Name, a.Industry, a.Website)
	})
	writeSection(&b, "Contacts", m.Contacts, projectContacts, func(c Contact) string {
		return joinAttrs(c.Name, c.Title, c.Email, refAttr("account", c.AccountName))
	})
	open := make([]Opportunity, 0, len(m.Opportunities))
	for _, o := range m.Opportunities {
		if !strings.HasPrefix(foldName(o.Stage), "closed") {
			open = append(open, o)
		}
	}
	writeSection(&b, "Open opportunities", open, projectOpportunities, func(o Opportunity) string {
		attrs := []string{o.Name, o.Stage, refAttr("account", o.AccountName)}
		if o.Amount > 0 {
			attrs = append(attrs, fmt.Sprintf("$%.0f", o.Amount))
		}
		return joinAttrs(attrs...)
	})
	writeSection(&b, "Cases", m.Cases, projectCases, func(c Case) string {
		return joinAttrs(c.Subject, c.Status, refAttr("account", c.AccountName))
	})
	writeSection(&b, "Tasks", m.Tasks, projectTasks, func(t TaskRecord) string {
		return joinAttrs(t.Subject, t.Status, t.DueDate)
	})
	writeSection(&b, "Leads", m.Leads, projectLeads, func(l Lead) string {
		return joinAttrs(l.Name, l.Company, l.Status)
	})

	if b.Len() == 0 {
		return ""
	}
	return "## Known CRM context\n" + b.String()
}

func writeSection[T any](b *strings.Builder, title string, items []T, limit int, line func(T) string) {
	if len(items) == 0 {
		return
	}
	if len(items) > limit {
		items = items[:limit]
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", line(item))
	}
}

func joinAttrs(attrs ...string) string {
	var parts []string
	for _, a := range attrs {
		if a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, ", ")
}

func refAttr(label, value string) string {
	if value == "" {
		return ""
	}
	return label + ": " + value
}

// IsEmpty reports whether no collection has any element.
func (m UserMemory) IsEmpty() bool {
	return len(m.Accounts) == 0 && len(m.Contacts) == 0 && len(m.Opportunities) == 0 &&
		len(m.Cases) == 0 && len(m.Tasks) == 0 && len(m.Leads) == 0
}
