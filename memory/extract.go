// Package memory extracts CRM entities from conversation transcripts using
// an LLM with a constrained output schema. The extracted document is merged
// into the user's durable memory by maestro.Merge; this package never
// touches storage itself.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/maestro"
)

// Schema constrains the extraction response to the six-collection memory
// document. Providers with structured output enforce it server-side; Parse
// still validates.
var Schema = &maestro.ResponseSchema{
	Name: "crm_memory",
	Schema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "accounts": {"type": "array", "items": {"type": "object", "properties": {
      "id": {"type": "string"}, "system": {"type": "string"}, "name": {"type": "string"},
      "industry": {"type": "string"}, "website": {"type": "string"}, "notes": {"type": "string"}},
      "required": ["name"]}},
    "contacts": {"type": "array", "items": {"type": "object", "properties": {
      "id": {"type": "string"}, "system": {"type": "string"}, "name": {"type": "string"},
      "email": {"type": "string"}, "phone": {"type": "string"}, "title": {"type": "string"},
      "account_id": {"type": "string"}, "account_name": {"type": "string"}},
      "required": ["name"]}},
    "opportunities": {"type": "array", "items": {"type": "object", "properties": {
      "id": {"type": "string"}, "system": {"type": "string"}, "name": {"type": "string"},
      "stage": {"type": "string"}, "amount": {"type": "number"}, "close_date": {"type": "string"},
      "account_id": {"type": "string"}, "account_name": {"type": "string"}},
      "required": ["name"]}},
    "cases": {"type": "array", "items": {"type": "object", "properties": {
      "id": {"type": "string"}, "system": {"type": "string"}, "subject": {"type": "string"},
      "status": {"type": "string"}, "priority": {"type": "string"},
      "account_id": {"type": "string"}, "account_name": {"type": "string"}, "contact_name": {"type": "string"}},
      "required": ["subject"]}},
    "tasks": {"type": "array", "items": {"type": "object", "properties": {
      "id": {"type": "string"}, "system": {"type": "string"}, "subject": {"type": "string"},
      "status": {"type": "string"}, "due_date": {"type": "string"}, "related_to": {"type": "string"}},
      "required": ["subject"]}},
    "leads": {"type": "array", "items": {"type": "object", "properties": {
      "id": {"type": "string"}, "system": {"type": "string"}, "name": {"type": "string"},
      "company": {"type": "string"}, "email": {"type": "string"}, "status": {"type": "string"}},
      "required": ["name"]}}
  },
  "required": ["accounts", "contacts", "opportunities", "cases", "tasks", "leads"]
}`),
}

// Prompt is the system prompt for entity extraction.
const Prompt = `You are a CRM memory extraction system. Given a conversation between a user and an assistant, extract CRM entities mentioned in it: accounts (companies), contacts (people), opportunities (deals), cases (tickets), tasks (activities), and leads (prospects).

Rules:
- Extract only entities actually discussed; NEVER invent records, names, or ids.
- When a record id appears in the conversation (from a CRM system response), preserve it VERBATIM in the "id" field. Never fabricate an id; omit the field when none was mentioned.
- When a system name appears (e.g. "salesforce", "hubspot"), record it in "system".
- Fill only fields the conversation supports; leave the rest out.
- Link contacts, opportunities and cases to their account by "account_id" when the id is known, otherwise by "account_name".
- Return every collection, empty arrays included.

Return ONLY the JSON object, no extra text.`

// Extract runs entity extraction over the transcript and returns the parsed
// memory document. Any failure is wrapped in ErrExtraction so the caller
// keeps its update cursor and retries the same messages later.
func Extract(ctx context.Context, p maestro.Provider, msgs []maestro.Message) (maestro.UserMemory, error) {
	if len(msgs) == 0 {
		return maestro.UserMemory{}, nil
	}
	req := maestro.ChatRequest{
		Messages:       buildRequest(msgs),
		ResponseSchema: Schema,
	}
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return maestro.UserMemory{}, &maestro.ErrExtraction{Err: err}
	}
	mem, err := Parse(resp.Content)
	if err != nil {
		return maestro.UserMemory{}, &maestro.ErrExtraction{Err: err}
	}
	return mem, nil
}

// buildRequest flattens the transcript into a single user turn under the
// extraction system prompt, so the model sees the conversation as data
// rather than as its own history.
func buildRequest(msgs []maestro.Message) []maestro.ChatMessage {
	var b strings.Builder
	for _, m := range msgs {
		if m.Remove || m.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return []maestro.ChatMessage{
		{Role: maestro.RoleSystem, Content: Prompt},
		{Role: maestro.RoleUser, Content: b.String()},
	}
}

// Parse decodes an extraction response. Markdown code fences and
// surrounding prose are tolerated; the first balanced JSON object wins.
func Parse(response string) (maestro.UserMemory, error) {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end < start {
		return maestro.UserMemory{}, fmt.Errorf("no JSON object in response")
	}

	var mem maestro.UserMemory
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &mem); err != nil {
		return maestro.UserMemory{}, fmt.Errorf("decode memory document: %w", err)
	}
	return mem, nil
}

// CRM trigger keywords. A user message containing one of these marks the
// conversation as worth extracting from.
var triggerKeywords = []string{
	"account", "contact", "opportunity", "deal", "case", "ticket",
	"task", "lead", "customer", "client", "crm", "salesforce", "hubspot",
	"pipeline", "follow up", "follow-up",
}

// MentionsCRM reports whether the text touches CRM territory.
func MentionsCRM(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range triggerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
