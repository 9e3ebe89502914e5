// Package postgres implements maestro.MemoryStore on PostgreSQL. It is the
// opt-in durable tier for user memory: one row per remembered entity under
// the memory schema, with entity-level deduplication enforced by a unique
// index over the JSONB external-id fields.
//
// The store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/maestro"
)

// Context types stored in memory.nodes.context_type.
const (
	nodeAccount     = "account"
	nodeContact     = "contact"
	nodeOpportunity = "opportunity"
	nodeCase        = "case"
	nodeTask        = "task"
	nodeLead        = "lead"
)

// MemoryStore implements maestro.MemoryStore backed by PostgreSQL.
type MemoryStore struct {
	pool *pgxpool.Pool
}

var _ maestro.MemoryStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func NewMemoryStore(pool *pgxpool.Pool) *MemoryStore {
	return &MemoryStore{pool: pool}
}

// Init creates the memory schema, tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *MemoryStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS memory`,
		`CREATE TABLE IF NOT EXISTS memory.nodes (
			user_id      TEXT NOT NULL,
			node_id      UUID PRIMARY KEY,
			context_type TEXT NOT NULL,
			content      JSONB NOT NULL,
			summary      TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS nodes_user_idx ON memory.nodes (user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS nodes_entity_uniq
			ON memory.nodes (user_id, (content->>'entity_id'), (content->>'entity_system'))
			WHERE content->>'entity_id' IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS memory.users (
			user_id    TEXT PRIMARY KEY,
			metadata   JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: memory init: %w", err)
		}
	}
	return nil
}

// nodeContent is the JSONB shape of one memory.nodes row. The external id
// fields sit at the top level so the unique index expression can reach
// them; the entity document keeps its own wire shape under "entity".
type nodeContent struct {
	EntityID     string          `json:"entity_id,omitempty"`
	EntitySystem string          `json:"entity_system,omitempty"`
	Entity       json.RawMessage `json:"entity"`
}

// SaveMemory replaces the user's node set with the given memory inside one
// transaction. A unique-index violation from a concurrent writer aborts the
// transaction; the caller records the persistence error and the next write
// converges.
func (s *MemoryStore) SaveMemory(ctx context.Context, userID string, mem maestro.UserMemory) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM memory.nodes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("postgres: clear nodes: %w", err)
	}

	type row struct {
		contextType string
		id, system  string
		summary     string
		entity      any
	}
	var rows []row
	for _, a := range mem.Accounts {
		rows = append(rows, row{nodeAccount, a.ID, a.System, a.Name, a})
	}
	for _, c := range mem.Contacts {
		rows = append(rows, row{nodeContact, c.ID, c.System, c.Name, c})
	}
	for _, o := range mem.Opportunities {
		rows = append(rows, row{nodeOpportunity, o.ID, o.System, o.Name, o})
	}
	for _, c := range mem.Cases {
		rows = append(rows, row{nodeCase, c.ID, c.System, c.Subject, c})
	}
	for _, t := range mem.Tasks {
		rows = append(rows, row{nodeTask, t.ID, t.System, t.Subject, t})
	}
	for _, l := range mem.Leads {
		rows = append(rows, row{nodeLead, l.ID, l.System, l.Name, l})
	}

	for _, r := range rows {
		entity, err := json.Marshal(r.entity)
		if err != nil {
			return fmt.Errorf("postgres: marshal %s: %w", r.contextType, err)
		}
		content, err := json.Marshal(nodeContent{EntityID: r.id, EntitySystem: r.system, Entity: entity})
		if err != nil {
			return fmt.Errorf("postgres: marshal node: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory.nodes (user_id, node_id, context_type, content, summary)
			 VALUES ($1, $2, $3, $4, $5)`,
			userID, maestro.NewID(), r.contextType, content, r.summary); err != nil {
			return fmt.Errorf("postgres: insert %s: %w", r.contextType, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO memory.users (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = now()`,
		userID); err != nil {
		return fmt.Errorf("postgres: upsert user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save: %w", err)
	}
	return nil
}

// LoadMemory reassembles the user's memory from node rows. The bool reports
// whether any row existed.
func (s *MemoryStore) LoadMemory(ctx context.Context, userID string) (maestro.UserMemory, bool, error) {
	var mem maestro.UserMemory
	rows, err := s.pool.Query(ctx,
		`SELECT context_type, content FROM memory.nodes WHERE user_id = $1 ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return mem, false, fmt.Errorf("postgres: load nodes: %w", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var contextType string
		var raw []byte
		if err := rows.Scan(&contextType, &raw); err != nil {
			return mem, found, fmt.Errorf("postgres: scan node: %w", err)
		}
		var content nodeContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return mem, found, fmt.Errorf("postgres: decode node: %w", err)
		}
		found = true
		if err := appendEntity(&mem, contextType, content.Entity); err != nil {
			return mem, found, err
		}
	}
	if err := rows.Err(); err != nil {
		return mem, found, fmt.Errorf("postgres: load rows: %w", err)
	}
	return mem, found, nil
}

func appendEntity(mem *maestro.UserMemory, contextType string, entity json.RawMessage) error {
	var err error
	switch contextType {
	case nodeAccount:
		var a maestro.Account
		if err = json.Unmarshal(entity, &a); err == nil {
			mem.Accounts = append(mem.Accounts, a)
		}
	case nodeContact:
		var c maestro.Contact
		if err = json.Unmarshal(entity, &c); err == nil {
			mem.Contacts = append(mem.Contacts, c)
		}
	case nodeOpportunity:
		var o maestro.Opportunity
		if err = json.Unmarshal(entity, &o); err == nil {
			mem.Opportunities = append(mem.Opportunities, o)
		}
	case nodeCase:
		var c maestro.Case
		if err = json.Unmarshal(entity, &c); err == nil {
			mem.Cases = append(mem.Cases, c)
		}
	case nodeTask:
		var t maestro.TaskRecord
		if err = json.Unmarshal(entity, &t); err == nil {
			mem.Tasks = append(mem.Tasks, t)
		}
	case nodeLead:
		var l maestro.Lead
		if err = json.Unmarshal(entity, &l); err == nil {
			mem.Leads = append(mem.Leads, l)
		}
	default:
		// Unknown context types are skipped so newer writers stay readable.
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: decode %s: %w", contextType, err)
	}
	return nil
}
