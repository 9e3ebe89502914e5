package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/maestro"
)

// MemoryStoreOption configures a SQLite MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryLogger sets a structured logger for the memory store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithMemoryLogger(l *slog.Logger) MemoryStoreOption {
	return func(s *MemoryStore) { s.logger = l }
}

// MemoryStore implements maestro.MemoryStore backed by SQLite. It is the
// durable memory tier for single-node deployments that run without
// PostgreSQL: one row per user holding the whole memory document as JSON.
//
// Use NewMemoryStore with a shared *sql.DB from Store.DB() so both
// Store and MemoryStore share the same serialized connection.
type MemoryStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ maestro.MemoryStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore on an existing database handle.
// The caller owns the handle and is responsible for closing it.
func NewMemoryStore(db *sql.DB, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the user_memory table. Safe to call multiple times.
func (s *MemoryStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS user_memory (
		user_id    TEXT PRIMARY KEY,
		doc        TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: memory init: %w", err)
	}
	return nil
}

// SaveMemory replaces the user's memory document.
func (s *MemoryStore) SaveMemory(ctx context.Context, userID string, mem maestro.UserMemory) error {
	start := time.Now()
	doc, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("sqlite: marshal memory: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_memory (user_id, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		userID, string(doc), maestro.NowUnix())
	if err != nil {
		return fmt.Errorf("sqlite: save memory: %w", err)
	}
	s.logger.Debug("sqlite: memory saved", "user_id", userID, "bytes", len(doc), "duration", time.Since(start))
	return nil
}

// LoadMemory returns the user's memory document. The bool reports whether
// a row existed.
func (s *MemoryStore) LoadMemory(ctx context.Context, userID string) (maestro.UserMemory, bool, error) {
	var mem maestro.UserMemory
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM user_memory WHERE user_id = ?`, userID).Scan(&doc)
	if err == sql.ErrNoRows {
		return mem, false, nil
	}
	if err != nil {
		return mem, false, fmt.Errorf("sqlite: load memory: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &mem); err != nil {
		return mem, true, fmt.Errorf("sqlite: decode memory: %w", err)
	}
	return mem, true, nil
}
