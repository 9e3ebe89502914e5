// Package sqlite implements maestro.Store over a single local file using
// pure-Go SQLite. Zero CGO required. It is the default backend for thread
// checkpoints and the write-through cache in front of persistent memory.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/maestro"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and key parameters.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements maestro.Store backed by a local SQLite file.
// One table holds every namespace; write-ahead logging keeps readers
// unblocked while the single writer commits.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ maestro.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init enables write-ahead logging and creates the kv table.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA busy_timeout=5000`); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		ns         TEXT NOT NULL,
		k          TEXT NOT NULL,
		v          BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (ns, k)
	)`); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Get returns the value at (ns, key), reporting absence via the bool.
func (s *Store) Get(ctx context.Context, ns, key string) (json.RawMessage, bool, error) {
	start := time.Now()
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE ns = ? AND k = ?`, ns, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	s.logger.Debug("sqlite: get", "key", key, "bytes", len(v), "duration", time.Since(start))
	return v, true, nil
}

// Put inserts or replaces the value at (ns, key).
func (s *Store) Put(ctx context.Context, ns, key string, value json.RawMessage) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (ns, k, v, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (ns, k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		ns, key, []byte(value), maestro.NowUnix())
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	s.logger.Debug("sqlite: put", "key", key, "bytes", len(value), "duration", time.Since(start))
	return nil
}

// List returns every entry under ns in ascending key order.
func (s *Store) List(ctx context.Context, ns string) ([]maestro.Entry, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT k, v FROM kv WHERE ns = ? ORDER BY k ASC`, ns)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var entries []maestro.Entry
	for rows.Next() {
		var e maestro.Entry
		var v []byte
		if err := rows.Scan(&e.Key, &v); err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		e.Value = v
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	s.logger.Debug("sqlite: list", "count", len(entries), "duration", time.Since(start))
	return entries, nil
}

// Delete removes (ns, key). Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, ns, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE ns = ? AND k = ?`, ns, key)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	s.logger.Debug("sqlite: delete", "key", key)
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so MemoryStore can share the same
// serialized connection.
func (s *Store) DB() *sql.DB { return s.db }
