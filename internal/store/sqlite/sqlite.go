// Package sqlite is the default embedded Store backend: a single file,
// pure-Go (modernc.org/sqlite, no cgo), with additive migrations applied
// at startup and a busy-retry wrapper around writes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/sirouk/clawboard/internal/model"
	_ "modernc.org/sqlite"
)

// Store implements store.Store backed by a local SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path, applies PRAGMA
// bootstrap settings, and runs additive migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY storms

	bootstrap := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, stmt := range bootstrap {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma bootstrap %q: %w", stmt, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.ensureDefaultSpace(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap default space: %w", err)
	}
	return s, nil
}

// DB returns the underlying connection, so callers that need to share the
// same database file for a concern Store doesn't own itself (the
// vectorindex local mirror) don't have to open a second handle.
func (s *Store) DB() *sql.DB { return s.db }

// ensureDefaultSpace inserts the always-present default space if absent, per
// the Space invariant in §3: "a 'default' space always exists".
func (s *Store) ensureDefaultSpace(ctx context.Context) error {
	now := model.NowISO()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces (id, name, color, default_visible, connectivity, created_at, updated_at)
		VALUES (?, 'Default', NULL, 1, '{}', ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, model.DefaultSpaceID, now, now)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// withRetry retries transient SQLITE_BUSY/SQLITE_LOCKED errors with
// exponential backoff, up to six attempts and roughly 750ms total, per the
// documented concurrency contract. Unique-constraint violations are
// returned immediately without retry.
func withRetry(ctx context.Context, fn func() error) error {
	const maxAttempts = 6
	delay := 10 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isBusyErr(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + time.Duration(rand.Intn(5))*time.Millisecond):
		}
		delay *= 2
	}
	return lastErr
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func logSlowQuery(start time.Time, label string) {
	if d := time.Since(start); d > 200*time.Millisecond {
		slog.Warn("slow sqlite query", "query", label, "duration", d)
	}
}
