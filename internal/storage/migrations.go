// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
)

// =============================================================================
// MIGRATIONS
// =============================================================================

// migration is one embedded schema step. Statements must be idempotent:
// a half-applied step may be retried after a crash.
type migration struct {
	version int
	name    string
	sql     string
}

// migrations run in order. Never reorder or edit an applied entry; add a
// new one.
var migrations = []migration{
	{
		version: 1,
		name:    "create_threads",
		sql: `
-- Timestamps are unix milliseconds; julianday is the only portable way
-- to get sub-second wall time out of SQLite defaults.
CREATE TABLE IF NOT EXISTS threads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)),
    last_updated_at INTEGER NOT NULL DEFAULT (CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER))
);

CREATE INDEX IF NOT EXISTS idx_threads_last_updated_at ON threads(last_updated_at);
`,
	},
	{
		version: 2,
		name:    "create_messages",
		sql: `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    thread_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)),
    FOREIGN KEY(thread_id) REFERENCES threads(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id);
`,
	},
	{
		version: 3,
		name:    "touch_thread_on_message_write",
		sql: `
CREATE TRIGGER IF NOT EXISTS messages_ai_touch_thread AFTER INSERT ON messages BEGIN
    UPDATE threads
    SET last_updated_at = MAX(last_updated_at, CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER))
    WHERE id = NEW.thread_id;
END;

CREATE TRIGGER IF NOT EXISTS messages_au_touch_thread AFTER UPDATE OF content ON messages BEGIN
    UPDATE threads
    SET last_updated_at = MAX(last_updated_at, CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER))
    WHERE id = NEW.thread_id;
END;
`,
	},
}

// RunMigrations applies all pending migrations in order, recording each
// in schema_migrations. Safe to run on every startup; any failure must
// be treated as fatal by the caller.
func (s *Store) RunMigrations(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
)`); err != nil {
		return &StorageError{Kind: ErrKindMigration, Message: "failed to create schema_migrations", Cause: err}
	}

	for _, m := range migrations {
		applied, err := s.migrationApplied(ctx, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		s.logger.Printf("storage: applied migration %d (%s)", m.version, m.name)
	}

	return nil
}

func (s *Store) migrationApplied(ctx context.Context, version int) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&found)
	if err != nil {
		return false, &StorageError{Kind: ErrKindMigration, Message: "failed to read schema_migrations", Cause: err}
	}
	return found > 0, nil
}

// applyMigration runs one step and its bookkeeping row in a single
// transaction, so a crash leaves the step either fully applied or
// fully pending.
func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Kind: ErrKindMigration, Message: "failed to begin migration transaction", Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return &StorageError{
			Kind:    ErrKindMigration,
			Message: fmt.Sprintf("migration %d (%s) failed", m.version, m.name),
			Cause:   err,
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return &StorageError{
			Kind:    ErrKindMigration,
			Message: fmt.Sprintf("failed to record migration %d", m.version),
			Cause:   err,
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Kind: ErrKindMigration, Message: "failed to commit migration", Cause: err}
	}
	return nil
}

// AppliedMigrations returns the versions recorded in schema_migrations,
// in ascending order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, &StorageError{Kind: ErrKindMigration, Message: "failed to read schema_migrations", Cause: err}
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, &StorageError{Kind: ErrKindMigration, Message: "failed to scan migration row", Cause: err}
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Kind: ErrKindMigration, Message: "failed to iterate migrations", Cause: err}
	}
	return versions, nil
}
