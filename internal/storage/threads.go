// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/morganforge/pincer-chat/internal/notify"
)

// =============================================================================
// THREAD TYPE
// =============================================================================

// Thread is one conversation thread.
type Thread struct {
	ID            int64
	Title         string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

const threadColumns = "id, title, created_at, last_updated_at"

func scanThread(row interface{ Scan(...any) error }) (*Thread, error) {
	var t Thread
	var created, updated int64
	if err := row.Scan(&t.ID, &t.Title, &created, &updated); err != nil {
		return nil, err
	}
	t.CreatedAt = time.UnixMilli(created)
	t.LastUpdatedAt = time.UnixMilli(updated)
	return &t, nil
}

// =============================================================================
// THREAD OPERATIONS
// =============================================================================

// CreateThread creates a thread together with its initial system message
// in a single transaction. No observer ever sees a thread without its
// system message.
func (s *Store) CreateThread(ctx context.Context, title string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to begin transaction", Cause: err}
	}
	defer tx.Rollback()

	thread, err := scanThread(tx.QueryRowContext(ctx,
		"INSERT INTO threads (title) VALUES (?) RETURNING "+threadColumns, title))
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConstraint, Message: "failed to insert thread", Cause: err}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO messages (thread_id, role, content) VALUES (?, ?, ?)",
		thread.ID, RoleSystem, s.systemPrompt); err != nil {
		return nil, &StorageError{Kind: ErrKindConstraint, Message: "failed to insert system message", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to commit thread", Cause: err}
	}

	s.emit(notify.NewThread{ThreadID: thread.ID, Title: thread.Title})
	return thread, nil
}

// UpdateThreadTitle sets a thread's title.
func (s *Store) UpdateThreadTitle(ctx context.Context, threadID int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE threads SET title = ? WHERE id = ?", title, threadID)
	if err != nil {
		return &StorageError{Kind: ErrKindConnectivity, Message: "failed to update thread title", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Kind: ErrKindConnectivity, Message: "failed to read update result", Cause: err}
	}
	if affected == 0 {
		return &StorageError{Kind: ErrKindNotFound, Message: "thread not found"}
	}

	s.emit(notify.ThreadTitleUpdated{ThreadID: threadID, Title: title})
	return nil
}

// DeleteThread removes a thread and, through the cascade, its messages.
func (s *Store) DeleteThread(ctx context.Context, threadID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE id = ?", threadID)
	if err != nil {
		return &StorageError{Kind: ErrKindConnectivity, Message: "failed to delete thread", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Kind: ErrKindConnectivity, Message: "failed to read delete result", Cause: err}
	}
	if affected == 0 {
		return &StorageError{Kind: ErrKindNotFound, Message: "thread not found"}
	}
	return nil
}

// GetThread returns one thread by id.
func (s *Store) GetThread(ctx context.Context, threadID int64) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := scanThread(s.db.QueryRowContext(ctx,
		"SELECT "+threadColumns+" FROM threads WHERE id = ?", threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Kind: ErrKindNotFound, Message: "thread not found"}
	}
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to load thread", Cause: err}
	}
	return thread, nil
}

// GetThreads returns all threads, most recently updated first.
func (s *Store) GetThreads(ctx context.Context) ([]Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+threadColumns+" FROM threads ORDER BY last_updated_at DESC, id DESC")
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to list threads", Cause: err}
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to scan thread", Cause: err}
		}
		threads = append(threads, *thread)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to iterate threads", Cause: err}
	}
	return threads, nil
}

// GetLatestThread returns the most recently updated thread, or a
// not-found error when the store is empty.
func (s *Store) GetLatestThread(ctx context.Context) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := scanThread(s.db.QueryRowContext(ctx,
		"SELECT "+threadColumns+" FROM threads ORDER BY last_updated_at DESC, id DESC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Kind: ErrKindNotFound, Message: "no threads exist"}
	}
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to load latest thread", Cause: err}
	}
	return thread, nil
}
