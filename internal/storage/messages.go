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
// MESSAGE TYPE
// =============================================================================

// Message is one message row.
type Message struct {
	ID        int64
	ThreadID  int64
	Role      Role
	Content   string
	CreatedAt time.Time
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// CreateMessage inserts a message into a thread.
func (s *Store) CreateMessage(ctx context.Context, threadID int64, content string, role Role) (*Message, error) {
	if !role.Valid() {
		return nil, &StorageError{Kind: ErrKindBadRole, Message: "unrecognized message role " + string(role)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var msg Message
	var created int64
	var roleStr string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (thread_id, role, content) VALUES (?, ?, ?)
		 RETURNING id, thread_id, role, content, created_at`,
		threadID, role, content).
		Scan(&msg.ID, &msg.ThreadID, &roleStr, &msg.Content, &created)
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConstraint, Message: "failed to insert message", Cause: err}
	}
	msg.Role = Role(roleStr)
	msg.CreatedAt = time.UnixMilli(created)

	s.emit(notify.NewMessage{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Role:      string(msg.Role),
		Content:   msg.Content,
	})
	return &msg, nil
}

// AppendToMessage appends a delta to a message's content in a single
// relative UPDATE. Content is never read back and rewritten, so appends
// cannot lose each other regardless of interleaving.
func (s *Store) AppendToMessage(ctx context.Context, messageID int64, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var threadID int64
	err := s.db.QueryRowContext(ctx,
		"UPDATE messages SET content = content || ? WHERE id = ? RETURNING thread_id",
		delta, messageID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return &StorageError{Kind: ErrKindNotFound, Message: "message not found"}
	}
	if err != nil {
		return &StorageError{Kind: ErrKindConnectivity, Message: "failed to append to message", Cause: err}
	}

	s.emit(notify.MessageAppended{MessageID: messageID, ThreadID: threadID, Delta: delta})
	return nil
}

// GetMessages returns a thread's messages in creation order. A persisted
// role outside the legal domain is an error, not a panic.
func (s *Store) GetMessages(ctx context.Context, threadID int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, thread_id, role, content, created_at FROM messages WHERE thread_id = ? ORDER BY id",
		threadID)
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to list messages", Cause: err}
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var created int64
		var roleStr string
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &roleStr, &msg.Content, &created); err != nil {
			return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to scan message", Cause: err}
		}
		role, err := ParseRole(roleStr)
		if err != nil {
			return nil, err
		}
		msg.Role = role
		msg.CreatedAt = time.UnixMilli(created)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to iterate messages", Cause: err}
	}
	return messages, nil
}

// GetMessage returns one message by id.
func (s *Store) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msg Message
	var created int64
	var roleStr string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, thread_id, role, content, created_at FROM messages WHERE id = ?", messageID).
		Scan(&msg.ID, &msg.ThreadID, &roleStr, &msg.Content, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Kind: ErrKindNotFound, Message: "message not found"}
	}
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to load message", Cause: err}
	}
	role, err := ParseRole(roleStr)
	if err != nil {
		return nil, err
	}
	msg.Role = role
	msg.CreatedAt = time.UnixMilli(created)
	return &msg, nil
}

// CountMessagesByRole returns how many messages of each role a thread
// holds. Backs the decision to generate a thread title exactly once.
func (s *Store) CountMessagesByRole(ctx context.Context, threadID int64) (map[Role]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, COUNT(*) FROM messages WHERE thread_id = ? GROUP BY role", threadID)
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to count messages", Cause: err}
	}
	defer rows.Close()

	counts := make(map[Role]int)
	for rows.Next() {
		var roleStr string
		var count int
		if err := rows.Scan(&roleStr, &count); err != nil {
			return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to scan count", Cause: err}
		}
		role, err := ParseRole(roleStr)
		if err != nil {
			return nil, err
		}
		counts[role] = count
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to iterate counts", Cause: err}
	}
	return counts, nil
}

// RefreshThreadMessages re-reads a thread's messages and publishes the
// full list as one ThreadMessagesRefreshed event, so observers switching
// to the thread can render the whole transcript in one shot.
func (s *Store) RefreshThreadMessages(ctx context.Context, threadID int64) error {
	messages, err := s.GetMessages(ctx, threadID)
	if err != nil {
		return err
	}

	snapshots := make([]notify.MessageSnapshot, len(messages))
	for i, m := range messages {
		snapshots[i] = notify.MessageSnapshot{
			MessageID: m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
		}
	}
	s.emit(notify.ThreadMessagesRefreshed{ThreadID: threadID, Messages: snapshots})
	return nil
}
