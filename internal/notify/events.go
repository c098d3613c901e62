// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify provides in-process change notification fan-out.
package notify

// =============================================================================
// EVENT TYPES
// =============================================================================

// Event is a state change announcement. The set of events is closed:
// only the types in this file implement it.
type Event interface {
	isEvent()
}

// NewThread announces a freshly created thread.
type NewThread struct {
	ThreadID int64
	Title    string
}

// NewMessage announces a freshly created message row.
type NewMessage struct {
	MessageID int64
	ThreadID  int64
	Role      string
	Content   string
}

// MessageAppended announces content appended to an existing message.
// It carries only the delta, never the full accumulated content.
type MessageAppended struct {
	MessageID int64
	ThreadID  int64
	Delta     string
}

// ThreadTitleUpdated announces a thread title change.
type ThreadTitleUpdated struct {
	ThreadID int64
	Title    string
}

// MessageSnapshot is a read-only copy of one stored message, carried by
// ThreadMessagesRefreshed so observers can render a whole thread without
// going back to the store.
type MessageSnapshot struct {
	MessageID int64
	Role      string
	Content   string
}

// ThreadMessagesRefreshed replaces whatever an observer is showing for a
// thread with the full message list, for example after switching the
// active thread.
type ThreadMessagesRefreshed struct {
	ThreadID int64
	Messages []MessageSnapshot
}

func (NewThread) isEvent()               {}
func (NewMessage) isEvent()              {}
func (MessageAppended) isEvent()         {}
func (ThreadTitleUpdated) isEvent()      {}
func (ThreadMessagesRefreshed) isEvent() {}
