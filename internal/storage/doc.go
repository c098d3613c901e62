// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable conversation persistence on SQLite.
//
// This package owns the threads and messages tables, their embedded
// migrations, and the change events emitted after each committed write.
//
// # Key Types
//
//   - Store: Transactional conversation store
//   - Thread: One conversation with a title and update timestamp
//   - Message: One message row with a validated Role
//   - StorageError: Error with a kind for dispatching
//
// # Usage
//
// Open a store and bring the schema up to date:
//
//	store, err := storage.Open(&storage.Config{DatabasePath: path})
//	err = store.RunMigrations(ctx)
//
// Create a thread and stream content into a message:
//
//	thread, err := store.CreateThread(ctx, "New thread")
//	msg, err := store.CreateMessage(ctx, thread.ID, "", storage.RoleAssistant)
//	err = store.AppendToMessage(ctx, msg.ID, "Hello")
//
// # Storage Location
//
// The database lives at ~/.pincer_chat/database.db by default.
package storage
