// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable conversation persistence on SQLite.
package storage

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/morganforge/pincer-chat/internal/notify"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds store configuration.
type Config struct {
	// DatabasePath is where to store the SQLite database.
	DatabasePath string

	// SystemPrompt is inserted as the first message of every new thread.
	SystemPrompt string

	// Notifier receives change events after each committed write.
	// Optional; a nil notifier disables notifications.
	Notifier *notify.Notifier
}

// DefaultDatabasePath returns ~/.pincer_chat/database.db.
func DefaultDatabasePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &StorageError{Kind: ErrKindConnectivity, Message: "unable to resolve home directory", Cause: err}
	}
	return filepath.Join(home, ".pincer_chat", "database.db"), nil
}

// =============================================================================
// STORE
// =============================================================================

// Store is the conversation store. All operations are transactional and
// serialized: SQLite supports a single writer, so the connection pool is
// capped at one connection and a store-level mutex scopes each logical
// unit of work.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex
	notifier     *notify.Notifier
	systemPrompt string
	logger       *log.Logger
}

// Open opens (creating if needed) the database at config.DatabasePath.
// Call RunMigrations before using the store.
func Open(config *Config) (*Store, error) {
	if config == nil || config.DatabasePath == "" {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "database path not configured"}
	}

	// Create database directory if needed
	dbDir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to create database directory", Cause: err}
	}

	db, err := sql.Open("sqlite", config.DatabasePath)
	if err != nil {
		return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to open database", Cause: err}
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON", // Enable foreign key constraints
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &StorageError{Kind: ErrKindConnectivity, Message: "failed to set pragma", Cause: err}
		}
	}

	return &Store{
		db:           db,
		notifier:     config.Notifier,
		systemPrompt: config.SystemPrompt,
		logger:       log.Default(),
	}, nil
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// emit publishes a change event after a committed write.
func (s *Store) emit(event notify.Event) {
	if s.notifier != nil {
		s.notifier.Notify(event)
	}
}
