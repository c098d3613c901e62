// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import "errors"

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes storage errors for handling.
type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindConnectivity
	ErrKindConstraint
	ErrKindMigration
	ErrKindBadRole
	ErrKindNotFound
)

// StorageError represents an error from the conversation store.
type StorageError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// IsNotFound checks if an error means the row does not exist.
func IsNotFound(err error) bool {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind == ErrKindNotFound
	}
	return false
}

// IsMigrationError checks if an error came from the migration runner.
func IsMigrationError(err error) bool {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind == ErrKindMigration
	}
	return false
}

// IsBadRole checks if an error means a persisted role string is outside
// the legal domain.
func IsBadRole(err error) bool {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind == ErrKindBadRole
	}
	return false
}
