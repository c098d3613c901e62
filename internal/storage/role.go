// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// =============================================================================
// ROLE CODEC
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the four legal values.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// ParseRole decodes a persisted role string. An unrecognized value is an
// error, never a panic: a database written by a newer version must not
// crash this one.
func ParseRole(s string) (Role, error) {
	role := Role(s)
	if !role.Valid() {
		return "", &StorageError{Kind: ErrKindBadRole, Message: "unrecognized message role " + s}
	}
	return role, nil
}
