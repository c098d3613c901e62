// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows
// +build windows

// Package ollama provides the HTTP client for communicating with the Ollama API.
package ollama

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Windows-specific creation flags
const (
	// CREATE_NO_WINDOW prevents a console window from being created
	CREATE_NO_WINDOW = 0x08000000
	// DETACHED_PROCESS creates a new process that is detached from the console
	DETACHED_PROCESS = 0x00000008
)

// EnsureRunning checks if Ollama is reachable and spawns the local server
// process if it is not. Returns nil once the backend answers its version
// endpoint.
func (c *Client) EnsureRunning(ctx context.Context) error {
	if c.CheckAvailability(ctx) {
		return nil
	}
	return c.startServerProcess(ctx)
}

// findServerExecutable searches for ollama.exe in common installation
// paths on Windows, falling back to PATH lookup.
func findServerExecutable() (string, error) {
	if path, err := exec.LookPath("ollama.exe"); err == nil {
		return path, nil
	}
	if path, err := exec.LookPath("ollama"); err == nil {
		return path, nil
	}

	possiblePaths := []string{}

	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		possiblePaths = append(possiblePaths, filepath.Join(localAppData, "Programs", "Ollama", "ollama.exe"))
	}

	possiblePaths = append(possiblePaths,
		`C:\Program Files\Ollama\ollama.exe`,
		`C:\Program Files (x86)\Ollama\ollama.exe`,
	)

	if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
		possiblePaths = append(possiblePaths,
			filepath.Join(userProfile, "Ollama", "ollama.exe"),
			filepath.Join(userProfile, ".ollama", "ollama.exe"),
		)
	}

	for _, p := range possiblePaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("ollama.exe not found in PATH or common installation directories")
}

// startServerProcess starts `ollama serve` detached from the console and
// polls until the server answers or the startup deadline passes. Ollama
// can take a while to start on Windows, especially on first launch.
func (c *Client) startServerProcess(ctx context.Context) error {
	serverPath, err := findServerExecutable()
	if err != nil {
		return &ClientError{
			Type:    ErrTypeUnreachable,
			Message: "failed to find Ollama executable",
			Cause:   err,
		}
	}

	cmd := exec.Command(serverPath, "serve")

	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | CREATE_NO_WINDOW | DETACHED_PROCESS,
	}
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return &ClientError{
			Type:    ErrTypeUnreachable,
			Message: fmt.Sprintf("failed to start Ollama (path: %s)", serverPath),
			Cause:   err,
		}
	}

	if cmd.Process != nil {
		// Non-fatal if release fails; the server is already running.
		_ = cmd.Process.Release()
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return &ClientError{
				Type:    ErrTypeUnreachable,
				Message: "Ollama startup cancelled",
				Cause:   ctx.Err(),
			}
		default:
		}

		checkCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		_, err = c.Version(checkCtx)
		cancel()
		if err == nil {
			return nil
		}

		time.Sleep(500 * time.Millisecond)
	}

	return &ClientError{
		Type:    ErrTypeUnreachable,
		Message: fmt.Sprintf("Ollama started but not responding after 15 seconds (path: %s)", serverPath),
		Cause:   err,
	}
}
