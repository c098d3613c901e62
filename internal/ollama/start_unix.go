// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows
// +build !windows

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

// EnsureRunning checks if Ollama is reachable and spawns the local server
// process if it is not. Returns nil once the backend answers its version
// endpoint.
func (c *Client) EnsureRunning(ctx context.Context) error {
	if c.CheckAvailability(ctx) {
		return nil
	}
	return c.startServerProcess(ctx)
}

// findServerExecutable searches for ollama in common installation paths
// on Unix, falling back to PATH lookup.
func findServerExecutable() (string, error) {
	if path, err := exec.LookPath("ollama"); err == nil {
		return path, nil
	}

	possiblePaths := []string{
		"/usr/local/bin/ollama",
		"/usr/bin/ollama",
		"/opt/ollama/ollama",
	}

	if home := os.Getenv("HOME"); home != "" {
		possiblePaths = append(possiblePaths,
			filepath.Join(home, ".local", "bin", "ollama"),
			filepath.Join(home, "bin", "ollama"),
		)
	}

	// macOS application bundle location
	possiblePaths = append(possiblePaths,
		"/Applications/Ollama.app/Contents/Resources/ollama",
	)

	for _, p := range possiblePaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("ollama not found in PATH or common installation directories")
}

// startServerProcess starts `ollama serve` detached from this process and
// polls until the server answers or the startup deadline passes.
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
	cmd.Env = os.Environ()

	// Setpgid: new process group, so the server outlives this process.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
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

	deadline := time.Now().Add(10 * time.Second)
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

		checkCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		_, err = c.Version(checkCtx)
		cancel()
		if err == nil {
			return nil
		}

		time.Sleep(500 * time.Millisecond)
	}

	return &ClientError{
		Type:    ErrTypeUnreachable,
		Message: fmt.Sprintf("Ollama started but not responding after 10 seconds (path: %s)", serverPath),
		Cause:   err,
	}
}
