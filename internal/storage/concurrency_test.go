// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Concurrent access tests for the conversation store:
// - Parallel appends never lose a delta
// - Reads interleaved with writes see consistent rows
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAppendToMessage_ConcurrentAppendsLoseNothing verifies that the
// relative UPDATE keeps every delta no matter how appends interleave.
func TestAppendToMessage_ConcurrentAppendsLoseNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread, err := store.CreateThread(ctx, "t")
	require.NoError(t, err)
	msg, err := store.CreateMessage(ctx, thread.ID, "", RoleAssistant)
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	// Failures are collected and asserted here, on the test goroutine.
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := store.AppendToMessage(ctx, msg.ID, fmt.Sprintf("[%d:%d]", w, i)); err != nil {
					errs <- fmt.Errorf("writer %d append %d: %w", w, i, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)

	// Every delta is present exactly once, and each writer's deltas
	// appear in its own order.
	totalLen := 0
	for w := 0; w < writers; w++ {
		last := -1
		for i := 0; i < perWriter; i++ {
			delta := fmt.Sprintf("[%d:%d]", w, i)
			totalLen += len(delta)
			idx := strings.Index(got.Content, delta)
			require.GreaterOrEqual(t, idx, 0, "missing delta %s", delta)
			require.Greater(t, idx, last, "writer %d deltas out of order", w)
			last = idx
		}
	}
	require.Len(t, got.Content, totalLen)
}

// TestStore_ConcurrentReadersAndWriters interleaves thread listing with
// message writes.
func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread, err := store.CreateThread(ctx, "t")
	require.NoError(t, err)

	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := store.CreateMessage(ctx, thread.ID, "x", RoleUser); err != nil {
					errs <- fmt.Errorf("create: %w", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := store.GetThreads(ctx); err != nil {
					errs <- fmt.Errorf("list threads: %w", err)
					return
				}
				if _, err := store.GetMessages(ctx, thread.ID); err != nil {
					errs <- fmt.Errorf("list messages: %w", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	messages, err := store.GetMessages(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1+4*20) // system message plus writers
}
