// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

import (
	"context"
	"strings"

	"github.com/morganforge/pincer-chat/internal/ollama"
	"github.com/morganforge/pincer-chat/internal/storage"
)

// =============================================================================
// THREAD TITLE GENERATION
// =============================================================================

// maybeGenerateTitle runs the one-shot thread title summarization. It
// fires only when the thread holds exactly one user and one assistant
// message, so it happens at most once per thread. Failures are logged
// and never fail the generation that triggered them.
func (a *Assistant) maybeGenerateTitle(ctx context.Context, threadID int64, params Parameters) {
	a.mu.Lock()
	already := a.titled[threadID]
	a.mu.Unlock()
	if already {
		return
	}

	counts, err := a.store.CountMessagesByRole(ctx, threadID)
	if err != nil {
		a.logger.Printf("assistant: skipping thread title, count failed: %v", err)
		return
	}
	if counts[storage.RoleUser] != 1 || counts[storage.RoleAssistant] != 1 {
		return
	}

	messages, err := a.store.GetMessages(ctx, threadID)
	if err != nil {
		a.logger.Printf("assistant: skipping thread title, load failed: %v", err)
		return
	}
	var query string
	for _, msg := range messages {
		if msg.Role == storage.RoleUser {
			query = msg.Content
			break
		}
	}
	if query == "" {
		return
	}

	title, err := a.generateTitle(ctx, params, query)
	if err != nil {
		a.logger.Printf("assistant: thread title generation failed: %v", err)
		return
	}
	if title == "" {
		return
	}

	if err := a.store.UpdateThreadTitle(ctx, threadID, title); err != nil {
		a.logger.Printf("assistant: failed to save thread title: %v", err)
		return
	}

	a.mu.Lock()
	a.titled[threadID] = true
	a.mu.Unlock()
}

// generateTitle asks the model to summarize the opening query. The
// reply is aggregated, never streamed to the user.
func (a *Assistant) generateTitle(ctx context.Context, params Parameters, query string) (string, error) {
	messages := []ollama.Message{
		ollama.NewSystemMessage(threadTitlePrompt),
		ollama.NewUserMessage("<query>" + query + "</query>"),
	}

	resp, err := a.client.Chat(ctx, params.Model, messages, params.options())
	if err != nil {
		return "", err
	}
	return cleanTitle(resp.Message.Content), nil
}

// cleanTitle normalizes a generated title: reasoning models wrap their
// thinking in <think> tags, the prompt asks for a <title> wrapper, and
// either may leak newlines.
func cleanTitle(raw string) string {
	title := removeThinkTags(raw)
	title = strings.ReplaceAll(title, "<title>", "")
	title = strings.ReplaceAll(title, "</title>", "")
	title = strings.ReplaceAll(title, "\n", "")
	return strings.TrimSpace(title)
}

// removeThinkTags strips the first <think>...</think> region.
func removeThinkTags(text string) string {
	start := strings.Index(text, "<think>")
	end := strings.Index(text, "</think>")
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[:start] + text[end+len("</think>"):]
}
