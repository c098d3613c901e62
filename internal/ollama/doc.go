// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
//
// The client covers the four operations the conversation engine needs:
// a liveness probe against /api/version, the local model list from
// /api/tags, streaming model pulls from /api/pull, and streaming chat
// generation from /api/chat.
//
// # Streaming
//
// Ollama streams responses as newline-delimited JSON; every line is an
// independent object. Streams are consumed through callbacks invoked in
// arrival order:
//
//	client := ollama.NewClient()
//	err := client.ChatStream(ctx, "llama3.2", messages, nil, func(chunk ollama.StreamChunk) {
//	    fmt.Print(chunk.Content)
//	})
//
// A line that fails to parse is delivered as a chunk with Err set and the
// stream continues; a line missing the response envelope aborts the
// stream with a protocol error. Request timeouts apply only to
// establishing the connection, never to the streamed body.
package ollama
