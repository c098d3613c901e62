// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// =============================================================================
// LINE SCANNER
// =============================================================================

// lineScanner reads newline-delimited JSON bodies one line at a time,
// skipping blank lines and handling a final unterminated line at EOF.
type lineScanner struct {
	reader *bufio.Reader
}

func newLineScanner(r io.Reader) *lineScanner {
	return &lineScanner{reader: bufio.NewReader(r)}
}

// next returns the next non-empty line, or io.EOF when the body ends.
func (s *lineScanner) next() ([]byte, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				// Process the last line even without a trailing newline.
				return line, nil
			}
			return nil, err
		}
		if len(line) > 0 {
			return line, nil
		}
	}
}

// =============================================================================
// CHAT STREAM READER
// =============================================================================

// StreamReader decodes a streaming chat response line by line. Each line
// is an independent JSON object; a line that fails to parse is delivered
// as a chunk with Err set without invalidating chunks already delivered.
// A line that parses but lacks the response envelope aborts the stream.
type StreamReader struct {
	scanner *lineScanner

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	accumulator strings.Builder
	model       string
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{scanner: newLineScanner(r)}
}

// Process reads the stream and calls the callback for each chunk.
// Blocks until the final done chunk, end of body, envelope violation, or
// context cancellation. A body that ends without a done marker is treated
// as implicit completion and returns nil.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.scanner.next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return &ClientError{Type: ErrTypeUnreachable, Message: "stream read failed", Cause: err}
		}

		chunk, err := s.decodeLine(line)
		if err != nil {
			return err
		}

		callback(*chunk)
		if chunk.Done {
			return nil
		}
	}
}

// wireChatLine mirrors one line of the chat stream. Message is a pointer
// so a missing envelope is distinguishable from an empty delta.
type wireChatLine struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Message            *Message  `json:"message"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	Error              string    `json:"error,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"`
	LoadDuration       int64     `json:"load_duration,omitempty"`
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"`
	EvalCount          int       `json:"eval_count,omitempty"`
	EvalDuration       int64     `json:"eval_duration,omitempty"`
}

// decodeLine parses one stream line into a chunk. Syntax errors become an
// error chunk (stream continues); envelope violations return an error
// that aborts the stream.
func (s *StreamReader) decodeLine(line []byte) (*StreamChunk, error) {
	var response wireChatLine
	if err := json.Unmarshal(line, &response); err != nil {
		return &StreamChunk{
			Model: s.model,
			Err:   &ClientError{Type: ErrTypeDecode, Message: "malformed stream line", Cause: err},
		}, nil
	}

	if response.Error != "" {
		return nil, &ClientError{Type: ErrTypeProtocol, Message: response.Error}
	}
	if response.Message == nil && !response.Done {
		return nil, &ClientError{Type: ErrTypeProtocol, Message: "stream chunk missing message envelope"}
	}

	if response.Model != "" {
		s.model = response.Model
	}

	chunk := &StreamChunk{
		Model:      s.model,
		Done:       response.Done,
		DoneReason: response.DoneReason,
	}
	if response.Message != nil {
		chunk.Content = response.Message.Content
		chunk.Role = response.Message.Role
		s.accumulator.WriteString(response.Message.Content)
	}

	// On completion, extract statistics
	if response.Done {
		chunk.TotalDuration = time.Duration(response.TotalDuration)
		chunk.LoadDuration = time.Duration(response.LoadDuration)
		chunk.PromptEvalDuration = time.Duration(response.PromptEvalDuration)
		chunk.EvalDuration = time.Duration(response.EvalDuration)
		chunk.PromptTokens = response.PromptEvalCount
		chunk.CompletionTokens = response.EvalCount
	}

	return chunk, nil
}

// Accumulated returns all content seen so far.
func (s *StreamReader) Accumulated() string {
	return s.accumulator.String()
}

// Model returns the model name reported by the stream.
func (s *StreamReader) Model() string {
	return s.model
}

// =============================================================================
// PULL STREAM READER
// =============================================================================

// pullReader decodes a streaming model-pull response line by line under
// the same discipline as the chat reader: per-line decode failures are
// delivered as error events, a line without the status envelope aborts.
type pullReader struct {
	scanner *lineScanner
}

func newPullReader(r io.Reader) *pullReader {
	return &pullReader{scanner: newLineScanner(r)}
}

// wirePullLine mirrors one line of the pull stream.
type wirePullLine struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Process reads pull progress until the body ends.
func (p *pullReader) Process(ctx context.Context, callback PullCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := p.scanner.next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return &ClientError{Type: ErrTypeUnreachable, Message: "pull stream read failed", Cause: err}
		}

		var response wirePullLine
		if err := json.Unmarshal(line, &response); err != nil {
			callback(PullProgress{
				Err: &ClientError{Type: ErrTypeDecode, Message: "malformed pull line", Cause: err},
			})
			continue
		}

		if response.Error != "" {
			return &ClientError{Type: ErrTypeProtocol, Message: response.Error}
		}
		if response.Status == "" {
			return &ClientError{Type: ErrTypeProtocol, Message: "pull chunk missing status envelope"}
		}

		callback(PullProgress{
			Status:    response.Status,
			Digest:    response.Digest,
			Total:     response.Total,
			Completed: response.Completed,
		})
	}
}

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// StreamAccumulator collects streaming chunks into a full message.
type StreamAccumulator struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	content strings.Builder
	final   ChatResponse
	done    bool
	err     error
}

// NewStreamAccumulator creates a new accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Add processes a new chunk. The first decode error is retained; content
// from later well-formed chunks is still accumulated.
func (a *StreamAccumulator) Add(chunk StreamChunk) {
	if chunk.Err != nil {
		if a.err == nil {
			a.err = chunk.Err
		}
		return
	}

	a.content.WriteString(chunk.Content)

	if chunk.Done {
		a.done = true
		a.final = ChatResponse{
			Model:              chunk.Model,
			Done:               true,
			DoneReason:         chunk.DoneReason,
			TotalDuration:      int64(chunk.TotalDuration),
			LoadDuration:       int64(chunk.LoadDuration),
			PromptEvalCount:    chunk.PromptTokens,
			PromptEvalDuration: int64(chunk.PromptEvalDuration),
			EvalCount:          chunk.CompletionTokens,
			EvalDuration:       int64(chunk.EvalDuration),
		}
	}
}

// Content returns the accumulated content.
func (a *StreamAccumulator) Content() string {
	return a.content.String()
}

// Done reports whether the final chunk was seen.
func (a *StreamAccumulator) Done() bool {
	return a.done
}

// Err returns the first decode error seen, if any.
func (a *StreamAccumulator) Err() error {
	return a.err
}

// Final returns the statistics from the final chunk.
func (a *StreamAccumulator) Final() ChatResponse {
	return a.final
}
