// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"strings"
	"testing"
)

// =============================================================================
// LINE SCANNER TESTS
// =============================================================================

func TestLineScanner(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "simple lines",
			input: "one\ntwo\nthree\n",
			want:  []string{"one", "two", "three"},
		},
		{
			name:  "blank lines skipped",
			input: "one\n\n\ntwo\n",
			want:  []string{"one", "two"},
		},
		{
			name:  "unterminated final line",
			input: "one\ntwo",
			want:  []string{"one", "two"},
		},
		{
			name:  "whitespace trimmed",
			input: "  one  \r\n\ttwo\n",
			want:  []string{"one", "two"},
		},
		{
			name:  "empty body",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newLineScanner(strings.NewReader(tt.input))
			var got []string
			for {
				line, err := s.next()
				if err != nil {
					break
				}
				got = append(got, string(line))
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d lines %v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// =============================================================================
// STREAM READER TESTS
// =============================================================================

func TestStreamReader_Accumulates(t *testing.T) {
	input := `{"model":"m","message":{"role":"assistant","content":"Hello"},"done":false}
{"model":"m","message":{"role":"assistant","content":", world"},"done":false}
{"model":"m","message":{"role":"assistant","content":""},"done":true}
`
	reader := NewStreamReader(strings.NewReader(input))
	var count int
	if err := reader.Process(context.Background(), func(StreamChunk) { count++ }); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if count != 3 {
		t.Errorf("callback count = %d, want 3", count)
	}
	if reader.Accumulated() != "Hello, world" {
		t.Errorf("Accumulated = %q, want \"Hello, world\"", reader.Accumulated())
	}
	if reader.Model() != "m" {
		t.Errorf("Model = %q, want m", reader.Model())
	}
}

func TestStreamReader_DecodeErrorContinues(t *testing.T) {
	input := `{"model":"m","message":{"role":"assistant","content":"before"},"done":false}
garbage line
{"model":"m","message":{"role":"assistant","content":"after"},"done":true}
`
	reader := NewStreamReader(strings.NewReader(input))
	var chunks []StreamChunk
	if err := reader.Process(context.Background(), func(c StreamChunk) { chunks = append(chunks, c) }); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if chunks[0].Content != "before" || chunks[0].Err != nil {
		t.Errorf("chunk before the bad line must stay valid, got %+v", chunks[0])
	}
	if !IsDecodeError(chunks[1].Err) {
		t.Errorf("chunks[1].Err = %v, want decode error", chunks[1].Err)
	}
	if chunks[2].Content != "after" || !chunks[2].Done {
		t.Errorf("stream must continue past the bad line, got %+v", chunks[2])
	}
	if reader.Accumulated() != "beforeafter" {
		t.Errorf("Accumulated = %q, bad line must not contribute", reader.Accumulated())
	}
}

func TestStreamReader_MissingEnvelopeAborts(t *testing.T) {
	input := `{"model":"m","message":{"role":"assistant","content":"one"},"done":false}
{"model":"m","done":false}
{"model":"m","message":{"role":"assistant","content":"never"},"done":true}
`
	reader := NewStreamReader(strings.NewReader(input))
	var chunks []StreamChunk
	err := reader.Process(context.Background(), func(c StreamChunk) { chunks = append(chunks, c) })
	if err == nil {
		t.Fatal("expected protocol error for a chunk without a message")
	}
	if len(chunks) != 1 {
		t.Errorf("len(chunks) = %d, want 1 delivered before the abort", len(chunks))
	}
}

func TestStreamReader_EmptyDeltaIsNotViolation(t *testing.T) {
	// An empty content string is a legal delta; only a missing message
	// object breaks the envelope.
	input := `{"model":"m","message":{"role":"assistant","content":""},"done":false}
{"model":"m","message":{"role":"assistant","content":"x"},"done":true}
`
	reader := NewStreamReader(strings.NewReader(input))
	var count int
	if err := reader.Process(context.Background(), func(StreamChunk) { count++ }); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if count != 2 {
		t.Errorf("callback count = %d, want 2", count)
	}
}

func TestStreamReader_ErrorLineAborts(t *testing.T) {
	input := `{"error":"model ran out of memory"}
`
	reader := NewStreamReader(strings.NewReader(input))
	err := reader.Process(context.Background(), func(StreamChunk) {
		t.Error("no chunk should be delivered for an error line")
	})
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Errorf("err = %v, want backend error", err)
	}
}

func TestStreamReader_StopsAfterDone(t *testing.T) {
	input := `{"model":"m","message":{"role":"assistant","content":"x"},"done":true}
{"model":"m","message":{"role":"assistant","content":"trailing"},"done":false}
`
	reader := NewStreamReader(strings.NewReader(input))
	var count int
	if err := reader.Process(context.Background(), func(StreamChunk) { count++ }); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if count != 1 {
		t.Errorf("callback count = %d, want 1: nothing after done", count)
	}
}

func TestStreamReader_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := NewStreamReader(strings.NewReader(`{"model":"m","message":{"role":"assistant","content":"x"},"done":true}`))
	err := reader.Process(ctx, func(StreamChunk) {
		t.Error("callback fired after cancellation")
	})
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// =============================================================================
// ACCUMULATOR TESTS
// =============================================================================

func TestStreamAccumulator(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.Add(StreamChunk{Content: "Hello"})
	acc.Add(StreamChunk{Content: " world"})
	acc.Add(StreamChunk{Model: "m", Done: true, CompletionTokens: 2})

	if acc.Content() != "Hello world" {
		t.Errorf("Content = %q", acc.Content())
	}
	if !acc.Done() {
		t.Error("Done = false after final chunk")
	}
	if acc.Err() != nil {
		t.Errorf("Err = %v, want nil", acc.Err())
	}
	if final := acc.Final(); final.EvalCount != 2 || final.Model != "m" {
		t.Errorf("Final = %+v", final)
	}
}

func TestStreamAccumulator_KeepsFirstError(t *testing.T) {
	first := &ClientError{Type: ErrTypeDecode, Message: "first"}
	second := &ClientError{Type: ErrTypeDecode, Message: "second"}

	acc := NewStreamAccumulator()
	acc.Add(StreamChunk{Content: "a"})
	acc.Add(StreamChunk{Err: first})
	acc.Add(StreamChunk{Err: second})
	acc.Add(StreamChunk{Content: "b", Done: true})

	if acc.Err() != first {
		t.Errorf("Err = %v, want the first error retained", acc.Err())
	}
	if acc.Content() != "ab" {
		t.Errorf("Content = %q, later valid chunks still accumulate", acc.Content())
	}
}
