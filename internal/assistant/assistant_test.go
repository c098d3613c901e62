// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/morganforge/pincer-chat/internal/notify"
	"github.com/morganforge/pincer-chat/internal/ollama"
	"github.com/morganforge/pincer-chat/internal/storage"
)

// chatRequest mirrors the wire request for handler-side inspection.
type chatRequest struct {
	Model    string           `json:"model"`
	Messages []ollama.Message `json:"messages"`
}

// writeChatStream writes a streamed reply in fixed-size deltas.
func writeChatStream(w http.ResponseWriter, deltas ...string) {
	for _, d := range deltas {
		line, _ := json.Marshal(map[string]any{
			"model":   "test-model",
			"message": map[string]string{"role": "assistant", "content": d},
			"done":    false,
		})
		w.Write(line)
		w.Write([]byte("\n"))
	}
	fmt.Fprintln(w, `{"model":"test-model","message":{"role":"assistant","content":""},"done":true}`)
}

// isTitleRequest detects the summarization exchange by its system
// prompt.
func isTitleRequest(req chatRequest) bool {
	return len(req.Messages) > 0 &&
		req.Messages[0].Role == "system" &&
		strings.Contains(req.Messages[0].Content, "thread title")
}

type testHarness struct {
	assistant *Assistant
	store     *storage.Store
	notifier  *notify.Notifier
}

func newHarness(t *testing.T, handler http.HandlerFunc) *testHarness {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	n := notify.NewNotifier(256)
	n.SetLogger(log.New(io.Discard, "", 0))
	t.Cleanup(n.Close)

	store, err := storage.Open(&storage.Config{
		DatabasePath: filepath.Join(t.TempDir(), "test.db"),
		SystemPrompt: SystemPrompt,
		Notifier:     n,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	store.SetLogger(log.New(io.Discard, "", 0))
	t.Cleanup(func() { store.Close() })
	if err := store.RunMigrations(context.Background()); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	a := New(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: server.URL}), store)
	a.SetLogger(log.New(io.Discard, "", 0))
	return &testHarness{assistant: a, store: store, notifier: n}
}

// =============================================================================
// PARAMETER TESTS
// =============================================================================

func TestDefaultParameters(t *testing.T) {
	p := DefaultParameters()
	if p.Model != "" {
		t.Errorf("Model = %q, want unset", p.Model)
	}
	if p.Temperature != 0.5 || p.TopK != 40 || p.TopP != 0.9 || p.Seed != 42 {
		t.Errorf("defaults = %+v", p)
	}
}

func TestSetters_Clamp(t *testing.T) {
	a := New(ollama.NewClient(), nil)

	a.SetTemperature(3.0)
	a.SetTopK(500)
	a.SetTopP(-1)
	p := a.Parameters()
	if p.Temperature != 1 {
		t.Errorf("Temperature = %v, want clamped to 1", p.Temperature)
	}
	if p.TopK != 100 {
		t.Errorf("TopK = %d, want clamped to 100", p.TopK)
	}
	if p.TopP != 0 {
		t.Errorf("TopP = %v, want clamped to 0", p.TopP)
	}
}

func TestResetParameters_KeepsModel(t *testing.T) {
	a := New(ollama.NewClient(), nil)
	a.SetModel("llama3.2:1b")
	a.SetTemperature(0.9)
	a.SetSeed(7)

	a.ResetParameters()

	p := a.Parameters()
	if p.Model != "llama3.2:1b" {
		t.Errorf("Model = %q, reset must keep the selection", p.Model)
	}
	if p.Temperature != 0.5 || p.Seed != 42 {
		t.Errorf("parameters not restored: %+v", p)
	}
}

// =============================================================================
// GENERATION TESTS
// =============================================================================

func TestGenerate_NoModelSelected(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a model")
	})

	thread, err := h.store.CreateThread(context.Background(), DefaultThreadTitle)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	err = h.assistant.Generate(context.Background(), thread.ID, "hi")
	if err != ErrNoModelSelected {
		t.Errorf("err = %v, want ErrNoModelSelected", err)
	}
}

func TestGenerate_StreamsIntoAssistantMessage(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if isTitleRequest(req) {
			writeChatStream(w, "<title>Friendly greeting</title>")
			return
		}
		// Full history arrives: system, then the user message.
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "Say hello" {
			t.Errorf("unexpected history: %+v", req.Messages)
		}
		writeChatStream(w, "Hel", "lo", "!")
	})

	sub := notify.Subscribe(h.notifier, func(e notify.Event) (notify.Event, bool) { return e, true })
	defer sub.Cancel()

	ctx := context.Background()
	thread, err := h.store.CreateThread(ctx, DefaultThreadTitle)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	h.assistant.SetModel("test-model")
	if err := h.assistant.Generate(ctx, thread.ID, "Say hello"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	messages, err := h.store.GetMessages(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("len(messages) = %d, want system+user+assistant", len(messages))
	}
	reply := messages[2]
	if reply.Role != storage.RoleAssistant {
		t.Errorf("reply role = %q", reply.Role)
	}
	if reply.Content != "Hello!" {
		t.Errorf("reply content = %q, want \"Hello!\"", reply.Content)
	}

	// The assistant row is announced empty before any delta arrives.
	var sawEmptyReply bool
	var deltas []string
	deadline := time.After(2 * time.Second)
	for len(deltas) < 3 {
		select {
		case e := <-sub.C():
			switch ev := e.(type) {
			case notify.NewMessage:
				if ev.Role == "assistant" {
					if ev.Content != "" {
						t.Errorf("assistant message announced with content %q, want empty", ev.Content)
					}
					sawEmptyReply = true
				}
			case notify.MessageAppended:
				if !sawEmptyReply {
					t.Error("delta arrived before the empty assistant message")
				}
				deltas = append(deltas, ev.Delta)
			}
		case <-deadline:
			t.Fatalf("timed out with deltas %v", deltas)
		}
	}
	if got := strings.Join(deltas, ""); got != "Hello!" {
		t.Errorf("deltas = %v, want to concatenate to \"Hello!\"", deltas)
	}

	if h.assistant.State() != StateIdle {
		t.Errorf("State = %v after generation, want idle", h.assistant.State())
	}
}

func TestGenerate_MidStreamErrorRetainsPartial(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		// A valid delta, then a chunk that breaks the envelope.
		fmt.Fprintln(w, `{"model":"m","message":{"role":"assistant","content":"partial"},"done":false}`)
		fmt.Fprintln(w, `{"model":"m","done":false}`)
	})

	ctx := context.Background()
	thread, err := h.store.CreateThread(ctx, DefaultThreadTitle)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	h.assistant.SetModel("test-model")
	err = h.assistant.Generate(ctx, thread.ID, "hi")
	if err == nil {
		t.Fatal("expected a stream error")
	}

	messages, err := h.store.GetMessages(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	reply := messages[len(messages)-1]
	if reply.Role != storage.RoleAssistant || reply.Content != "partial" {
		t.Errorf("partial content not retained: %+v", reply)
	}

	if h.assistant.State() != StateIdle {
		t.Errorf("State = %v after failure, want idle", h.assistant.State())
	}
}

func TestGenerate_MalformedChunkSkipped(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if isTitleRequest(req) {
			writeChatStream(w, "A title")
			return
		}
		fmt.Fprintln(w, `{"model":"m","message":{"role":"assistant","content":"good"},"done":false}`)
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, `{"model":"m","message":{"role":"assistant","content":" still good"},"done":true}`)
	})

	ctx := context.Background()
	thread, _ := h.store.CreateThread(ctx, DefaultThreadTitle)

	h.assistant.SetModel("test-model")
	if err := h.assistant.Generate(ctx, thread.ID, "hi"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	messages, _ := h.store.GetMessages(ctx, thread.ID)
	reply := messages[len(messages)-1]
	if reply.Content != "good still good" {
		t.Errorf("reply = %q, want the bad line skipped", reply.Content)
	}
}

// =============================================================================
// TITLE GENERATION TESTS
// =============================================================================

func TestGenerate_TitleOnFirstExchangeOnly(t *testing.T) {
	var titleRequests int
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if isTitleRequest(req) {
			titleRequests++
			writeChatStream(w, "<think>let me think\n</think><title>Weather\nchat</title>")
			return
		}
		writeChatStream(w, "answer")
	})

	ctx := context.Background()
	thread, _ := h.store.CreateThread(ctx, DefaultThreadTitle)

	h.assistant.SetModel("test-model")
	if err := h.assistant.Generate(ctx, thread.ID, "How is the weather?"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	got, err := h.store.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Title != "Weatherchat" {
		t.Errorf("Title = %q, want think tags, wrapper and newlines stripped", got.Title)
	}

	// Second exchange must not regenerate the title.
	if err := h.assistant.Generate(ctx, thread.ID, "And tomorrow?"); err != nil {
		t.Fatalf("second Generate failed: %v", err)
	}
	if titleRequests != 1 {
		t.Errorf("titleRequests = %d, want exactly 1", titleRequests)
	}
}

func TestGenerate_TitleFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if isTitleRequest(req) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeChatStream(w, "answer")
	})

	ctx := context.Background()
	thread, _ := h.store.CreateThread(ctx, DefaultThreadTitle)

	h.assistant.SetModel("test-model")
	if err := h.assistant.Generate(ctx, thread.ID, "hi"); err != nil {
		t.Fatalf("Generate must succeed despite the title failure: %v", err)
	}

	got, _ := h.store.GetThread(ctx, thread.ID)
	if got.Title != DefaultThreadTitle {
		t.Errorf("Title = %q, want untouched default", got.Title)
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Trip planning", "Trip planning"},
		{"title wrapper", "<title>Trip planning</title>", "Trip planning"},
		{"think tags", "<think>hmm</think><title>Trip</title>", "Trip"},
		{"newlines", "Trip\nplanning\n", "Tripplanning"},
		{"unclosed think", "<think>only start Trip", "<think>only start Trip"},
		{"surrounding space", "  Trip  ", "Trip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanTitle(tt.in); got != tt.want {
				t.Errorf("cleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// MODEL LIFECYCLE TESTS
// =============================================================================

func TestPullModel_SetsModelOnSuccess(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"status":"downloading","total":10,"completed":10}`)
		fmt.Fprintln(w, `{"status":"success"}`)
	})

	var progress []ollama.PullProgress
	err := h.assistant.PullModel(context.Background(), "llama3.2:1b", func(p ollama.PullProgress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("PullModel failed: %v", err)
	}
	if len(progress) != 2 {
		t.Errorf("len(progress) = %d, want 2", len(progress))
	}
	if h.assistant.Parameters().Model != "llama3.2:1b" {
		t.Errorf("Model = %q, want the pulled model", h.assistant.Parameters().Model)
	}
}

func TestPullModel_FailureKeepsModelUnset(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := h.assistant.PullModel(context.Background(), "missing:latest", func(ollama.PullProgress) {})
	if !ollama.IsModelNotFound(err) {
		t.Errorf("err = %v, want model not found", err)
	}
	if h.assistant.Parameters().Model != "" {
		t.Errorf("Model = %q, want still unset", h.assistant.Parameters().Model)
	}
	if h.assistant.State() != StateIdle {
		t.Errorf("State = %v, want idle", h.assistant.State())
	}
}

func TestListModels(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"models":[{"name":"a"},{"name":"b"}]}`)
	})

	names, err := h.assistant.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("names = %v", names)
	}
}

func TestWaitUntilAvailable_Cancellation(t *testing.T) {
	// Point at a closed server so availability never succeeds.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	a := New(ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      server.URL,
		ProbeTimeout: 100 * time.Millisecond,
	}), nil)
	a.SetLogger(log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	err := a.WaitUntilAvailable(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
