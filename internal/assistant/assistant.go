// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assistant orchestrates conversations: it drives the backend
// client, persists every token through the store, and keeps generation
// parameters.
package assistant

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/morganforge/pincer-chat/internal/ollama"
	"github.com/morganforge/pincer-chat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoModelSelected means generation was requested before any model
	// was pulled or selected.
	ErrNoModelSelected = errors.New("no model selected")

	// ErrBusy means a generation or pull is already in flight.
	ErrBusy = errors.New("assistant is busy")
)

// =============================================================================
// STATE
// =============================================================================

// State is the assistant's position in the generation lifecycle.
type State int

const (
	StateIdle State = iota
	StatePullingModel
	StateAwaitingFirstToken
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePullingModel:
		return "pulling model"
	case StateAwaitingFirstToken:
		return "awaiting first token"
	case StateStreaming:
		return "streaming"
	}
	return "unknown"
}

// =============================================================================
// ASSISTANT
// =============================================================================

// Assistant coordinates the backend client and the conversation store.
// One generation or pull runs at a time; every failure path returns the
// assistant to idle.
type Assistant struct {
	client *ollama.Client
	store  *storage.Store
	logger *log.Logger

	mu     sync.Mutex
	params Parameters
	state  State

	// titled tracks threads whose title generation already ran, so a
	// retried generation in the same session cannot run it twice.
	titled map[int64]bool
}

// New creates an assistant over the given client and store.
func New(client *ollama.Client, store *storage.Store) *Assistant {
	return &Assistant{
		client: client,
		store:  store,
		logger: log.Default(),
		params: DefaultParameters(),
		titled: make(map[int64]bool),
	}
}

// SetLogger replaces the assistant's logger.
func (a *Assistant) SetLogger(logger *log.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// State returns the current lifecycle state.
func (a *Assistant) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// =============================================================================
// PARAMETERS
// =============================================================================

// Parameters returns a copy of the current generation parameters.
func (a *Assistant) Parameters() Parameters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// SetModel selects the model used for generation.
func (a *Assistant) SetModel(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params.Model = model
}

// SetTemperature sets the sampling temperature, clamped to [0, 1].
func (a *Assistant) SetTemperature(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params.Temperature = clampFloat(value, 0, 1)
}

// SetTopK sets the top-k cutoff, clamped to [0, 100].
func (a *Assistant) SetTopK(value int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params.TopK = clampInt(value, 0, 100)
}

// SetTopP sets the nucleus sampling cutoff, clamped to [0, 1].
func (a *Assistant) SetTopP(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params.TopP = clampFloat(value, 0, 1)
}

// SetSeed sets the sampling seed.
func (a *Assistant) SetSeed(value int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params.Seed = value
}

// ResetParameters restores the defaults but keeps the selected model.
func (a *Assistant) ResetParameters() {
	a.mu.Lock()
	defer a.mu.Unlock()
	model := a.params.Model
	a.params = DefaultParameters()
	a.params.Model = model
}

// options converts the parameters to a backend options block.
func (p Parameters) options() *ollama.Options {
	return &ollama.Options{
		Temperature: p.Temperature,
		TopK:        p.TopK,
		TopP:        p.TopP,
		Seed:        p.Seed,
	}
}

// =============================================================================
// BACKEND LIFECYCLE
// =============================================================================

// WaitUntilAvailable polls the backend once per second until it answers
// or the context is cancelled. There is no attempt limit; a backend
// that is still loading simply takes a few more polls.
func (a *Assistant) WaitUntilAvailable(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if a.client.CheckAvailability(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListModels returns the names of locally available models.
func (a *Assistant) ListModels(ctx context.Context) ([]string, error) {
	models, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// PullModel downloads a model and, on success, makes it the current
// model. On failure the previous selection is untouched.
func (a *Assistant) PullModel(ctx context.Context, model string, progress ollama.PullCallback) error {
	if err := a.enterState(StatePullingModel); err != nil {
		return err
	}
	defer a.leaveState()

	if err := a.client.PullModel(ctx, model, progress); err != nil {
		return err
	}

	a.mu.Lock()
	a.params.Model = model
	a.mu.Unlock()
	return nil
}

// enterState moves from idle into a working state.
func (a *Assistant) enterState(s State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return ErrBusy
	}
	a.state = s
	return nil
}

// setState transitions between working states.
func (a *Assistant) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// leaveState returns to idle.
func (a *Assistant) leaveState() {
	a.setState(StateIdle)
}

// =============================================================================
// GENERATION
// =============================================================================

// Generate runs one full exchange: persist the user message, create an
// empty assistant message, stream the reply into it token by token, and
// afterwards try the one-time thread title. A mid-stream failure keeps
// whatever content already arrived and returns the assistant to idle.
func (a *Assistant) Generate(ctx context.Context, threadID int64, userInput string) error {
	a.mu.Lock()
	if a.params.Model == "" {
		a.mu.Unlock()
		return ErrNoModelSelected
	}
	if a.state != StateIdle {
		a.mu.Unlock()
		return ErrBusy
	}
	a.state = StateAwaitingFirstToken
	params := a.params
	a.mu.Unlock()
	defer a.leaveState()

	if _, err := a.store.CreateMessage(ctx, threadID, userInput, storage.RoleUser); err != nil {
		return err
	}

	history, err := a.store.GetMessages(ctx, threadID)
	if err != nil {
		return err
	}
	wire := make([]ollama.Message, 0, len(history))
	for _, msg := range history {
		wire = append(wire, ollama.Message{Role: string(msg.Role), Content: msg.Content})
	}

	// The assistant message exists, empty, before the first token
	// arrives, so observers always have a row to follow.
	reply, err := a.store.CreateMessage(ctx, threadID, "", storage.RoleAssistant)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var appendErr error
	first := true
	streamErr := a.client.ChatStream(streamCtx, params.Model, wire, params.options(), func(chunk ollama.StreamChunk) {
		if appendErr != nil {
			return
		}
		if chunk.Err != nil {
			a.logger.Printf("assistant: skipping malformed chunk: %v", chunk.Err)
			return
		}
		if first && chunk.Content != "" {
			a.setState(StateStreaming)
			first = false
		}
		if chunk.Content == "" {
			return
		}
		if err := a.store.AppendToMessage(streamCtx, reply.ID, chunk.Content); err != nil {
			appendErr = err
			cancel()
		}
	})

	if appendErr != nil {
		return appendErr
	}
	if streamErr != nil {
		// Content already appended stays in the store.
		return streamErr
	}

	a.maybeGenerateTitle(ctx, threadID, params)
	return nil
}
