// pincer-chat - A terminal front end for local LLM conversations.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/morganforge/pincer-chat/internal/assistant"
	"github.com/morganforge/pincer-chat/internal/config"
	"github.com/morganforge/pincer-chat/internal/notify"
	"github.com/morganforge/pincer-chat/internal/ollama"
	"github.com/morganforge/pincer-chat/internal/storage"
	"github.com/morganforge/pincer-chat/internal/util"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Fatalf("pincer-chat: %v", err)
	}
}

func run(ctx context.Context, logger *log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dbPath := cfg.Storage.DatabasePath
	if dbPath == "" {
		dbPath, err = storage.DefaultDatabasePath()
		if err != nil {
			return err
		}
	}

	notifier := notify.NewNotifier(cfg.Notify.QueueSize)
	defer notifier.Close()

	store, err := storage.Open(&storage.Config{
		DatabasePath: dbPath,
		SystemPrompt: assistant.SystemPrompt,
		Notifier:     notifier,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	// A schema we cannot bring up to date is not something to limp past.
	if err := store.RunMigrations(ctx); err != nil {
		return err
	}

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:        cfg.Backend.URL,
		Timeout:        time.Duration(cfg.Backend.RequestTimeoutSecs) * time.Second,
		ConnectTimeout: time.Duration(cfg.Backend.ConnectTimeoutSecs) * time.Second,
		ProbeTimeout:   time.Duration(cfg.Backend.ProbeTimeoutSecs) * time.Second,
	})

	if cfg.Backend.Autostart && !client.CheckAvailability(ctx) {
		fmt.Println("Ollama is not running, starting it...")
		if err := client.EnsureRunning(ctx); err != nil {
			logger.Printf("could not start Ollama: %v", err)
		}
	}

	a := assistant.New(client, store)

	fmt.Println("Waiting for Ollama...")
	if err := a.WaitUntilAvailable(ctx); err != nil {
		return fmt.Errorf("backend never became available: %w", err)
	}
	if version, err := client.Version(ctx); err == nil {
		fmt.Printf("Connected to Ollama %s\n", version)
	}

	if err := selectStartupModel(ctx, a, client, cfg.DefaultModel); err != nil {
		logger.Printf("no model selected yet: %v", err)
	}

	thread, err := store.GetLatestThread(ctx)
	if storage.IsNotFound(err) {
		thread, err = store.CreateThread(ctx, assistant.DefaultThreadTitle)
	}
	if err != nil {
		return err
	}

	repl := &repl{
		assistant: a,
		store:     store,
		notifier:  notifier,
		logger:    logger,
		thread:    thread,
	}
	return repl.loop(ctx)
}

// selectStartupModel picks the configured model when it is available
// locally, otherwise the first installed model.
func selectStartupModel(ctx context.Context, a *assistant.Assistant, client *ollama.Client, preferred string) error {
	if preferred != "" && client.ModelExists(ctx, preferred) {
		a.SetModel(preferred)
		fmt.Printf("Using model %s\n", preferred)
		return nil
	}

	names, err := a.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no local models; use /pull <model> to download one")
	}
	a.SetModel(names[0])
	fmt.Printf("Using model %s\n", names[0])
	return nil
}

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	assistant *assistant.Assistant
	store     *storage.Store
	notifier  *notify.Notifier
	logger    *log.Logger
	thread    *storage.Thread
}

func (r *repl) loop(ctx context.Context) error {
	stop := r.startRenderer(os.Stdout)
	defer stop()

	fmt.Printf("pincer-chat %s — /help for commands\n", Version)
	r.printHistory(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.assistant.Generate(ctx, r.thread.ID, line); err != nil {
			fmt.Printf("\ngeneration failed: %v\n", err)
		}
		fmt.Println()

		if ctx.Err() != nil {
			return nil
		}
	}
}

// startRenderer subscribes to the notifier and streams deltas, title
// changes, and transcript refreshes to w until the returned stop
// function is called. The store is the single source of truth; the
// subscription is just a view of it.
func (r *repl) startRenderer(w io.Writer) (stop func()) {
	sub := notify.Subscribe(r.notifier, func(e notify.Event) (string, bool) {
		switch ev := e.(type) {
		case notify.MessageAppended:
			return ev.Delta, true
		case notify.ThreadTitleUpdated:
			return fmt.Sprintf("\n[thread titled: %s]\n", ev.Title), true
		case notify.ThreadMessagesRefreshed:
			return formatTranscript(ev.Messages), true
		}
		return "", false
	})

	renderers := conc.NewWaitGroup()
	renderers.Go(func() {
		for chunk := range sub.C() {
			fmt.Fprint(w, chunk)
		}
	})

	return func() {
		// Cancel first: it closes the renderer's channel, and waiting
		// before that would never return.
		sub.Cancel()
		renderers.Wait()
	}
}

// formatTranscript renders a refreshed message list, hiding the system
// prompt the way printHistory does.
func formatTranscript(messages []notify.MessageSnapshot) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == string(storage.RoleSystem) {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

// command dispatches one slash command. Returns true to quit.
func (r *repl) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Print(`Commands:
  /new               start a new thread
  /threads           list threads
  /open <id>         switch to a thread
  /delete <id>       delete a thread
  /models            list local models
  /pull <model>      download a model and select it
  /params            show generation parameters
  /reset             reset parameters (keeps model)
  /quit              exit
`)
		return false, nil

	case "/new":
		thread, err := r.store.CreateThread(ctx, assistant.DefaultThreadTitle)
		if err != nil {
			return false, err
		}
		r.thread = thread
		fmt.Printf("switched to new thread %d\n", thread.ID)
		return false, nil

	case "/threads":
		threads, err := r.store.GetThreads(ctx)
		if err != nil {
			return false, err
		}
		for _, t := range threads {
			marker := " "
			if t.ID == r.thread.ID {
				marker = "*"
			}
			fmt.Printf("%s %4d  %s  %s\n", marker, t.ID,
				t.LastUpdatedAt.Format("2006-01-02 15:04"),
				util.TruncateRunes(t.Title, 48))
		}
		return false, nil

	case "/open":
		id, err := parseID(args)
		if err != nil {
			return false, err
		}
		thread, err := r.store.GetThread(ctx, id)
		if err != nil {
			return false, err
		}
		r.thread = thread
		fmt.Printf("switched to thread %d (%s)\n", thread.ID, thread.Title)
		if err := r.store.RefreshThreadMessages(ctx, thread.ID); err != nil {
			return false, err
		}
		return false, nil

	case "/delete":
		id, err := parseID(args)
		if err != nil {
			return false, err
		}
		if err := r.store.DeleteThread(ctx, id); err != nil {
			return false, err
		}
		fmt.Printf("deleted thread %d\n", id)
		if id == r.thread.ID {
			thread, err := r.store.GetLatestThread(ctx)
			if storage.IsNotFound(err) {
				thread, err = r.store.CreateThread(ctx, assistant.DefaultThreadTitle)
			}
			if err != nil {
				return false, err
			}
			r.thread = thread
			fmt.Printf("switched to thread %d\n", thread.ID)
		}
		return false, nil

	case "/models":
		names, err := r.assistant.ListModels(ctx)
		if err != nil {
			return false, err
		}
		current := r.assistant.Parameters().Model
		for _, name := range names {
			marker := " "
			if name == current {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return false, nil

	case "/pull":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /pull <model>")
		}
		err := r.assistant.PullModel(ctx, args[0], func(p ollama.PullProgress) {
			if p.Err != nil {
				r.logger.Printf("pull: %v", p.Err)
				return
			}
			if p.Total > 0 {
				fmt.Printf("\r%s %.0f%%   ", p.Status, p.Percent())
			} else {
				fmt.Printf("\r%s   ", p.Status)
			}
		})
		fmt.Println()
		if err != nil {
			return false, err
		}
		fmt.Printf("model %s ready\n", args[0])
		return false, nil

	case "/params":
		p := r.assistant.Parameters()
		model := p.Model
		if model == "" {
			model = "(none)"
		}
		fmt.Printf("model: %s\ntemperature: %.2f\ntop_k: %d\ntop_p: %.2f\nseed: %d\n",
			model, p.Temperature, p.TopK, p.TopP, p.Seed)
		return false, nil

	case "/reset":
		r.assistant.ResetParameters()
		fmt.Println("parameters reset")
		return false, nil
	}

	return false, fmt.Errorf("unknown command %s", cmd)
}

// printHistory renders the active thread's conversation so far.
func (r *repl) printHistory(ctx context.Context) {
	messages, err := r.store.GetMessages(ctx, r.thread.ID)
	if err != nil {
		r.logger.Printf("could not load history: %v", err)
		return
	}
	fmt.Printf("--- %s ---\n", r.thread.Title)
	for _, msg := range messages {
		if msg.Role == storage.RoleSystem {
			continue
		}
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
	}
}

func parseID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected a thread id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid thread id %q", args[0])
	}
	return id, nil
}
