// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// DefaultQueueSize is the per-subscriber event queue capacity.
const DefaultQueueSize = 64

// =============================================================================
// NOTIFIER
// =============================================================================

// Notifier fans events out to subscribers. Delivery is best-effort:
// Notify never blocks, and a subscriber whose queue is full loses the
// event. Each subscriber sees the events it does receive in publish
// order. Safe for concurrent use.
type Notifier struct {
	mu        sync.RWMutex
	subs      map[uuid.UUID]*subscriber
	queueSize int
	closed    bool
	wg        *conc.WaitGroup
	logger    *log.Logger
}

type subscriber struct {
	id    uuid.UUID
	queue chan Event
}

// NewNotifier creates a notifier with the given per-subscriber queue
// capacity. Sizes below 1 fall back to DefaultQueueSize.
func NewNotifier(queueSize int) *Notifier {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Notifier{
		subs:      make(map[uuid.UUID]*subscriber),
		queueSize: queueSize,
		wg:        conc.NewWaitGroup(),
		logger:    log.Default(),
	}
}

// SetLogger replaces the logger used for drop warnings.
func (n *Notifier) SetLogger(logger *log.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if logger != nil {
		n.logger = logger
	}
}

// Notify publishes an event to all current subscribers. It never blocks:
// with no subscribers the event is dropped with a warning, and a full
// subscriber queue drops the event for that subscriber only.
func (n *Notifier) Notify(event Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}
	if len(n.subs) == 0 {
		n.logger.Printf("notify: no subscribers, dropping %T", event)
		return
	}

	for _, sub := range n.subs {
		select {
		case sub.queue <- event:
		default:
			n.logger.Printf("notify: subscriber %s queue full, dropping %T", sub.id, event)
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close detaches all subscribers and waits for their goroutines to
// drain. Further Notify calls are silent no-ops.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for id, sub := range n.subs {
		close(sub.queue)
		delete(n.subs, id)
	}
	n.mu.Unlock()

	n.wg.Wait()
}

// warnf logs a drop warning with the current logger.
func (n *Notifier) warnf(format string, args ...any) {
	n.mu.RLock()
	logger := n.logger
	n.mu.RUnlock()
	logger.Printf(format, args...)
}

// detach removes one subscriber. Called from Subscription.Cancel.
func (n *Notifier) detach(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sub, ok := n.subs[id]; ok {
		close(sub.queue)
		delete(n.subs, id)
	}
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscription is one subscriber's view of the event stream, already
// mapped through its transform.
type Subscription[T any] struct {
	id       uuid.UUID
	notifier *Notifier
	out      chan T
	cancel   sync.Once
}

// C returns the channel of transformed events. It is closed after
// Cancel (or Notifier.Close) once queued events have drained.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Cancel detaches the subscription. Events already queued are still
// offered to the channel before it closes; a consumer that stopped
// reading loses them. Safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.cancel.Do(func() {
		s.notifier.detach(s.id)
	})
}

// Subscribe attaches a subscriber whose transform maps each event to the
// subscriber's own type. The transform must be pure; returning false
// skips the event. A subscriber never sees events published before it
// attached.
func Subscribe[T any](n *Notifier, transform func(Event) (T, bool)) *Subscription[T] {
	sub := &subscriber{
		id:    uuid.New(),
		queue: make(chan Event, n.queueSize),
	}
	out := make(chan T, n.queueSize)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(out)
		return &Subscription[T]{id: sub.id, notifier: n, out: out}
	}
	n.subs[sub.id] = sub
	n.mu.Unlock()

	n.wg.Go(func() {
		defer close(out)
		for event := range sub.queue {
			mapped, ok := transform(event)
			if !ok {
				continue
			}
			// Same drop policy as Notify: a consumer that stopped
			// reading must not park this goroutine, or Close would
			// hang on it.
			select {
			case out <- mapped:
			default:
				n.warnf("notify: subscriber %s output full, dropping event", sub.id)
			}
		}
	})

	return &Subscription[T]{id: sub.id, notifier: n, out: out}
}
