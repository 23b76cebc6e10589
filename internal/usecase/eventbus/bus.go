// Package eventbus delivers reduced harness events to listeners in the exact
// order they were produced.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"anvil/internal/domain"
)

// Listener receives an event together with the state snapshot the reducer
// produced for it. The snapshot is shared between listeners and must be
// treated as read-only.
type Listener func(ev domain.Event, state domain.HarnessState)

type subscription struct {
	id      uint64
	handler Listener
}

type delivery struct {
	event domain.Event
	state domain.HarnessState
	after func()
}

// Bus is an in-process, goroutine-safe, ordered event bus.
//
// Deliveries are queued and drained by a single goroutine at a time, so a
// listener that publishes from inside its callback never recurses: its event
// is delivered after the current one reached every listener.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	tail    Listener
	nextID  atomic.Uint64
	logger  *slog.Logger

	qmu      sync.Mutex
	queue    []delivery
	draining bool
	closed   atomic.Bool
}

// New creates an event bus. tail, if non-nil, runs after all subscribers for
// every event.
func New(logger *slog.Logger, tail Listener) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]subscription),
		tail:   tail,
		logger: logger,
	}
}

// Publish enqueues an event and drains the queue unless another goroutine is
// already draining it. after, if non-nil, runs once the event reached every
// listener.
func (b *Bus) Publish(ev domain.Event, state domain.HarnessState, after func()) {
	b.Enqueue(ev, state, after)
	b.Drain()
}

// Enqueue appends a delivery without draining. Callers that must keep
// deliveries in the same order as their own critical section enqueue under
// their lock and drain after releasing it.
func (b *Bus) Enqueue(ev domain.Event, state domain.HarnessState, after func()) {
	if b.closed.Load() {
		return
	}
	b.qmu.Lock()
	b.queue = append(b.queue, delivery{event: ev, state: state, after: after})
	b.qmu.Unlock()
}

// Drain delivers queued events until the queue is empty.
func (b *Bus) Drain() {
	b.qmu.Lock()
	if b.draining {
		b.qmu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		d := b.queue[0]
		b.queue[0] = delivery{}
		b.queue = b.queue[1:]
		b.qmu.Unlock()

		b.deliver(d)

		b.qmu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.qmu.Unlock()
}

func (b *Bus) deliver(d delivery) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	typed := make([]subscription, len(b.typed[d.event.Type()]))
	copy(typed, b.typed[d.event.Type()])
	allSubs := make([]subscription, len(b.allSubs))
	copy(allSubs, b.allSubs)
	b.mu.RUnlock()

	for _, sub := range typed {
		b.dispatch(d, sub.handler)
	}
	for _, sub := range allSubs {
		b.dispatch(d, sub.handler)
	}
	if b.tail != nil {
		b.dispatch(d, b.tail)
	}
	if d.after != nil {
		d.after()
	}
}

func (b *Bus) dispatch(d delivery, handler Listener) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				"event", string(d.event.Type()),
				"panic", r,
			)
		}
	}()
	handler(d.event, d.state)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler Listener) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler Listener) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Close stops delivery and drops queued events. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.qmu.Lock()
	b.queue = nil
	b.qmu.Unlock()
}
