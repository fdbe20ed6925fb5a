// Package eventbus provides the in-process pub/sub bus used to carry
// Agent lifecycle emissions (state_change, agent_token, message_queued,
// …) from producers to UI/automation subscribers. Dispatch is a direct
// call (so payload types survive without marshaling); the bus also holds
// a watermill gochannel, which it closes on Close but sends no events
// through.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Kind is the set of lifecycle event kinds a Bus carries. Component
// packages (agent, queue, retry, delegate) define their own Kind
// constants; eventbus is agnostic to the closed set.
type Kind string

// Event is one lifecycle notification.
type Event struct {
	Kind Kind
	Data any
}

// Subscriber receives events of a subscribed Kind (or all events, via
// SubscribeAll).
type Subscriber func(Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is a single agent's (or a process-wide) event bus instance. Lace
// never uses a shared global bus: each Agent owns one so that
// subscribing for the duration of a single call never leaks across
// agents.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[Kind][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// New creates a Bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64, Persistent: false},
			watermill.NopLogger{},
		),
		subscribers: make(map[Kind][]subscriberEntry),
	}
}

func (b *Bus) newID() uint64 { return atomic.AddUint64(&b.nextID, 1) }

// Subscribe registers fn for events of kind and returns an unsubscribe
// function.
func (b *Bus) Subscribe(kind Kind, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.newID()
	b.subscribers[kind] = append(b.subscribers[kind], subscriberEntry{id, fn})
	return func() { b.unsubscribe(kind, id) }
}

// SubscribeAll registers fn for every event published on this bus.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.newID()
	b.global = append(b.global, subscriberEntry{id, fn})
	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[kind]
	for i, e := range subs {
		if e.id == id {
			b.subscribers[kind] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.global {
		if e.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to subscribers synchronously, in registration
// order, on the calling goroutine. The Agent state machine relies on
// synchronous delivery so that e.g. a `token_budget_warning` subscriber
// can observe state before SendMessage returns.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(b.subscribers[ev.Kind])+len(b.global))
	for _, e := range b.subscribers[ev.Kind] {
		subs = append(subs, e.fn)
	}
	for _, e := range b.global {
		subs = append(subs, e.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(ev)
	}
}

// Close tears down the bus. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[Kind][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}
