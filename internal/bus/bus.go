package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus is the in-process publish/subscribe event bus the stack uses to fan
// out sharing, chat, capability and registration events to the application
// layer. Delivery is fire-and-forget: a slow subscriber never blocks a
// publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	dropped atomic.Uint64
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers an event to every subscriber whose namespace is a
// prefix of event.Kind. A full subscriber channel is skipped and the
// event counted as dropped for that subscriber.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel that receives events whose kind starts with
// the given namespace prefix, plus an unsubscribe function. bufSize
// controls the channel buffer; once it is full further events are dropped
// for this subscriber.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Dropped returns the total number of events discarded because a
// subscriber channel was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
