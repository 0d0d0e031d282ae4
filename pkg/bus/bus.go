// Package bus provides the in-process typed pub/sub used to decouple
// the sync engine from its observers (UI bridge, transcript engine,
// credential store). Delivery is synchronous fan-out on the emitting
// goroutine, in emission order per subscriber; subscribers must not
// block.
package bus

import (
	"log/slog"
	"sync"
)

// Topic names.
const (
	TopicSyncCompleted         = "sync-completed"
	TopicTranscriptAvailable   = "transcript-available"
	TopicCredentialInvalidated = "credential-invalidated"
)

// Handler receives one event payload for a topic it subscribed to.
type Handler func(payload any)

type subscriber struct {
	id      string
	handler Handler
}

// Bus is an in-process event bus keyed by topic. The subscriber
// registry is copy-on-write: Publish reads a snapshot without holding
// the lock, so subscribe/unsubscribe never stall emitters.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]subscriber
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]subscriber)}
}

// Subscribe registers handler for topic under id. A second Subscribe
// with the same id replaces the previous handler.
func (b *Bus) Subscribe(topic, id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.topics[topic]
	next := make([]subscriber, 0, len(existing)+1)
	for _, s := range existing {
		if s.id != id {
			next = append(next, s)
		}
	}
	next = append(next, subscriber{id: id, handler: handler})
	b.topics[topic] = next
}

// Unsubscribe removes the handler registered under id for topic.
func (b *Bus) Unsubscribe(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.topics[topic]
	next := make([]subscriber, 0, len(existing))
	for _, s := range existing {
		if s.id != id {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(b.topics, topic)
		return
	}
	b.topics[topic] = next
}

// Publish delivers payload to every subscriber of topic, synchronously,
// in subscription order. A panicking subscriber is logged and does not
// affect the others.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	subs := b.topics[topic]
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(topic, s, payload)
	}
}

func (b *Bus) deliver(topic string, s subscriber, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panicked",
				"topic", topic, "subscriber", s.id, "panic", r)
		}
	}()
	s.handler(payload)
}
