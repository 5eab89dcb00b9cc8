// Copyright 2024-2026 Aiku AI

package bridge

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/guildbridge/pkg/classify"
)

// Line is one normalized raw line tagged with its origin connection. The
// command correlator consumes this stream alongside the event stream.
type Line struct {
	OriginID string
	Text     string
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing items; delivery never applies
// backpressure to the classification pipeline.
const subscriberBuffer = 64

// broadcaster is a typed fan-out stream. Publish never blocks: a full
// subscriber channel drops the item and counts the drop.
type broadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[int]chan T
	nextID  int
	dropped uint64
	log     zerolog.Logger
	name    string
}

func newBroadcaster[T any](name string, log zerolog.Logger) *broadcaster[T] {
	return &broadcaster[T]{
		subs: make(map[int]chan T),
		log:  log,
		name: name,
	}
}

// Subscribe registers a new subscriber. The returned cancel function detaches
// it and closes the channel; it is safe to call more than once.
func (b *broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan T, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish fans the item out to every subscriber without blocking.
func (b *broadcaster[T]) Publish(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- item:
		default:
			b.dropped++
			b.log.Warn().
				Str("stream", b.name).
				Int("subscriber", id).
				Uint64("total_dropped", b.dropped).
				Msg("Dropping item for slow subscriber")
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *broadcaster[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Streams is the set of typed publish-subscribe channels the coordinator
// feeds: normalized raw lines, classified messages, and classified events.
// It replaces callback-style listener registration with explicit streams.
type Streams struct {
	lines    *broadcaster[Line]
	messages *broadcaster[classify.Message]
	events   *broadcaster[classify.Event]
}

// NewStreams creates the stream set.
func NewStreams(log zerolog.Logger) *Streams {
	slog := log.With().Str("component", "streams").Logger()
	return &Streams{
		lines:    newBroadcaster[Line]("lines", slog),
		messages: newBroadcaster[classify.Message]("messages", slog),
		events:   newBroadcaster[classify.Event]("events", slog),
	}
}

// SubscribeLines attaches to the normalized raw-line stream.
func (s *Streams) SubscribeLines() (<-chan Line, func()) {
	return s.lines.Subscribe()
}

// SubscribeMessages attaches to the classified-message stream.
func (s *Streams) SubscribeMessages() (<-chan classify.Message, func()) {
	return s.messages.Subscribe()
}

// SubscribeEvents attaches to the classified-event stream.
func (s *Streams) SubscribeEvents() (<-chan classify.Event, func()) {
	return s.events.Subscribe()
}
