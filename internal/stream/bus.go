// Package stream implements the per-turn event bus: a single-producer,
// single-consumer ordered channel the agent loop writes to and the transport
// layer drains.
package stream

import (
	"sync"
	"time"

	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

// defaultBuffer absorbs bursts of text deltas without stalling the loop.
const defaultBuffer = 64

// publishTimeout bounds how long a publish may wait on a slow consumer
// before the event is dropped. The producer must never block indefinitely.
const publishTimeout = 5 * time.Second

// Bus is an ordered push channel for one in-flight turn. Events are
// delivered strictly in publish order. After the consumer detaches, every
// publish becomes a no-op; Close always delivers a terminal done event to a
// still-attached consumer.
//
// Publish and Close must be called from the producer goroutine; Detach may
// be called from the consumer side at any time.
type Bus struct {
	mu       sync.Mutex
	events   chan models.StreamEvent
	detached bool
	closed   bool

	dropped int
}

// NewBus creates a bus with the default buffer size.
func NewBus() *Bus {
	return &Bus{events: make(chan models.StreamEvent, defaultBuffer)}
}

// Events returns the consumer side of the bus. It is closed after the
// terminal done event.
func (b *Bus) Events() <-chan models.StreamEvent {
	return b.events
}

// Publish enqueues an event for the consumer. It never blocks longer than
// publishTimeout and never panics; events published after Detach or Close
// are silently discarded.
func (b *Bus) Publish(event models.StreamEvent) {
	b.mu.Lock()
	if b.detached || b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	select {
	case b.events <- event:
	case <-time.After(publishTimeout):
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Detach marks the consumer as gone. In-flight work may continue but no
// further events are delivered. Safe to call more than once.
func (b *Bus) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached || b.closed {
		return
	}
	b.detached = true
	// Drain anything buffered so a concurrent Publish that already passed
	// the detached check cannot block on a full channel.
	for {
		select {
		case <-b.events:
		default:
			return
		}
	}
}

// Close emits the terminal done event and closes the channel. It is the
// deterministic end-of-stream signal on every termination path, including
// after errors. Safe to call exactly once per bus; subsequent calls are
// no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	detached := b.detached
	b.mu.Unlock()

	if !detached {
		select {
		case b.events <- models.NewDone():
		case <-time.After(publishTimeout):
		}
	}
	close(b.events)
}

// Dropped reports how many events were discarded on a stalled consumer.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
