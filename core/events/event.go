package events

import (
	"sync"

	"magink/core/types"
)

// Event represents a structured state change emitted by a module.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves as a
// flat types.Event for RPC consumers and indexers.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer holds events until the operation that produced them is known to
// have committed.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Reset discards every buffered event.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// ToTypes converts an emitted event into its flat form. Events that do not
// implement Payload are rendered with their type only.
func ToTypes(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if p, ok := evt.(Payload); ok {
		if out := p.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
