package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"magink/core/events"
	"magink/core/types"
	"magink/observability"
)

const (
	eventHistoryLimit = 2048
	subscriberBuffer  = 32
)

// EventUpdate is a committed event as delivered to stream subscribers.
type EventUpdate struct {
	Sequence uint64
	Cursor   string
	Height   uint64
	Event    types.Event
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if evt := update.Event.Clone(); evt != nil {
		cloned.Event = *evt
	}
	return cloned
}

type eventStream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan EventUpdate
	history []EventUpdate
}

// publish is called with stateMu held, after the producing operation has
// committed.
func (n *Node) publish(evt events.Event) {
	flat := events.ToTypes(evt)
	if flat == nil {
		return
	}
	observability.Events().RecordCommitted(flat.Type)

	s := &n.stream
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]chan EventUpdate)
	}
	s.seq++
	update := EventUpdate{
		Sequence: s.seq,
		Cursor:   strconv.FormatUint(s.seq, 10),
		Height:   n.height,
		Event:    *flat,
	}
	s.history = append(s.history, cloneEventUpdate(update))
	if len(s.history) > eventHistoryLimit {
		excess := len(s.history) - eventHistoryLimit
		trimmed := make([]EventUpdate, eventHistoryLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	for id, ch := range s.subs {
		select {
		case ch <- cloneEventUpdate(update):
		default:
			// A full buffer closes the channel so the subscriber can resume
			// from its last cursor instead of silently missing events.
			delete(s.subs, id)
			close(ch)
			n.metrics.ObserveStreamDrop()
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a subscriber for committed events after cursor. It
// returns the live channel, a cancel function and the retained backlog.
// The channel is closed when ctx ends, on cancel, or when the subscriber
// falls more than subscriberBuffer events behind.
func (n *Node) Subscribe(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}
	updates := make(chan EventUpdate, subscriberBuffer)

	s := &n.stream
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]chan EventUpdate)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]EventUpdate, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(entry))
		}
	}
	s.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if ch, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.mu.Unlock()
			close(stop)
		})
	}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-stop:
			}
		}()
	}
	return updates, cancel, backlog, nil
}

// Subscriber is a source of committed events. *Node implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error)
}

// Follow delivers every committed event after cursor to handle, in sequence
// order, until ctx ends. A subscription closed for lagging is resumed from
// the last delivered cursor. When events were trimmed from the retained
// history before they could be resumed, gap is called with the first and
// last missing sequence numbers.
func Follow(ctx context.Context, source Subscriber, cursor string, handle func(EventUpdate), gap func(from, to uint64)) error {
	var last uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid cursor %q", cursor)
		}
		last = parsed
	}
	deliver := func(update EventUpdate) {
		if update.Sequence <= last {
			return
		}
		if update.Sequence > last+1 && gap != nil {
			gap(last+1, update.Sequence-1)
		}
		last = update.Sequence
		handle(update)
	}
	resumed := cursor
	for {
		updates, cancel, backlog, err := source.Subscribe(ctx, resumed)
		if err != nil {
			return err
		}
		for _, update := range backlog {
			deliver(update)
		}
		closed := false
		for !closed {
			select {
			case <-ctx.Done():
				cancel()
				return ctx.Err()
			case update, ok := <-updates:
				if !ok {
					closed = true
					break
				}
				deliver(update)
			}
		}
		cancel()
		if err := ctx.Err(); err != nil {
			return err
		}
		resumed = strconv.FormatUint(last, 10)
	}
}
