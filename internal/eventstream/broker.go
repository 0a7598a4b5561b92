// Package eventstream keeps a bounded, cursor-addressed event history per
// stream so HTTP clients can replay and follow progress.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Gurpartap/promptgraph/agent"
)

const DefaultHistoryLimit = 256

var (
	ErrStreamIDRequired = errors.New("stream id is required")
	ErrCursorInvalid    = errors.New("stream cursor is invalid")
	ErrCursorExpired    = errors.New("stream cursor expired")
)

type StreamEvent struct {
	ID    int64       `json:"id"`
	Event agent.Event `json:"event"`
}

type Broker struct {
	mu           sync.RWMutex
	historyLimit int
	streams      map[string]*history
}

type history struct {
	nextID int64
	events []StreamEvent
}

var _ agent.EventSink = (*Broker)(nil)

func New(historyLimit int) *Broker {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Broker{
		historyLimit: historyLimit,
		streams:      make(map[string]*history),
	}
}

func (b *Broker) Publish(ctx context.Context, event agent.Event) error {
	if ctx == nil {
		return agent.ErrContextNil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err := agent.ValidateEvent(event); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.streamLocked(event.StreamID)
	h.events = append(h.events, StreamEvent{ID: h.nextID, Event: agent.CloneEvent(event)})
	h.nextID++
	if len(h.events) > b.historyLimit {
		h.events = h.events[len(h.events)-b.historyLimit:]
	}
	return nil
}

// Has reports whether any event was ever published on streamID.
func (b *Broker) Has(streamID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.streams[streamID]
	return ok
}

// Forget drops the history of streamID.
func (b *Broker) Forget(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, streamID)
}

// EventsAfter returns events with ids greater than cursor. Cursor zero reads
// from the oldest retained event.
func (b *Broker) EventsAfter(streamID string, cursor int64) ([]StreamEvent, error) {
	if streamID == "" {
		return nil, ErrStreamIDRequired
	}
	if cursor < 0 {
		return nil, fmt.Errorf("%w: cursor must be non-negative", ErrCursorInvalid)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	h, ok := b.streams[streamID]
	if !ok {
		if cursor == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: no events for stream %q", ErrCursorInvalid, streamID)
	}
	if cursor >= h.nextID {
		return nil, fmt.Errorf("%w: cursor=%d is beyond latest id=%d", ErrCursorInvalid, cursor, h.nextID-1)
	}
	if len(h.events) > 0 {
		oldestAvailable := h.events[0].ID - 1
		if cursor > 0 && cursor < oldestAvailable {
			return nil, fmt.Errorf("%w: cursor=%d oldest_available=%d", ErrCursorExpired, cursor, oldestAvailable)
		}
	}

	start := 0
	for start < len(h.events) && h.events[start].ID <= cursor {
		start++
	}
	out := make([]StreamEvent, 0, len(h.events)-start)
	for _, event := range h.events[start:] {
		out = append(out, StreamEvent{ID: event.ID, Event: agent.CloneEvent(event.Event)})
	}
	return out, nil
}

func (b *Broker) streamLocked(streamID string) *history {
	h, ok := b.streams[streamID]
	if !ok {
		h = &history{nextID: 1, events: make([]StreamEvent, 0, b.historyLimit)}
		b.streams[streamID] = h
	}
	return h
}
