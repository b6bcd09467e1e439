package hfp

import (
	"sync"
	"time"
)

// EventType classifies a broadcast for interested collaborators (audio
// manager, dialer surface, WebSocket clients).
type EventType string

const (
	EventHfpStatusChanged  EventType = "hfp-status-changed"
	EventScoStatusChanged  EventType = "sco-status-changed"
	EventNrecStatusChanged EventType = "nrec-status-changed"
	EventWbsStatusChanged  EventType = "wbs-status-changed"
	EventVolumeChange      EventType = "volume-change"
	EventDialerCommand     EventType = "dialer-command"
)

// Event is the JSON-serialisable envelope broadcast to subscribers.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StatusChange is the payload of connection/audio/NREC/WBS broadcasts.
type StatusChange struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// subscriber holds a buffered channel for one consumer.
type subscriber struct {
	ch chan Event
}

// EventBus fans manager broadcasts out to all registered subscribers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewEventBus constructs a ready EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new consumer. It returns a receive channel and an
// unsubscribe function that must be called when the consumer goes away (it
// closes the channel).
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}
	return s.ch, unsub
}

// Publish sends an Event to all current subscribers. Slow consumers are
// skipped (their buffer is full) so the manager loop never stalls on a
// broadcast.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Len returns the number of current subscribers.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
