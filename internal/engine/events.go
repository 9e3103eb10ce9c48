package engine

import (
	"sync"
	"time"
)

// EventType classifies engine events.
type EventType string

const (
	// EventState signals a connectivity state-machine transition.
	EventState EventType = "state"

	// EventProgress carries a composite save/sync percentage for a stage.
	EventProgress EventType = "progress"

	// EventSyncComplete signals a finished full sync.
	EventSyncComplete EventType = "sync_complete"

	// EventWarning carries an advisory ("saved locally, will sync later").
	EventWarning EventType = "warning"
)

// Event is one entry in the engine's event stream. Subscribers receive
// state transitions, throttled progress and advisory warnings in order.
type Event struct {
	Type    EventType `json:"type"`
	Stage   string    `json:"stage,omitempty"` // collection or operation name
	Percent int       `json:"percent,omitempty"`
	State   State     `json:"state,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// subscriberBuffer bounds each subscriber channel. Slow subscribers lose
// events rather than blocking the write path.
const subscriberBuffer = 64

type eventBus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

// subscribe registers a new subscriber. The returned cancel func must be
// called to release the channel; after cancel the channel is closed.
func (b *eventBus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers ev to every subscriber, dropping it for any whose
// buffer is full.
func (b *eventBus) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
