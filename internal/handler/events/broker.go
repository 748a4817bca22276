// Package events pushes orchestrator state and notices to the browser over
// Server-Sent Events.
package events

import (
	"log"
	"sync"

	"github.com/emotifriend/backend/internal/orchestrator"
)

// Event is one SSE frame payload.
type Event struct {
	Type   string                 `json:"type"` // "state" or "notice"
	State  *orchestrator.Snapshot `json:"state,omitempty"`
	Notice *orchestrator.Notice   `json:"notice,omitempty"`
}

// Broker fans orchestrator events out to each user's open event streams.
// It is the Sink the orchestrator publishes into.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

var _ orchestrator.Sink = (*Broker)(nil)

// Subscribe opens one event channel for a user. The returned cancel func
// must run when the stream closes.
func (b *Broker) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	set, ok := b.subs[userID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[userID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[userID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// PublishState implements orchestrator.Sink.
func (b *Broker) PublishState(userID string, snap orchestrator.Snapshot) {
	b.publish(userID, Event{Type: "state", State: &snap})
}

// PublishNotice implements orchestrator.Sink.
func (b *Broker) PublishNotice(userID string, n orchestrator.Notice) {
	b.publish(userID, Event{Type: "notice", Notice: &n})
}

func (b *Broker) publish(userID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[userID] {
		select {
		case ch <- ev:
		default:
			// A stalled stream must not block the pipeline.
			log.Printf("[events] dropping %s event for user=%s", ev.Type, userID)
		}
	}
}
