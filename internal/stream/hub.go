// Package stream fans session events out to live subscribers. Each session
// has its own room; subscribers that fall behind are dropped rather than
// allowed to stall the publisher.
package stream

import (
	"context"
	"sync"

	"github.com/crowdthink/brainstorm/internal/domain"
)

const subscriberBuffer = 512

// Subscription is one listener's view of a session's event feed.
type Subscription struct {
	// C delivers events in publish order.
	C <-chan domain.StreamEvent

	hub       *Hub
	sessionID string
	ch        chan domain.StreamEvent
	once      sync.Once
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s.sessionID, s.ch)
	})
}

// Hub routes published events to every subscriber of the same session.
// Publishing to a session with no subscribers is a no-op.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[chan domain.StreamEvent]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[chan domain.StreamEvent]struct{})}
}

// Subscribe attaches a listener to a session's event feed. The caller must
// Close the subscription when done.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan domain.StreamEvent, subscriberBuffer)

	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[chan domain.StreamEvent]struct{})
		h.rooms[sessionID] = room
	}
	room[ch] = struct{}{}
	h.mu.Unlock()

	return &Subscription{C: ch, hub: h, sessionID: sessionID, ch: ch}
}

func (h *Hub) unsubscribe(sessionID string, ch chan domain.StreamEvent) {
	h.mu.Lock()
	if room, ok := h.rooms[sessionID]; ok {
		if _, ok := room[ch]; ok {
			delete(room, ch)
			close(ch)
		}
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers an event to every subscriber of the event's session.
// A subscriber whose buffer is full is detached so one slow reader cannot
// block the round.
func (h *Hub) Publish(_ context.Context, event domain.StreamEvent) {
	h.mu.RLock()
	room := h.rooms[event.SessionID]
	var stalled []chan domain.StreamEvent
	for ch := range room {
		select {
		case ch <- event:
		default:
			stalled = append(stalled, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range stalled {
		h.unsubscribe(event.SessionID, ch)
	}
}

// Subscribers reports how many listeners a session currently has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}
