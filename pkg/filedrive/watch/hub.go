// Package watch fans change notifications out to subscribers of a scope.
//
// Notifications carry no payload: a subscriber that sees one re-reads the
// data it cares about. Pending notifications coalesce, so a slow subscriber
// gets at most one wakeup per burst and Publish never blocks.
package watch

import "sync"

// Hub routes notifications by scope id
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// Subscription receives a value on C after each change in its scope
type Subscription struct {
	C <-chan struct{}

	c       chan struct{}
	hub     *Hub
	scopeID string
	once    sync.Once
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers interest in scopeID. Callers must Close the subscription.
func (h *Hub) Subscribe(scopeID string) *Subscription {
	c := make(chan struct{}, 1)
	s := &Subscription{C: c, c: c, hub: h, scopeID: scopeID}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[scopeID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[scopeID] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish notifies every subscriber of scopeID
func (h *Hub) Publish(scopeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[scopeID] {
		select {
		case s.c <- struct{}{}:
		default:
			// already pending
		}
	}
}

// Subscribers returns the number of open subscriptions for scopeID
func (h *Hub) Subscribers(scopeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[scopeID])
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[s.scopeID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.scopeID)
			}
		}
	})
}
