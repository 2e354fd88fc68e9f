// Package statesync notifies a user's other devices when their chat state changes.
package statesync

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event types pushed to subscribers.
const (
	EventStateChanged = "state_changed"
	EventStateDeleted = "state_deleted"
)

// subscriberBuffer bounds undelivered events per subscriber. A slow subscriber loses
// events rather than blocking the publisher; every event tells it to pull anyway.
const subscriberBuffer = 8

// Event is the message pushed over /ws/state.
type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version,omitempty"`
	Chats     int    `json:"chats"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
	Origin    string `json:"origin,omitempty"`
}

// Subscriber is one registered device session.
type Subscriber struct {
	UserID    string
	SessionID string

	events chan []byte
	done   chan struct{}
	once   sync.Once
}

// Events delivers encoded events until the subscriber is closed.
func (s *Subscriber) Events() <-chan []byte {
	return s.events
}

// Done is closed when the hub drops the subscriber.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub tracks subscribers per user and session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*Subscriber
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]*Subscriber),
		logger: logger,
	}
}

// Register adds a subscriber for userID/sessionID. A subscriber already registered
// under the same session is replaced and closed.
func (h *Hub) Register(userID, sessionID string) *Subscriber {
	sub := &Subscriber{
		UserID:    userID,
		SessionID: sessionID,
		events:    make(chan []byte, subscriberBuffer),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.active[userID]
	if !ok {
		sessions = make(map[string]*Subscriber)
		h.active[userID] = sessions
	}
	if existing, ok := sessions[sessionID]; ok {
		existing.close()
	}
	sessions[sessionID] = sub
	h.logger.Info("State sync session registered", "user_id", userID, "session_id", sessionID)
	return sub
}

// Unregister removes sub if it is still the registered subscriber for its session.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.active[sub.UserID]
	if !ok {
		return
	}
	if current, ok := sessions[sub.SessionID]; ok && current == sub {
		delete(sessions, sub.SessionID)
		if len(sessions) == 0 {
			delete(h.active, sub.UserID)
		}
		h.logger.Info("State sync session unregistered", "user_id", sub.UserID, "session_id", sub.SessionID)
	}
	sub.close()
}

// Broadcast sends ev to every session of userID except exceptSession and returns how
// many subscribers received it.
func (h *Hub) Broadcast(userID, exceptSession string, ev Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode state sync event", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sid, sub := range h.active[userID] {
		if sid == exceptSession {
			continue
		}
		select {
		case sub.events <- data:
			delivered++
		default:
			h.logger.Warn("State sync subscriber is full, dropping event", "user_id", userID, "session_id", sid)
		}
	}
	return delivered
}

// CloseUser drops all sessions of userID.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.active[userID] {
		sub.close()
	}
	delete(h.active, userID)
}

// Sessions returns the number of registered sessions of userID.
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}
