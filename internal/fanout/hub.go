// Package fanout pushes live events to connected clients.
package fanout

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/logger"
	"stockroom/backend/internal/metrics"
)

const (
	EventNewSale            = "new-sale"
	EventLowStock           = "low-stock"
	EventNewNotification    = "new-notification"
	EventNewCreditPayment   = "new-credit-payment"
	EventNewCreditSale      = "new-credit-sale"
	EventUserListUpdate     = "user-list-update"
	EventSystemAnnouncement = "system-announcement"
)

// Event is sent to clients as {"type": ..., ...data}. Data that does not
// encode to a JSON object is sent under "data".
type Event struct {
	Type string
	Data any
}

func (e Event) MarshalJSON() ([]byte, error) {
	typ, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if e.Data != nil {
		body, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		if len(body) > 0 && body[0] == '{' {
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, err
			}
		} else {
			fields["data"] = body
		}
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

// Broadcaster is what the service needs from the hub.
type Broadcaster interface {
	Broadcast(Event)
}

// Session is one live client connection. Deliver must not block.
type Session interface {
	ID() string
	Deliver(payload []byte) bool
	Close()
}

// Directory lists every known user for presence updates.
type Directory func(ctx context.Context) ([]domain.User, error)

type Hub struct {
	log       *logger.Logger
	metrics   *metrics.Metrics
	directory Directory

	mu       sync.RWMutex
	sessions map[string]Session
	presence map[string]string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewHub(log *logger.Logger, m *metrics.Metrics, directory Directory) *Hub {
	return &Hub{
		log:       logger.OrNop(log).WithComponent("fanout"),
		metrics:   m,
		directory: directory,
		sessions:  make(map[string]Session),
		presence:  make(map[string]string),
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
	}
}

// Run delivers queued events until ctx is cancelled or Close is called.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeSessions()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Broadcast queues ev for every session. It never blocks; a full queue drops
// the event.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.metrics.IncDropped()
		h.log.Warnw("event queue full, dropping", "type", ev.Type)
	}
}

func (h *Hub) Attach(s Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	n := len(h.sessions)
	h.mu.Unlock()
	h.metrics.SetSessions(n)
	h.log.Debugw("session attached", "session", s.ID())
}

func (h *Hub) Detach(ctx context.Context, sessionID string) {
	h.mu.Lock()
	_, identified := h.presence[sessionID]
	delete(h.presence, sessionID)
	delete(h.sessions, sessionID)
	n := len(h.sessions)
	h.mu.Unlock()
	h.metrics.SetSessions(n)

	if identified {
		h.broadcastPresence(ctx)
	}
}

// Identify binds a username to a session and republishes the user list.
func (h *Hub) Identify(ctx context.Context, sessionID string, username string) {
	h.mu.Lock()
	if _, ok := h.sessions[sessionID]; !ok {
		h.mu.Unlock()
		return
	}
	h.presence[sessionID] = username
	h.mu.Unlock()
	h.broadcastPresence(ctx)
}

// Announce sends a system announcement to everyone.
func (h *Hub) Announce(kind string, username string, message string) {
	h.Broadcast(Event{Type: EventSystemAnnouncement, Data: map[string]any{
		"event":     kind,
		"username":  username,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}})
}

// Presence lists known users with their online flag, sorted by username.
func (h *Hub) Presence(ctx context.Context) []domain.UserPresence {
	online := make(map[string]struct{})
	h.mu.RLock()
	for _, username := range h.presence {
		online[username] = struct{}{}
	}
	h.mu.RUnlock()

	var known []domain.User
	if h.directory != nil {
		users, err := h.directory(ctx)
		if err != nil {
			h.log.Warnw("load users for presence", "error", err)
		}
		known = users
	}

	list := make([]domain.UserPresence, 0, len(known)+len(online))
	seen := make(map[string]struct{}, len(known))
	for _, u := range known {
		_, isOnline := online[u.Username]
		list = append(list, domain.UserPresence{Username: u.Username, Role: u.Role, IsOnline: isOnline})
		seen[u.Username] = struct{}{}
	}
	for username := range online {
		if _, ok := seen[username]; !ok {
			list = append(list, domain.UserPresence{Username: username, IsOnline: true})
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
	return list
}

func (h *Hub) broadcastPresence(ctx context.Context) {
	h.Broadcast(Event{Type: EventUserListUpdate, Data: map[string]any{"users": h.Presence(ctx)}})
}

func (h *Hub) deliver(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Errorw("encode event", "type", ev.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.sessions {
		if !s.Deliver(payload) {
			h.metrics.IncDropped()
			h.log.Debugw("session queue full, dropping", "session", id, "type", ev.Type)
		}
	}
}

func (h *Hub) closeSessions() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]Session)
	h.presence = make(map[string]string)
	h.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
	h.metrics.SetSessions(0)
}
