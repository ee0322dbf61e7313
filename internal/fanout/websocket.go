package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stockroom/backend/internal/xid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

type wsSession struct {
	id        string
	username  string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (s *wsSession) ID() string {
	return s.id
}

func (s *wsSession) Deliver(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *wsSession) Close() {
	s.closeOnce.Do(func() { close(s.send) })
}

type clientMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// Upgrader builds the websocket upgrader. allowedOrigin empty means same-origin
// only.
func Upgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if allowedOrigin != "" && origin == allowedOrigin {
				return true
			}
			return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
		},
	}
}

// ServeWS upgrades the request and attaches the connection. A non-empty
// username identifies the session immediately and pins it: later identify
// messages naming someone else are ignored. Anonymous sessions identify with
// {"type":"identify","username":...}.
func (h *Hub) ServeWS(upgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, username string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	s := &wsSession{id: xid.Session(), username: username, conn: conn, send: make(chan []byte, sendBuffer)}
	h.Attach(s)
	if username != "" {
		h.Identify(r.Context(), s.id, username)
	}

	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) readPump(s *wsSession) {
	defer func() {
		h.Detach(context.Background(), s.id)
		s.Close()
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugw("websocket closed", "session", s.id, "error", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "identify" {
			continue
		}
		name, ok := identityFor(s.username, msg.Username)
		if !ok {
			h.log.Warnw("ignoring identify for another user", "session", s.id, "user", s.username, "claimed", msg.Username)
			continue
		}
		h.Identify(context.Background(), s.id, name)
	}
}

// identityFor resolves the username an identify message may bind. A session
// opened with a token can only re-identify as its own user.
func identityFor(authenticated string, claimed string) (string, bool) {
	claimed = strings.TrimSpace(claimed)
	if authenticated == "" {
		return claimed, claimed != ""
	}
	if claimed != "" && !strings.EqualFold(claimed, authenticated) {
		return "", false
	}
	return authenticated, true
}

func (h *Hub) writePump(s *wsSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
