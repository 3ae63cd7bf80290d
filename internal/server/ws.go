package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// deliverTimeout bounds one caption write to a subscriber. A client that
// cannot keep up within this window is dropped by the hub.
const deliverTimeout = 5 * time.Second

// clientMessage is the JSON shape of messages arriving on the caption feed.
type clientMessage struct {
	Type string `json:"type"`
}

// handleWS upgrades the connection and registers it as a hub subscriber. The
// handler blocks in the read loop until the client disconnects; captions flow
// the other way through [subscriber.Deliver].
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The overlay runs as a local OBS browser source, which presents no
		// usable Origin header.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("ws: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
	}
	s.hub.Subscribe(sub)
	defer func() {
		s.hub.Unsubscribe(sub.id)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	s.readLoop(r.Context(), sub)
}

// readLoop consumes client messages until the connection drops. Recognised
// types are "ping", answered with a pong, and "toggle", forwarded to the
// pipeline. Everything else is ignored.
func (s *Server) readLoop(ctx context.Context, sub *subscriber) {
	for {
		typ, data, err := sub.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("ws: ignoring malformed message", "id", sub.id, "err", err)
			continue
		}

		switch msg.Type {
		case "ping":
			if err := sub.Deliver(ctx, []byte(`{"type":"pong"}`)); err != nil {
				return
			}
		case "toggle":
			s.pipe.RequestToggle()
		default:
			slog.Debug("ws: unknown message type", "id", sub.id, "type", msg.Type)
		}
	}
}

// subscriber adapts one WebSocket connection to the hub's delivery interface.
type subscriber struct {
	id   string
	conn *websocket.Conn

	// writeMu serialises hub deliveries with pong replies; the connection
	// allows only one concurrent writer.
	writeMu sync.Mutex
}

// ID returns the connection's unique identifier.
func (s *subscriber) ID() string { return s.id }

// Deliver writes one encoded caption event to the client. A write that does
// not complete within [deliverTimeout] fails the subscriber.
func (s *subscriber) Deliver(ctx context.Context, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("ws: deliver: %w", err)
	}
	return nil
}
