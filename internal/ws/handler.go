package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-console/backend/internal/fanout"
	"github.com/agent-console/backend/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// replayLimit bounds the history replayed on subscribe.
	replayLimit = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the frontend host is fixed.
		return true
	},
}

// Handler routes WebSocket connections between clients, the session
// registry, and the fanout bus.
type Handler struct {
	registry *session.Registry
	bus      *fanout.Bus
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *session.Registry, bus *fanout.Bus) *Handler {
	return &Handler{
		registry: registry,
		bus:      bus,
	}
}

// HandleConnection upgrades the request and runs the client's pumps. The
// connection starts unsubscribed; the client picks a session with a
// subscribe message.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn)
	go h.writePump(client)
	go h.readPump(client)
	return nil
}

// readPump reads client messages until the connection dies. Every exit path
// runs the deferred unsubscribe, so a disconnected client can never be left
// in the routing table.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.bus.Unsubscribe(client)
		client.Close()
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			client.SendError("invalid message")
			continue
		}
		h.handleEnvelope(client, &env)
	}
}

// handleEnvelope dispatches one client message.
func (h *Handler) handleEnvelope(client *Client, env *Envelope) {
	switch env.Type {
	case MessageTypeSubscribe:
		h.handleSubscribe(client, env.SessionID)

	case MessageTypeUnsubscribe:
		h.bus.Unsubscribe(client)

	case MessageTypeInput:
		h.handleInput(client, env.Data)

	case MessageTypeResize:
		h.handleResize(client, env.Cols, env.Rows)

	case MessageTypePing:
		client.sendEnvelope(&Envelope{Type: MessageTypePong})

	default:
		client.SendError("unknown message type")
	}
}

// handleSubscribe attaches the client to a session. Re-subscribing switches
// sessions; the bus handles detaching from the previous one. The registry
// snapshots the replayed history and attaches the client atomically with
// respect to the session's data path.
func (h *Handler) handleSubscribe(client *Client, sessionID string) {
	if sessionID == "" {
		client.SendError("sessionId is required")
		return
	}
	if err := h.registry.Subscribe(client, sessionID, replayLimit); err != nil {
		client.SendError("session not found")
		return
	}
}

// handleInput forwards input to the subscribed session.
func (h *Handler) handleInput(client *Client, data string) {
	sessionID, ok := h.bus.SessionOf(client)
	if !ok {
		client.SendError("not subscribed to a session")
		return
	}
	if data == "" {
		return
	}
	if err := h.registry.SendInput(sessionID, []byte(data)); err != nil {
		client.SendError(err.Error())
	}
}

// handleResize forwards a terminal resize to the subscribed session.
func (h *Handler) handleResize(client *Client, cols, rows uint16) {
	sessionID, ok := h.bus.SessionOf(client)
	if !ok {
		client.SendError("not subscribed to a session")
		return
	}
	if cols == 0 || rows == 0 {
		return
	}
	if err := h.registry.Resize(sessionID, cols, rows); err != nil {
		client.SendError(err.Error())
	}
}

// writePump drains the client's send queue into the connection and keeps the
// connection alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Each frame is one JSON envelope; keep one envelope per
			// WebSocket message so the peer can parse them independently.
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			n := len(client.send)
			for i := 0; i < n; i++ {
				queued, ok := <-client.send
				if !ok {
					client.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				client.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
