package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/agent-console/backend/internal/model"
)

// sendBufferSize is the per-client outbound queue. A client that cannot keep
// up overflows the queue and is closed rather than blocking the fanout.
const sendBufferSize = 256

// Client is one WebSocket connection. It implements fanout.Subscriber, so
// the bus delivers session events straight into its send queue.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded WebSocket connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Send queues a frame for the write pump. A full queue closes the client:
// broadcast is fire-and-forget and must never block other subscribers.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()
		return fmt.Errorf("client send buffer full")
	}
}

// Close closes the client's send queue. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) sendEnvelope(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// SendLogs implements fanout.Subscriber.
func (c *Client) SendLogs(entries []model.LogEntry) error {
	return c.sendEnvelope(&Envelope{
		Type:    MessageTypeLogs,
		Entries: entries,
	})
}

// SendData implements fanout.Subscriber.
func (c *Client) SendData(data []byte) error {
	return c.sendEnvelope(&Envelope{
		Type: MessageTypeData,
		Data: string(data),
	})
}

// SendMessage implements fanout.Subscriber.
func (c *Client) SendMessage(msg model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.sendEnvelope(&Envelope{
		Type:    MessageTypeMessage,
		Payload: payload,
	})
}

// SendExit implements fanout.Subscriber.
func (c *Client) SendExit(exitCode int) error {
	return c.sendEnvelope(&Envelope{
		Type: MessageTypeExit,
		Code: &exitCode,
	})
}

// SendError reports a failed client request without closing the connection.
func (c *Client) SendError(message string) {
	c.sendEnvelope(&Envelope{
		Type:  MessageTypeError,
		Error: message,
	})
}
