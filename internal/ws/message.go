// Package ws provides the WebSocket transport: one duplex connection per
// client, subscribed to at most one session at a time.
package ws

import (
	"encoding/json"

	"github.com/agent-console/backend/internal/model"
)

// MessageType identifies a WebSocket envelope.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeInput       MessageType = "input"
	MessageTypeResize      MessageType = "resize"
	MessageTypePing        MessageType = "ping"

	// Server -> Client message types
	MessageTypeLogs    MessageType = "logs"
	MessageTypeData    MessageType = "data"
	MessageTypeMessage MessageType = "message"
	MessageTypeExit    MessageType = "exit"
	MessageTypeError   MessageType = "error"
	MessageTypePong    MessageType = "pong"
)

// Envelope is the wire format for all WebSocket messages in both directions.
type Envelope struct {
	Type      MessageType      `json:"type"`
	SessionID string           `json:"sessionId,omitempty"`
	Data      string           `json:"data,omitempty"`
	Cols      uint16           `json:"cols,omitempty"`
	Rows      uint16           `json:"rows,omitempty"`
	Entries   []model.LogEntry `json:"entries,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Code      *int             `json:"code,omitempty"`
	Error     string           `json:"error,omitempty"`
}
