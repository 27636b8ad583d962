package model

import "time"

// MessageRole classifies a reconstructed conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// Message is a conversation message reconstructed from raw terminal output.
// Assistant messages grow across chunks while IsStreaming is true and are
// immutable once it drops to false. Tool and system messages are complete on
// emission.
type Message struct {
	ID          string      `json:"id"`
	Role        MessageRole `json:"role"`
	Content     string      `json:"content"`
	ToolName    string      `json:"toolName,omitempty"`
	ToolInput   string      `json:"toolInput,omitempty"`
	IsStreaming bool        `json:"isStreaming"`
	Timestamp   time.Time   `json:"timestamp"`
}
