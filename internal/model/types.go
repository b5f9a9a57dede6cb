package model

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation log. Log order is append order.
type Message struct {
	ID          string `json:"id,omitempty"`
	Role        Role   `json:"role"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	IsTemporary bool   `json:"isTemporary,omitempty"`
}

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateOffline      ConnectionState = "offline"
	StateError        ConnectionState = "error"
)

// Snapshot is the read-only view of a session published to the UI.
type Snapshot struct {
	Messages       []Message
	Connection     ConnectionState
	IsTyping       bool
	ConversationID string
	ClientID       string
}

// Clone returns a copy whose message slice is not shared with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}

// Timestamp formats t the way messages carry it on the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

type Conversation struct {
	ID        string
	Messages  []ConversationMessage
	CreatedAt int64
	UpdatedAt int64
}

type ConversationMessage struct {
	Seq       int64  `json:"seq"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}
