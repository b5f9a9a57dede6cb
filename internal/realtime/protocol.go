// Package realtime implements the push side of the chat backend protocol: a
// websocket at /ws/{clientId} carrying JSON payloads discriminated by "type".
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"nexchat/internal/model"
)

const (
	TypeMessage            = "message"
	TypeConnectionStatus   = "connection_status"
	TypeAssociationSuccess = "association_success"
	TypeMessageHistory     = "message_history"
)

type HistoryMessage struct {
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	Timestamp string     `json:"timestamp,omitempty"`
}

// Inbound is the union of every server-to-client payload.
type Inbound struct {
	Type           string           `json:"type"`
	Content        string           `json:"content,omitempty"`
	Timestamp      string           `json:"timestamp,omitempty"`
	Status         string           `json:"status,omitempty"`
	Message        string           `json:"message,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Messages       []HistoryMessage `json:"messages,omitempty"`
}

// Association binds a socket to an existing conversation. It has no type field.
type Association struct {
	ConversationID string `json:"conversation_id"`
	ClientID       string `json:"client_id"`
}

func Decode(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("realtime: decode payload: %w", err)
	}
	if in.Type == "" {
		return Inbound{}, errors.New("realtime: payload without type")
	}
	return in, nil
}

// LatestAssistant returns the last assistant entry of a history snapshot.
func (in Inbound) LatestAssistant() (HistoryMessage, bool) {
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if in.Messages[i].Role == model.RoleAssistant {
			return in.Messages[i], true
		}
	}
	return HistoryMessage{}, false
}

// URL derives the channel address from the HTTP base address.
func URL(baseURL, clientID, conversationID string) (string, error) {
	if clientID == "" {
		return "", errors.New("realtime: missing client id")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("realtime: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/ws/" + clientID
	u.RawPath = ""
	q := url.Values{}
	if conversationID != "" {
		q.Set("conversation_id", conversationID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
