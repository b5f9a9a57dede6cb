package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"nexchat/internal/api"
	"nexchat/internal/hub"
	"nexchat/internal/realtime"
	"nexchat/internal/store"
)

// WebSocketHandler serves the push channel. A socket receives the pushes of
// the conversation it is bound to, either through the conversation_id query
// parameter or a later association payload.
type WebSocketHandler struct {
	Hub   *hub.Hub[[]byte]
	Store *store.Store
}

// clientMessage is either {"type":"ping"} or an association, which carries
// no type.
type clientMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
}

const historyReplayLimit = 100

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.Write(data)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	clientID := c.Param("clientId")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Missing client id"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	writer := &wsWriter{conn: ws}

	var bound *hub.Connection[[]byte]
	bind := func(conversationID string) {
		if bound != nil {
			if bound.Key == conversationID {
				return
			}
			h.Hub.Unregister(bound)
		}
		bound = &hub.Connection[[]byte]{Key: conversationID, Writer: writer}
		h.Hub.Register(bound)
	}
	defer func() {
		if bound != nil {
			h.Hub.Unregister(bound)
		}
		_ = ws.Close()
	}()

	if conversationID := c.Query("conversation_id"); conversationID != "" {
		if _, ok := h.Store.GetConversation(conversationID); ok {
			bind(conversationID)
		}
	}

	_ = writer.writeJSON(realtime.Inbound{
		Type:    realtime.TypeConnectionStatus,
		Status:  "connected",
		Message: "Connected to the chat server",
	})

	ws.SetReadLimit(1024 * 1024)
	const pongWait = 60 * time.Second
	const writeWait = 10 * time.Second
	pingPeriod := (pongWait * 9) / 10

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch {
		case msg.Type == "ping":
			_ = writer.writeJSON(map[string]string{"type": "pong"})
		case msg.Type == "" && msg.ConversationID != "":
			conv, _ := h.Store.GetOrCreateConversation(msg.ConversationID, time.Now().UnixMilli())
			bind(conv.ID)
			_ = writer.writeJSON(realtime.Inbound{
				Type:           realtime.TypeAssociationSuccess,
				ConversationID: conv.ID,
			})

			full, ok := h.Store.GetConversation(conv.ID)
			if !ok {
				continue
			}
			msgs := full.Messages
			if len(msgs) > historyReplayLimit {
				msgs = msgs[len(msgs)-historyReplayLimit:]
			}
			history := make([]realtime.HistoryMessage, 0, len(msgs))
			for _, m := range msgs {
				history = append(history, realtime.HistoryMessage{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
			}
			_ = writer.writeJSON(realtime.Inbound{
				Type:           realtime.TypeMessageHistory,
				ConversationID: conv.ID,
				Messages:       history,
			})
		}
	}
}
