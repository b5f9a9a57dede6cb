package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"nexchat/internal/api"
	"nexchat/internal/hub"
	"nexchat/internal/model"
	"nexchat/internal/realtime"
	"nexchat/internal/store"
)

const replyTimeout = 30 * time.Second

// ChatHandler accepts user messages. With a processing delay and a socket
// bound to the conversation the answer is pushed later; otherwise it is
// returned in the response body.
type ChatHandler struct {
	Store           *store.Store
	Hub             *hub.Hub[[]byte]
	Responder       Responder
	ProcessingDelay time.Duration
	Now             func() time.Time
}

func (h *ChatHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *ChatHandler) Send(c *gin.Context) {
	var body api.SendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request"})
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Message is required"})
		return
	}

	var requested string
	if body.ConversationID != nil {
		requested = *body.ConversationID
	}
	now := h.now()
	conv, _ := h.Store.GetOrCreateConversation(requested, now.UnixMilli())
	if _, err := h.Store.AppendMessage(conv.ID, model.RoleUser, body.Message, now); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
		return
	}

	if h.ProcessingDelay > 0 && h.Hub.Count(conv.ID) > 0 {
		time.AfterFunc(h.ProcessingDelay, func() { h.deliver(conv.ID, body) })
		c.JSON(http.StatusOK, api.SendResponse{Status: api.StatusProcessing, ConversationID: conv.ID})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), replyTimeout)
	defer cancel()
	reply, err := h.Responder.Reply(ctx, body.Message, body.ConversationHistory)
	if err != nil {
		c.JSON(http.StatusBadGateway, api.ErrorResponse{Error: "Assistant unavailable"})
		return
	}
	if _, err := h.Store.AppendMessage(conv.ID, model.RoleAssistant, reply, h.now()); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, api.SendResponse{Response: reply, ConversationID: conv.ID})
}

func (h *ChatHandler) deliver(conversationID string, body api.SendRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	reply, err := h.Responder.Reply(ctx, body.Message, body.ConversationHistory)
	if err != nil {
		log.Printf("chat: deferred reply failed (%s): %v", conversationID, err)
		return
	}
	stored, err := h.Store.AppendMessage(conversationID, model.RoleAssistant, reply, h.now())
	if err != nil {
		log.Printf("chat: store reply failed (%s): %v", conversationID, err)
		return
	}

	out, _ := json.Marshal(realtime.Inbound{
		Type:      realtime.TypeMessage,
		Content:   stored.Content,
		Timestamp: stored.Timestamp,
	})
	h.Hub.Broadcast(conversationID, out)
}
