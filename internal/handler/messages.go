package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"nexchat/internal/api"
	"nexchat/internal/model"
	"nexchat/internal/store"
)

type MessagesHandler struct {
	Store *store.Store
}

func (h *MessagesHandler) List(c *gin.Context) {
	conversationID := c.Param("conversationId")

	after := int64(0)
	if raw := c.Query("after_seq"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid after_seq"})
			return
		}
		after = v
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 500 {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid limit"})
			return
		}
		limit = v
	}

	msgs, err := h.Store.ListMessages(conversationID, after, limit)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "Conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
		return
	}

	if msgs == nil {
		msgs = []model.ConversationMessage{}
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, api.HistoryResponse{ConversationID: conversationID, Messages: msgs})
}

// Delete drops a conversation and its message log. Sockets bound to it stay
// open; a later association recreates the conversation empty.
func (h *MessagesHandler) Delete(c *gin.Context) {
	if !h.Store.DeleteConversation(c.Param("conversationId")) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "Conversation not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
