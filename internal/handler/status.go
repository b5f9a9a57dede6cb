package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"nexchat/internal/api"
)

type StatusHandler struct{}

func (h *StatusHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, api.StatusResponse{Server: api.ServerOnline})
}
