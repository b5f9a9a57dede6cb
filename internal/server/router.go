package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"nexchat/internal/api"
	"nexchat/internal/auth"
	"nexchat/internal/config"
	"nexchat/internal/handler"
	"nexchat/internal/hub"
	"nexchat/internal/middleware"
	"nexchat/internal/store"
)

type Deps struct {
	Store     *store.Store
	Config    config.Server
	Hub       *hub.Hub[[]byte]
	Responder handler.Responder
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Hub == nil {
		deps.Hub = hub.New[[]byte]()
	}
	if deps.Responder == nil {
		deps.Responder = handler.EchoResponder{}
	}
	cfg := deps.Config
	tokenCfg := auth.TokenConfig{Secret: cfg.FileLinkSecret, Expiry: cfg.FileLinkExpiry, Issuer: "nexchat"}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	statusHandler := &handler.StatusHandler{}
	r.GET(api.PathStatus, statusHandler.Get)

	chatLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	chatHandler := &handler.ChatHandler{
		Store:           deps.Store,
		Hub:             deps.Hub,
		Responder:       deps.Responder,
		ProcessingDelay: cfg.ProcessingDelay,
	}
	r.POST(api.PathChat, middleware.RateLimitMiddleware(chatLimiter), chatHandler.Send)

	messagesHandler := &handler.MessagesHandler{Store: deps.Store}
	r.GET(api.PathMessages+"/:conversationId", messagesHandler.List)
	r.DELETE(api.PathMessages+"/:conversationId", messagesHandler.Delete)

	uploadHandler := &handler.UploadHandler{Dir: cfg.UploadDir, PublicURL: cfg.PublicURL, TokenConfig: tokenCfg}
	r.POST(api.PathUpload, middleware.RateLimitMiddleware(chatLimiter), uploadHandler.Upload)
	r.GET("/files/:name", middleware.RequireFileToken(tokenCfg), uploadHandler.Download)

	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, Store: deps.Store}
	r.GET("/ws/:clientId", wsHandler.Serve)

	return r
}
