package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"nexchat/internal/config"
	"nexchat/internal/handler"
	"nexchat/internal/hub"
	"nexchat/internal/server"
	"nexchat/internal/store"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)
	st := store.NewWithOptions(store.Options{StateFile: cfg.StateFile})
	pushHub := hub.New[[]byte]()
	defer pushHub.CloseAll()

	router := server.NewRouter(server.Deps{
		Store:     st,
		Config:    cfg,
		Hub:       pushHub,
		Responder: handler.EchoResponder{},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	if err := server.Run(ctx, cfg, router); err != nil {
		log.Fatal(err)
	}
}
