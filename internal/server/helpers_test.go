package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"nexchat/internal/config"
	"nexchat/internal/hub"
	"nexchat/internal/store"
)

type testBackend struct {
	srv   *httptest.Server
	store *store.Store
	hub   *hub.Hub[[]byte]
	cfg   config.Server
}

func newTestBackend(t *testing.T, mutate func(*config.Server)) *testBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Server{
		Port:               3000,
		FileLinkSecret:     "secret",
		FileLinkExpiry:     time.Hour,
		UploadDir:          t.TempDir(),
		RateLimitPerMinute: 1000,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv := httptest.NewUnstartedServer(nil)
	cfg.PublicURL = "http://" + srv.Listener.Addr().String()

	b := &testBackend{srv: srv, store: store.New(), hub: hub.New[[]byte](), cfg: cfg}
	srv.Config.Handler = NewRouter(Deps{Store: b.store, Config: cfg, Hub: b.hub})
	srv.Start()
	t.Cleanup(func() {
		b.hub.CloseAll()
		srv.Close()
	})
	return b
}
