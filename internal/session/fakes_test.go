package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nexchat/internal/api"
	"nexchat/internal/kvstore"
	"nexchat/internal/realtime"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

type fakeConn struct {
	frames chan []byte
	drops  chan error
	done   chan struct{}

	mu     sync.Mutex
	writes []any
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		drops:  make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.frames:
		return d, nil
	case err := <-c.drops:
		return nil, err
	case <-c.done:
		return nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) push(payload string) { c.frames <- []byte(payload) }

// drop simulates the server closing the socket with code.
func (c *fakeConn) drop(code int) { c.drops <- &websocket.CloseError{Code: code} }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) written() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.writes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	fail  bool
}

func (d *fakeDialer) Dial(_ context.Context, url string) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) urlList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

type fakeAPI struct {
	mu        sync.Mutex
	status    api.StatusResponse
	statusErr error
	sendResp  api.SendResponse
	sendErr   error
	gate      chan struct{}
	sends     []api.SendRequest
	uploadURL string
	uploadErr error
	uploads   []string

	duringUpload func()
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{status: api.StatusResponse{Server: api.ServerOnline}}
}

func (a *fakeAPI) Status(context.Context) (api.StatusResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, a.statusErr
}

func (a *fakeAPI) SendMessage(ctx context.Context, req api.SendRequest) (api.SendResponse, error) {
	a.mu.Lock()
	a.sends = append(a.sends, req)
	gate := a.gate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return api.SendResponse{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sendResp, a.sendErr
}

func (a *fakeAPI) Upload(_ context.Context, f api.File, _ string) (api.UploadResponse, error) {
	a.mu.Lock()
	during := a.duringUpload
	a.mu.Unlock()
	if during != nil {
		during()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploads = append(a.uploads, f.Name)
	if a.uploadErr != nil {
		return api.UploadResponse{}, a.uploadErr
	}
	return api.UploadResponse{FileURL: a.uploadURL}, nil
}

func (a *fakeAPI) sent() []api.SendRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]api.SendRequest(nil), a.sends...)
}

func (a *fakeAPI) respond(resp api.SendResponse, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendResp, a.sendErr = resp, err
}

// failingStore fails every write while keeping reads working.
type failingStore struct {
	*kvstore.Memory
	failWrites atomic.Bool
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.failWrites.Load() {
		return errors.New("disk full")
	}
	return s.Memory.Set(ctx, key, value)
}

func (s *failingStore) Remove(ctx context.Context, key string) error {
	if s.failWrites.Load() {
		return errors.New("disk full")
	}
	return s.Memory.Remove(ctx, key)
}

// brokenReadStore fails reads of one key while the stored value stays intact.
type brokenReadStore struct {
	*kvstore.Memory
	key string
}

func (s *brokenReadStore) Get(ctx context.Context, key string) (string, error) {
	if key == s.key {
		return "", errors.New("i/o timeout")
	}
	return s.Memory.Get(ctx, key)
}

type harness struct {
	m      *Manager
	api    *fakeAPI
	dialer *fakeDialer
	store  kvstore.Store
	opts   Options
}

func newHarness(t *testing.T, store kvstore.Store, mutate ...func(*harness)) *harness {
	t.Helper()
	if store == nil {
		store = kvstore.NewMemory()
	}
	h := &harness{api: newFakeAPI(), dialer: &fakeDialer{}, store: store, opts: Options{
		BaseURL:     "http://example.test",
		Platform:    "testos",
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  40 * time.Millisecond,
		Now:         func() time.Time { return fixedNow },
	}}
	for _, fn := range mutate {
		fn(h)
	}
	h.m = New(Deps{
		Store:  h.store,
		API:    h.api,
		Dialer: h.dialer,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, h.opts)
	t.Cleanup(h.m.Close)
	return h
}

func contents(m *Manager) []string {
	snap := m.Snapshot()
	out := make([]string, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		out = append(out, string(msg.Role)+":"+msg.Content)
	}
	return out
}

func countContent(m *Manager, content string) int {
	n := 0
	for _, c := range contents(m) {
		if strings.HasSuffix(c, ":"+content) {
			n++
		}
	}
	return n
}
