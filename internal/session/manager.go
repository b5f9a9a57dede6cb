// Package session owns a chat session: the realtime connection lifecycle,
// the local message log and the send pipeline. All state transitions run on
// a single event loop; the UI reads published snapshots and calls actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nexchat/internal/api"
	"nexchat/internal/attachment"
	"nexchat/internal/hub"
	"nexchat/internal/kvstore"
	"nexchat/internal/model"
	"nexchat/internal/realtime"
)

var (
	ErrClosed  = errors.New("session: manager closed")
	ErrStarted = errors.New("session: manager already started")
	ErrUpload  = errors.New("session: attachment upload failed")
	ErrBusy    = errors.New("session: a send is already in flight")
)

const snapshotKey = "snapshot"

// API is the request/response transport used by the Manager.
type API interface {
	SendMessage(ctx context.Context, req api.SendRequest) (api.SendResponse, error)
	Status(ctx context.Context) (api.StatusResponse, error)
	Upload(ctx context.Context, f api.File, conversationID string) (api.UploadResponse, error)
}

type Deps struct {
	Store  kvstore.Store
	API    API
	Dialer realtime.Dialer
	Logger *slog.Logger
}

type event struct {
	fn   func()
	done chan struct{}
}

type Manager struct {
	store  kvstore.Store
	api    API
	dialer realtime.Dialer
	log    *slog.Logger
	opts   Options

	hub *hub.Hub[model.Snapshot]

	lifecycleMu sync.Mutex
	started     atomic.Bool
	closed      atomic.Bool

	events chan event
	quit   chan struct{}
	done   chan struct{}

	// ctx bounds every goroutine spawned for dials and sends.
	ctx    context.Context
	cancel context.CancelFunc

	snapMu sync.RWMutex
	snap   model.Snapshot

	// Owned by the event loop.
	machine      *machine
	conn         realtime.Conn
	connGen      uint64
	reconnect    *time.Timer
	reconnectSeq uint64
}

func New(deps Deps, opts Options) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Dialer == nil {
		deps.Dialer = realtime.WebsocketDialer{}
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		store:  deps.Store,
		api:    deps.API,
		dialer: deps.Dialer,
		log:    logger,
		opts:   opts,
		hub:    hub.New[model.Snapshot](),
		events: make(chan event),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	m.machine = newMachine(opts, uuid.NewString)
	m.snap = m.machine.snapshot()
	return m
}

// Start hydrates the session from the store, probes the backend and, when it
// is online, opens the realtime channel. The probe is not retried.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if m.started.Load() {
		return ErrStarted
	}

	m.hydrate(ctx)
	online := m.probe(ctx)
	if !online {
		m.machine.errored()
	}
	m.publish()

	go m.run()
	m.started.Store(true)

	if online {
		m.call(m.connect)
	}
	return nil
}

// Close tears the session down. It is safe to call more than once.
func (m *Manager) Close() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.closed.Swap(true) {
		return
	}
	if m.started.Load() {
		close(m.quit)
		<-m.done
	} else {
		m.cancel()
	}
	m.hub.CloseAll()
}

func (m *Manager) Snapshot() model.Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.Clone()
}

// Subscribe returns a latest-value feed of snapshots, primed with the current one.
func (m *Manager) Subscribe() *hub.Subscription[model.Snapshot] {
	sub := m.hub.Subscribe(snapshotKey)
	_ = sub.Write(m.Snapshot())
	if m.closed.Load() {
		sub.Stop()
	}
	return sub
}

// Send submits trimmed text. It reports false when the text is empty, a send
// is already in flight, or the manager is not running.
func (m *Manager) Send(text string) bool {
	return m.submitSend(strings.TrimSpace(text))
}

// SendAttachment submits text with an already uploaded file reference.
func (m *Manager) SendAttachment(text, fileURL string) bool {
	return m.submitSend(attachment.Compose(strings.TrimSpace(text), fileURL))
}

// SendFile uploads f and sends text with the resulting reference. An upload
// failure aborts the send and is returned wrapped in ErrUpload. When the
// session closes or another send starts while the upload runs, the uploaded
// file is not sent and ErrClosed or ErrBusy is returned.
func (m *Manager) SendFile(ctx context.Context, text string, f api.File) (bool, error) {
	snap := m.Snapshot()
	if snap.IsTyping || !m.running() {
		return false, nil
	}
	resp, err := m.api.Upload(ctx, f, snap.ConversationID)
	if err != nil {
		m.log.Warn("attachment upload failed", "file", f.Name, "err", err)
		return false, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if m.SendAttachment(text, resp.FileURL) {
		return true, nil
	}
	if !m.running() {
		return false, ErrClosed
	}
	m.log.Warn("attachment uploaded but not sent", "file", f.Name, "url", resp.FileURL)
	return false, fmt.Errorf("%w: %s uploaded to %s", ErrBusy, f.Name, resp.FileURL)
}

// ClearHistory resets the log to the welcome message and forgets the
// conversation id. It reports false only on persistence faults.
func (m *Manager) ClearHistory() bool {
	ok := false
	ran := m.call(func() {
		effects := m.machine.clearHistory()
		ok = m.apply(effects) == nil
	})
	return ran && ok
}

// Reconnect restarts the connecting sequence immediately.
func (m *Manager) Reconnect() {
	m.call(m.connect)
}

func (m *Manager) running() bool {
	return m.started.Load() && !m.closed.Load()
}

func (m *Manager) submitSend(content string) bool {
	accepted := false
	ran := m.call(func() {
		ok, effects := m.machine.send(content)
		if !ok {
			return
		}
		accepted = true
		_ = m.apply(effects)
	})
	return ran && accepted
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case ev := <-m.events:
			ev.fn()
			m.publish()
			if ev.done != nil {
				close(ev.done)
			}
		case <-m.quit:
			m.teardown()
			return
		}
	}
}

// post queues fn on the event loop without waiting for it.
func (m *Manager) post(fn func()) bool {
	if !m.started.Load() {
		return false
	}
	select {
	case m.events <- event{fn: fn}:
		return true
	case <-m.done:
		return false
	}
}

// call runs fn on the event loop and waits until its snapshot is published.
func (m *Manager) call(fn func()) bool {
	if !m.started.Load() {
		return false
	}
	ev := event{fn: fn, done: make(chan struct{})}
	select {
	case m.events <- ev:
	case <-m.done:
		return false
	}
	select {
	case <-ev.done:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) publish() {
	snap := m.machine.snapshot()
	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()
	m.hub.Broadcast(snapshotKey, snap.Clone())
}

func (m *Manager) teardown() {
	m.cancelReconnect()
	m.closeConn()
	m.cancel()
	m.log.Info("session closed")
}

func (m *Manager) connect() {
	m.cancelReconnect()
	m.closeConn()
	effects, err := m.machine.connect()
	if err != nil {
		m.log.Error("cannot build realtime url", "err", err)
	}
	_ = m.apply(effects)
}

func (m *Manager) closeConn() {
	m.connGen++
	if m.conn == nil {
		return
	}
	_ = m.conn.Close()
	m.conn = nil
}

func (m *Manager) cancelReconnect() {
	m.reconnectSeq++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// apply executes effects in order and returns the first persistence error.
func (m *Manager) apply(effects []effect) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, eff := range effects {
		switch e := eff.(type) {
		case persistMessages:
			keep(m.persist(func(ctx context.Context) error {
				return kvstore.SetJSON(ctx, m.store, KeyMessages, m.machine.messages)
			}))
		case persistConversationID:
			keep(m.persist(func(ctx context.Context) error {
				return m.store.Set(ctx, KeyConversationID, e.id)
			}))
		case removeConversationID:
			keep(m.persist(func(ctx context.Context) error {
				return m.store.Remove(ctx, KeyConversationID)
			}))
		case dialChannel:
			m.dial(e.url)
		case sendAssociation:
			if m.conn == nil {
				continue
			}
			if err := m.conn.WriteJSON(e.payload); err != nil {
				m.log.Warn("association send failed", "conversation_id", e.payload.ConversationID, "err", err)
			}
		case scheduleReconnect:
			m.scheduleReconnect(e.delay)
		case dispatchSend:
			m.dispatch(e)
		}
	}
	return firstErr
}

func (m *Manager) persist(write func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		m.log.Error("persistence write failed", "err", err)
		return err
	}
	return nil
}

func (m *Manager) dial(url string) {
	gen := m.connGen
	m.log.Info("connecting realtime channel", "url", url)
	go func() {
		conn, err := m.dialer.Dial(m.ctx, url)
		if !m.post(func() { m.onDialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) onDialed(gen uint64, conn realtime.Conn, err error) {
	if gen != m.connGen {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn("realtime dial failed", "err", err)
		m.machine.errored()
		_ = m.apply(m.onClosedEffects(realtime.CloseAbnormal))
		return
	}

	m.conn = conn
	go m.readLoop(gen, conn)
	m.log.Info("realtime channel connected", "conversation_id", m.machine.conversationID)
	_ = m.apply(m.machine.opened())
}

func (m *Manager) readLoop(gen uint64, conn realtime.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.post(func() { m.onClosed(gen, err) })
			return
		}
		if !m.post(func() { m.onInbound(gen, data) }) {
			return
		}
	}
}

func (m *Manager) onInbound(gen uint64, data []byte) {
	if gen != m.connGen {
		return
	}
	in, err := realtime.Decode(data)
	if err != nil {
		m.log.Warn("dropping malformed realtime payload", "err", err)
		return
	}
	m.log.Debug("realtime payload", "type", in.Type)
	_ = m.apply(m.machine.inbound(in))
}

// onClosed handles the end of a live socket. A failure without a close frame
// is a channel error first, then an abnormal closure.
func (m *Manager) onClosed(gen uint64, err error) {
	if gen != m.connGen {
		return
	}
	m.conn = nil
	m.connGen++
	if realtime.TransportFailure(err) {
		m.log.Warn("realtime transport error", "err", err)
		m.machine.errored()
	}
	_ = m.apply(m.onClosedEffects(realtime.CloseCode(err)))
}

func (m *Manager) onClosedEffects(code int) []effect {
	effects := m.machine.closed(code)
	m.log.Info("realtime channel closed", "code", code, "state", m.machine.conn, "retry", m.machine.retry)
	return effects
}

func (m *Manager) scheduleReconnect(delay time.Duration) {
	m.cancelReconnect()
	seq := m.reconnectSeq
	m.log.Info("scheduling reconnect", "delay", delay)
	m.reconnect = time.AfterFunc(delay, func() {
		m.post(func() {
			if seq != m.reconnectSeq {
				return
			}
			m.reconnect = nil
			m.connect()
		})
	})
}

func (m *Manager) dispatch(e dispatchSend) {
	go func() {
		resp, err := m.api.SendMessage(m.ctx, e.req)
		if err != nil {
			m.log.Warn("send failed", "err", err)
		}
		m.post(func() {
			effects, stale := m.machine.sendResult(e.id, e.epoch, resp, err)
			if stale {
				m.log.Info("discarding send result from before history was cleared")
				return
			}
			_ = m.apply(effects)
		})
	}()
}
