package session

import (
	"context"
	"errors"
	"fmt"

	"nexchat/internal/api"
	"nexchat/internal/kvstore"
	"nexchat/internal/model"
)

// hydrate seeds the machine from the store. Faults are logged and replaced by
// defaults; the in-memory state stays authoritative.
func (m *Manager) hydrate(ctx context.Context) {
	mc := m.machine

	var stored []model.Message
	err := kvstore.GetJSON(ctx, m.store, KeyMessages, &stored)
	readable := err == nil || errors.Is(err, kvstore.ErrNotFound)
	if !readable {
		m.log.Error("loading message log failed", "err", err)
		stored = nil
	}
	for _, msg := range stored {
		// no send survives a restart
		if msg.IsTemporary {
			continue
		}
		if msg.ID == "" {
			msg.ID = mc.newID()
		}
		mc.messages = append(mc.messages, msg)
	}
	if len(mc.messages) == 0 {
		mc.messages = []model.Message{mc.welcome()}
		// an unreadable log is left in place for the next start
		if readable {
			_ = m.apply([]effect{persistMessages{}})
		}
	}

	convID, err := m.store.Get(ctx, KeyConversationID)
	switch {
	case err == nil:
		mc.conversationID = convID
	case !errors.Is(err, kvstore.ErrNotFound):
		m.log.Error("loading conversation id failed", "err", err)
	}

	clientID, err := m.store.Get(ctx, KeyClientID)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		m.log.Error("loading client id failed", "err", err)
	}
	if clientID == "" {
		clientID = fmt.Sprintf("mobile-%s-%d", m.opts.Platform, m.opts.Now().UnixMilli())
		if err := m.store.Set(ctx, KeyClientID, clientID); err != nil {
			m.log.Error("persisting client id failed", "err", err)
		}
	}
	mc.clientID = clientID
	m.log = m.log.With("client_id", clientID)
}

// probe reports whether the backend declares itself online.
func (m *Manager) probe(ctx context.Context) bool {
	status, err := m.api.Status(ctx)
	if err != nil {
		m.log.Warn("backend status check failed", "err", err)
		return false
	}
	if status.Server != api.ServerOnline {
		m.log.Warn("backend not online", "server", status.Server)
		return false
	}
	return true
}
