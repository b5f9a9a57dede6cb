package store

import (
	"sync"

	"nexchat/internal/model"
)

type messageStore struct {
	mu   sync.RWMutex
	data map[string][]model.ConversationMessage
}

func newMessageStore() *messageStore {
	return &messageStore{data: make(map[string][]model.ConversationMessage)}
}

func (m *messageStore) append(conversationID string, msg model.ConversationMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[conversationID] = append(m.data[conversationID], msg)
}

func (m *messageStore) getAfter(conversationID string, after int64, limit int) []model.ConversationMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.data[conversationID]
	if len(msgs) == 0 {
		return nil
	}

	result := make([]model.ConversationMessage, 0, min(limit, len(msgs)))
	for _, msg := range msgs {
		if msg.Seq > after {
			result = append(result, msg)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

func (m *messageStore) all(conversationID string) []model.ConversationMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ConversationMessage(nil), m.data[conversationID]...)
}

func (m *messageStore) deleteConversation(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, conversationID)
}
