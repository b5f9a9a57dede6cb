package store

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nexchat/internal/model"
)

var ErrNotFound = errors.New("conversation not found")

// Store keeps conversations of the development backend in memory, optionally
// mirrored to a JSON state file.
type Store struct {
	mu sync.RWMutex

	stateFile string
	persistMu sync.Mutex

	conversationsByID map[string]model.Conversation

	messages *messageStore
	seq      *seqGenerator
}

func New() *Store {
	return NewWithOptions(Options{})
}

type Options struct {
	StateFile string
}

func NewWithOptions(opts Options) *Store {
	s := &Store{
		conversationsByID: make(map[string]model.Conversation),
		messages:          newMessageStore(),
		seq:               newSeqGenerator(),
		stateFile:         opts.StateFile,
	}

	if s.stateFile != "" {
		if err := s.loadFromFile(s.stateFile); err != nil {
			log.Printf("conversation persistence: load failed (%s): %v", s.stateFile, err)
		}
	}

	return s
}

type persistedStateFile struct {
	Version       int                     `json:"version"`
	Conversations []persistedConversation `json:"conversations"`
	SavedAt       int64                   `json:"savedAt"`
}

type persistedConversation struct {
	ID        string                      `json:"id"`
	Messages  []model.ConversationMessage `json:"messages"`
	CreatedAt int64                       `json:"createdAt"`
	UpdatedAt int64                       `json:"updatedAt"`
}

func (s *Store) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedStateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported conversation state version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range file.Conversations {
		if c.ID == "" {
			continue
		}
		s.conversationsByID[c.ID] = model.Conversation{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
		for _, msg := range c.Messages {
			s.messages.append(c.ID, msg)
			s.seq.advance(c.ID, msg.Seq)
		}
	}
	return nil
}

func (s *Store) snapshotLocked() []persistedConversation {
	result := make([]persistedConversation, 0, len(s.conversationsByID))
	for _, c := range s.conversationsByID {
		result = append(result, persistedConversation{
			ID:        c.ID,
			Messages:  s.messages.all(c.ID),
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *Store) persistSnapshot(conversations []persistedConversation) {
	path := s.stateFile
	if path == "" {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Printf("conversation persistence: mkdir failed (%s): %v", dir, err)
		return
	}

	file := persistedStateFile{Version: 1, Conversations: conversations, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		log.Printf("conversation persistence: marshal failed: %v", err)
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		log.Printf("conversation persistence: create temp failed: %v", err)
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		log.Printf("conversation persistence: chmod temp failed: %v", err)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		log.Printf("conversation persistence: write temp failed: %v", err)
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		log.Printf("conversation persistence: sync temp failed: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		log.Printf("conversation persistence: close temp failed: %v", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		log.Printf("conversation persistence: rename failed: %v", err)
	}
}

// GetOrCreateConversation returns the conversation with the given id. An empty
// id creates a fresh conversation; an unknown id is adopted as-is.
func (s *Store) GetOrCreateConversation(id string, nowMillis int64) (model.Conversation, bool) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	if id != "" {
		if c, ok := s.conversationsByID[id]; ok {
			s.mu.Unlock()
			return c, false
		}
	} else {
		id = uuid.NewString()
	}

	c := model.Conversation{ID: id, CreatedAt: nowMillis, UpdatedAt: nowMillis}
	s.conversationsByID[id] = c
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return c, true
}

func (s *Store) GetConversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversationsByID[id]
	if !ok {
		return model.Conversation{}, false
	}
	c.Messages = s.messages.all(id)
	return c, true
}

func (s *Store) AppendMessage(conversationID string, role model.Role, content string, now time.Time) (model.ConversationMessage, error) {
	s.mu.Lock()
	c, ok := s.conversationsByID[conversationID]
	if !ok {
		s.mu.Unlock()
		return model.ConversationMessage{}, ErrNotFound
	}

	msg := model.ConversationMessage{
		Seq:       s.seq.next(conversationID),
		Role:      role,
		Content:   content,
		Timestamp: model.Timestamp(now),
	}
	s.messages.append(conversationID, msg)
	c.UpdatedAt = now.UnixMilli()
	s.conversationsByID[conversationID] = c
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return msg, nil
}

// ListMessages returns up to limit messages with a seq above after.
func (s *Store) ListMessages(conversationID string, after int64, limit int) ([]model.ConversationMessage, error) {
	s.mu.RLock()
	_, ok := s.conversationsByID[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if limit <= 0 {
		limit = 100
	}
	return s.messages.getAfter(conversationID, after, limit), nil
}

func (s *Store) DeleteConversation(id string) bool {
	s.mu.Lock()
	if _, ok := s.conversationsByID[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.conversationsByID, id)
	s.messages.deleteConversation(id)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return true
}
