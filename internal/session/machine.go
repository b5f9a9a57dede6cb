package session

import (
	"strings"
	"time"

	"nexchat/internal/api"
	"nexchat/internal/model"
	"nexchat/internal/realtime"
)

// Effects are side effects requested by a transition. The Manager executes
// them in order after the transition has been applied.
type effect interface{ isEffect() }

type (
	persistMessages       struct{}
	persistConversationID struct{ id string }
	removeConversationID  struct{}
	dialChannel           struct{ url string }
	sendAssociation       struct{ payload realtime.Association }
	scheduleReconnect     struct{ delay time.Duration }
	dispatchSend          struct {
		req   api.SendRequest
		id    string
		epoch uint64
	}
)

func (persistMessages) isEffect()       {}
func (persistConversationID) isEffect() {}
func (removeConversationID) isEffect()  {}
func (dialChannel) isEffect()           {}
func (sendAssociation) isEffect()       {}
func (scheduleReconnect) isEffect()     {}
func (dispatchSend) isEffect()          {}

type pendingSend struct {
	id    string
	epoch uint64
}

// machine holds the session state. Its methods are pure transitions: they
// mutate the machine and return effects, and never perform I/O.
type machine struct {
	opts  Options
	newID func() string

	messages       []model.Message
	conn           model.ConnectionState
	typing         bool
	conversationID string
	clientID       string

	retry   int
	epoch   uint64
	pending *pendingSend
}

func newMachine(opts Options, newID func() string) *machine {
	return &machine{opts: opts, newID: newID, conn: model.StateDisconnected}
}

func (m *machine) snapshot() model.Snapshot {
	return model.Snapshot{
		Messages:       append([]model.Message(nil), m.messages...),
		Connection:     m.conn,
		IsTyping:       m.typing,
		ConversationID: m.conversationID,
		ClientID:       m.clientID,
	}
}

func (m *machine) now() string { return model.Timestamp(m.opts.Now()) }

func (m *machine) welcome() model.Message {
	return model.Message{ID: m.newID(), Role: model.RoleAssistant, Content: m.opts.WelcomeText, Timestamp: m.now()}
}

func (m *machine) appendMessage(role model.Role, content, timestamp string, temporary bool) model.Message {
	if timestamp == "" {
		timestamp = m.now()
	}
	msg := model.Message{ID: m.newID(), Role: role, Content: content, Timestamp: timestamp, IsTemporary: temporary}
	m.messages = append(m.messages, msg)
	return msg
}

func (m *machine) removeTemporaries() bool {
	kept := m.messages[:0]
	removed := false
	for _, msg := range m.messages {
		if msg.IsTemporary {
			removed = true
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return removed
}

func (m *machine) hasAssistant(content string, from int) bool {
	for i := from; i < len(m.messages); i++ {
		msg := m.messages[i]
		if msg.Role == model.RoleAssistant && !msg.IsTemporary && msg.Content == content {
			return true
		}
	}
	return false
}

func (m *machine) answeredAfter(from int) bool {
	for i := from; i < len(m.messages); i++ {
		if m.messages[i].Role == model.RoleAssistant && !m.messages[i].IsTemporary {
			return true
		}
	}
	return false
}

func (m *machine) indexOf(id string) int {
	for i, msg := range m.messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// adoptConversation sets the conversation id only when none is held.
func (m *machine) adoptConversation(id string) []effect {
	if id == "" || m.conversationID != "" {
		return nil
	}
	m.conversationID = id
	return []effect{persistConversationID{id: id}}
}

func (m *machine) connect() ([]effect, error) {
	url, err := realtime.URL(m.opts.BaseURL, m.clientID, m.conversationID)
	if err != nil {
		m.conn = model.StateError
		return nil, err
	}
	m.conn = model.StateConnecting
	return []effect{dialChannel{url: url}}, nil
}

func (m *machine) opened() []effect {
	m.conn = model.StateConnected
	m.retry = 0
	if m.conversationID == "" {
		return nil
	}
	return []effect{sendAssociation{payload: realtime.Association{
		ConversationID: m.conversationID,
		ClientID:       m.clientID,
	}}}
}

func (m *machine) errored() {
	m.conn = model.StateError
}

func (m *machine) closed(code int) []effect {
	if m.conn != model.StateError {
		m.conn = model.StateOffline
	}
	if code == realtime.CloseNormal {
		return nil
	}
	m.retry++
	return []effect{scheduleReconnect{delay: Backoff(m.retry, m.opts.BackoffBase, m.opts.BackoffMax)}}
}

func (m *machine) inbound(in realtime.Inbound) []effect {
	switch in.Type {
	case realtime.TypeMessage:
		return m.deliverAssistant(in.Content, in.Timestamp)
	case realtime.TypeConnectionStatus:
		if in.Status != "" {
			m.conn = model.ConnectionState(in.Status)
		}
	case realtime.TypeAssociationSuccess:
		return m.adoptConversation(in.ConversationID)
	case realtime.TypeMessageHistory:
		if latest, ok := in.LatestAssistant(); ok {
			return m.deliverAssistant(latest.Content, latest.Timestamp)
		}
	}
	return nil
}

// deliverAssistant applies a pushed assistant answer. Content already in the
// log is never appended twice; a pushed answer still settles a processing
// placeholder.
func (m *machine) deliverAssistant(content, timestamp string) []effect {
	if content == "" {
		return nil
	}
	if m.hasAssistant(content, 0) {
		if m.pending == nil && m.removeTemporaries() {
			m.typing = false
			return []effect{persistMessages{}}
		}
		return nil
	}
	m.removeTemporaries()
	m.appendMessage(model.RoleAssistant, content, timestamp, false)
	if m.pending == nil {
		m.typing = false
	}
	return []effect{persistMessages{}}
}

// send appends the optimistic user entry and requests the HTTP call.
func (m *machine) send(content string) (bool, []effect) {
	if strings.TrimSpace(content) == "" || m.typing {
		return false, nil
	}

	history := m.messages
	if limit := m.opts.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	entries := make([]api.HistoryEntry, 0, len(history))
	for _, msg := range history {
		entries = append(entries, api.HistoryEntry{Role: msg.Role, Content: msg.Content})
	}

	var convID *string
	if m.conversationID != "" {
		id := m.conversationID
		convID = &id
	}

	user := m.appendMessage(model.RoleUser, content, "", false)
	m.typing = true
	m.pending = &pendingSend{id: user.ID, epoch: m.epoch}

	return true, []effect{
		persistMessages{},
		dispatchSend{
			req:   api.SendRequest{Message: content, ConversationHistory: entries, ConversationID: convID},
			id:    user.ID,
			epoch: m.epoch,
		},
	}
}

// sendResult reconciles a resolved HTTP send. Results dispatched before the
// last clear-history are discarded; stale reports whether that happened.
func (m *machine) sendResult(id string, epoch uint64, resp api.SendResponse, sendErr error) (effects []effect, stale bool) {
	if epoch != m.epoch {
		return nil, true
	}
	if m.pending != nil && m.pending.id == id {
		m.pending = nil
	}

	if sendErr != nil {
		m.removeTemporaries()
		m.appendMessage(model.RoleAssistant, m.opts.ApologyText, "", false)
		m.typing = false
		return []effect{persistMessages{}}, false
	}

	effects = m.adoptConversation(resp.ConversationID)

	if resp.Status == api.StatusProcessing {
		// the push may have overtaken the response
		if idx := m.indexOf(id); idx >= 0 && m.answeredAfter(idx+1) {
			m.typing = false
			return append(effects, persistMessages{}), false
		}
		text := resp.Response
		if text == "" {
			text = m.opts.ProcessingText
		}
		m.appendMessage(model.RoleAssistant, text, "", true)
		return append(effects, persistMessages{}), false
	}

	m.removeTemporaries()
	from := m.indexOf(id) + 1
	if resp.Response != "" && !m.hasAssistant(resp.Response, from) {
		m.appendMessage(model.RoleAssistant, resp.Response, "", false)
	}
	m.typing = false
	return append(effects, persistMessages{}), false
}

func (m *machine) clearHistory() []effect {
	m.messages = []model.Message{m.welcome()}
	m.conversationID = ""
	m.typing = false
	m.pending = nil
	m.epoch++
	return []effect{persistMessages{}, removeConversationID{}}
}
