package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexchat/internal/api"
	"nexchat/internal/model"
	"nexchat/internal/realtime"
)

func newTestMachine() *machine {
	n := 0
	mc := newMachine(Options{
		BaseURL: "https://chat.example",
		Now:     func() time.Time { return fixedNow },
	}.withDefaults(), func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	})
	mc.clientID = "client-1"
	mc.messages = []model.Message{mc.welcome()}
	return mc
}

func TestBackoff(t *testing.T) {
	for n, want := range map[int]time.Duration{
		0:  time.Second,
		1:  2 * time.Second,
		2:  4 * time.Second,
		4:  16 * time.Second,
		5:  30 * time.Second,
		10: 30 * time.Second,
		80: 30 * time.Second,
	} {
		assert.Equal(t, want, Backoff(n, time.Second, 30*time.Second), "retry %d", n)
	}
}

func TestMachine_ConsecutiveAbnormalClosuresBackOff(t *testing.T) {
	mc := newTestMachine()
	for n := 1; n <= 6; n++ {
		effects := mc.closed(realtime.CloseAbnormal)
		require.Len(t, effects, 1)
		want := time.Duration(min(30000, 1000<<n)) * time.Millisecond
		assert.Equal(t, scheduleReconnect{delay: want}, effects[0], "closure %d", n)
	}

	mc.opened()
	assert.Zero(t, mc.retry)
	assert.Equal(t, model.StateConnected, mc.conn)
}

func TestMachine_ConnectBuildsURL(t *testing.T) {
	mc := newTestMachine()
	mc.conversationID = "conv-1"

	effects, err := mc.connect()
	require.NoError(t, err)
	assert.Equal(t, model.StateConnecting, mc.conn)
	assert.Equal(t, []effect{dialChannel{url: "wss://chat.example/ws/client-1?conversation_id=conv-1"}}, effects)

	mc.opts.BaseURL = "::bad"
	_, err = mc.connect()
	require.Error(t, err)
	assert.Equal(t, model.StateError, mc.conn)
}

func TestMachine_NormalCloseDoesNotReconnect(t *testing.T) {
	mc := newTestMachine()
	mc.conn = model.StateConnected
	assert.Empty(t, mc.closed(realtime.CloseNormal))
	assert.Equal(t, model.StateOffline, mc.conn)

	mc.errored()
	mc.closed(realtime.CloseNormal)
	assert.Equal(t, model.StateError, mc.conn)
}

func TestMachine_DedupIgnoresTemporaries(t *testing.T) {
	mc := newTestMachine()
	ok, _ := mc.send("hi")
	require.True(t, ok)
	mc.sendResult("id-2", 0, api.SendResponse{Status: api.StatusProcessing, Response: "Working"}, nil)

	// placeholder text is not a delivered answer
	effects := mc.inbound(realtime.Inbound{Type: realtime.TypeMessage, Content: "Working"})
	assert.Equal(t, []effect{persistMessages{}}, effects)
	require.Len(t, mc.messages, 3)
	assert.False(t, mc.messages[2].IsTemporary)
	assert.False(t, mc.typing)

	assert.Nil(t, mc.inbound(realtime.Inbound{Type: realtime.TypeMessage, Content: "Working"}))
	assert.Len(t, mc.messages, 3)
}

func TestMachine_DuplicatePushSettlesPlaceholder(t *testing.T) {
	mc := newTestMachine()
	mc.inbound(realtime.Inbound{Type: realtime.TypeMessage, Content: "OK"})
	ok, _ := mc.send("again")
	require.True(t, ok)
	mc.sendResult("id-3", 0, api.SendResponse{Status: api.StatusProcessing}, nil)
	require.True(t, mc.typing)
	assert.Equal(t, DefaultProcessingText, mc.messages[len(mc.messages)-1].Content)

	mc.inbound(realtime.Inbound{Type: realtime.TypeMessage, Content: "OK"})
	assert.False(t, mc.typing)
	for _, msg := range mc.messages {
		assert.False(t, msg.IsTemporary)
	}
}

func TestMachine_PushWhileSendInFlightKeepsTyping(t *testing.T) {
	mc := newTestMachine()
	ok, effects := mc.send("hi")
	require.True(t, ok)
	dispatch := effects[1].(dispatchSend)

	mc.inbound(realtime.Inbound{Type: realtime.TypeMessage, Content: "Hello!"})
	assert.True(t, mc.typing)

	mc.sendResult(dispatch.id, dispatch.epoch, api.SendResponse{Response: "Hello!"}, nil)
	assert.False(t, mc.typing)

	count := 0
	for _, msg := range mc.messages {
		if msg.Content == "Hello!" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMachine_SendFailureRemovesPlaceholders(t *testing.T) {
	mc := newTestMachine()
	mc.messages = append(mc.messages, model.Message{ID: "tmp", Role: model.RoleAssistant, Content: "wait", IsTemporary: true})

	ok, effects := mc.send("hi")
	require.True(t, ok)
	dispatch := effects[1].(dispatchSend)
	assert.Equal(t, "hi", dispatch.req.Message)

	_, stale := mc.sendResult(dispatch.id, dispatch.epoch, api.SendResponse{}, errors.New("timeout"))
	assert.False(t, stale)
	require.Len(t, mc.messages, 3)
	assert.Equal(t, model.RoleUser, mc.messages[1].Role)
	assert.Equal(t, DefaultApologyText, mc.messages[2].Content)
	assert.False(t, mc.typing)
}

func TestMachine_StaleResultAfterClear(t *testing.T) {
	mc := newTestMachine()
	_, effects := mc.send("hi")
	dispatch := effects[1].(dispatchSend)

	clearEffects := mc.clearHistory()
	assert.Equal(t, []effect{persistMessages{}, removeConversationID{}}, clearEffects)

	effects, stale := mc.sendResult(dispatch.id, dispatch.epoch, api.SendResponse{Response: "late", ConversationID: "c"}, nil)
	assert.True(t, stale)
	assert.Nil(t, effects)
	assert.Len(t, mc.messages, 1)
	assert.Empty(t, mc.conversationID)
}

func TestMachine_AssociationAdoptsOnce(t *testing.T) {
	mc := newTestMachine()
	effects := mc.inbound(realtime.Inbound{Type: realtime.TypeAssociationSuccess, ConversationID: "a"})
	assert.Equal(t, []effect{persistConversationID{id: "a"}}, effects)
	assert.Nil(t, mc.inbound(realtime.Inbound{Type: realtime.TypeAssociationSuccess, ConversationID: "b"}))
	assert.Equal(t, "a", mc.conversationID)

	mc.conversationID = "a"
	assert.Equal(t, []effect{sendAssociation{payload: realtime.Association{ConversationID: "a", ClientID: "client-1"}}}, mc.opened())
}

func TestMachine_UnknownTypeIgnored(t *testing.T) {
	mc := newTestMachine()
	before := mc.snapshot()
	assert.Nil(t, mc.inbound(realtime.Inbound{Type: "typing"}))
	assert.Equal(t, before, mc.snapshot())
}

func TestMachine_PushOvertakingProcessingResponse(t *testing.T) {
	mc := newTestMachine()
	_, _ = mc.send("slow one")
	userID := mc.messages[1].ID

	mc.inbound(realtime.Inbound{Type: realtime.TypeMessage, Content: "Done."})
	assert.True(t, mc.typing)

	_, stale := mc.sendResult(userID, mc.epoch, api.SendResponse{Status: api.StatusProcessing}, nil)
	require.False(t, stale)

	assert.False(t, mc.typing)
	require.Len(t, mc.messages, 3)
	assert.Equal(t, "Done.", mc.messages[2].Content)
	assert.False(t, mc.messages[2].IsTemporary)
}
