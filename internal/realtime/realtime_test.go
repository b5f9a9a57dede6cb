package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexchat/internal/model"
)

func TestURL(t *testing.T) {
	u, err := URL("https://nexiosdigital.com", "mobile-ios-1", "")
	require.NoError(t, err)
	assert.Equal(t, "wss://nexiosdigital.com/ws/mobile-ios-1", u)

	u, err = URL("http://localhost:3000/", "c1", "conv 1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3000/ws/c1?conversation_id=conv+1", u)

	_, err = URL("ftp://x", "c1", "")
	require.Error(t, err)
	_, err = URL("http://x", "", "")
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	in, err := Decode([]byte(`{"type":"message","content":"Final answer","timestamp":"2026-01-01T00:00:00.000Z"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, in.Type)
	assert.Equal(t, "Final answer", in.Content)

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
	_, err = Decode([]byte(`{"content":"x"}`))
	require.Error(t, err)
}

func TestLatestAssistant(t *testing.T) {
	in := Inbound{Messages: []HistoryMessage{
		{Role: model.RoleAssistant, Content: "a1"},
		{Role: model.RoleAssistant, Content: "a2"},
		{Role: model.RoleUser, Content: "u1"},
	}}
	m, ok := in.LatestAssistant()
	require.True(t, ok)
	assert.Equal(t, "a2", m.Content)

	_, ok = Inbound{}.LatestAssistant()
	assert.False(t, ok)
}

func TestCloseCode(t *testing.T) {
	assert.Equal(t, CloseNormal, CloseCode(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.Equal(t, websocket.CloseGoingAway, CloseCode(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.Equal(t, CloseAbnormal, CloseCode(errors.New("eof")))
}

func TestTransportFailure(t *testing.T) {
	assert.True(t, TransportFailure(errors.New("connection reset by peer")))
	assert.True(t, TransportFailure(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
	assert.False(t, TransportFailure(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.False(t, TransportFailure(&websocket.CloseError{Code: websocket.CloseGoingAway}))
}

func TestWebsocketDialer_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var assoc Association
		if err := ws.ReadJSON(&assoc); err != nil {
			return
		}
		_ = ws.WriteJSON(Inbound{Type: TypeAssociationSuccess, ConversationID: assoc.ConversationID})
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	defer srv.Close()

	url, err := URL(srv.URL, "client-1", "conv-1")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := WebsocketDialer{}.Dial(ctx, url)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Association{ConversationID: "conv-1", ClientID: "client-1"}))
	data, err := conn.ReadMessage()
	require.NoError(t, err)
	in, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeAssociationSuccess, in.Type)
	assert.Equal(t, "conv-1", in.ConversationID)

	_, err = conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, websocket.CloseGoingAway, CloseCode(err))
	assert.True(t, strings.HasPrefix(url, "ws://"))
}
