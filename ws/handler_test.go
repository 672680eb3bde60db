package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/types"
)

func startServer(t *testing.T, mutate func(cfg *config.Config)) (*harness, *Handler, string) {
	var cfg *config.Config
	h := newHarness(t, func(c *config.Config) {
		if mutate != nil {
			mutate(c)
		}
		cfg = c
	})
	handler := NewHandler(h.router, cfg)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return h, handler, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEvent reads until an event with the given name arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		msg := types.WebsocketMessage{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event {
			return msg.Data
		}
	}
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": event, "data": data}))
}

func TestWebsocketRoundTrip(t *testing.T) {
	h, handler, url := startServer(t, nil)

	alice := dial(t, url+"/ws?token="+h.token(t, "3"), nil)
	readEvent(t, alice, types.EventConnected)
	bob := dial(t, url+"/ws", nil)
	readEvent(t, bob, types.EventConnected)
	writeEvent(t, bob, types.EventAuthenticateSession, map[string]interface{}{"token": h.token(t, "7")})
	readEvent(t, bob, types.EventUserStatusUpdate)

	writeEvent(t, alice, types.EventJoinRoom, map[string]interface{}{"room_key": "room_5"})
	readEvent(t, alice, types.EventJoinedRoom)
	writeEvent(t, bob, types.EventJoinRoom, map[string]interface{}{"room_key": "room_5"})
	joined := types.RoomMembershipPayload{}
	require.NoError(t, json.Unmarshal(readEvent(t, bob, types.EventJoinedRoom), &joined))
	assert.Equal(t, 2, joined.MemberCount)

	writeEvent(t, alice, types.EventSendMessage, map[string]interface{}{"room_key": "room_5", "content": "hi"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		view := types.MessageView{}
		require.NoError(t, json.Unmarshal(readEvent(t, conn, types.EventNewMessage), &view))
		assert.Equal(t, "hi", view.Content)
		assert.Equal(t, "3", view.UserId)
	}
	assert.Equal(t, 2, handler.NoClients())

	require.NoError(t, alice.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	left := types.RoomUserPayload{}
	require.NoError(t, json.Unmarshal(readEvent(t, bob, types.EventUserLeft), &left))
	assert.Equal(t, "3", left.UserId)
	status := types.UserStatusEventPayload{}
	require.NoError(t, json.Unmarshal(readEvent(t, bob, types.EventUserStatusChanged), &status))
	assert.Equal(t, "3", status.UserId)
	assert.Equal(t, types.StatusOffline, status.Status)
}

func TestWebsocketRejectedTokenClosesConnection(t *testing.T) {
	_, _, url := startServer(t, nil)
	conn := dial(t, url+"/ws?token=bogus", nil)
	readEvent(t, conn, types.EventConnected)
	errPayload := types.ErrorPayload{}
	require.NoError(t, json.Unmarshal(readEvent(t, conn, types.EventError), &errPayload))
	assert.Equal(t, types.KindAuth, errPayload.Kind)

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestWebsocketOriginCheck(t *testing.T) {
	_, _, url := startServer(t, func(cfg *config.Config) {
		cfg.ServerConfig.AllowedOrigins = []string{"https://chat.example.com"}
	})
	_, resp, err := websocket.DefaultDialer.Dial(url+"/ws", http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, url+"/ws", http.Header{"Origin": []string{"https://CHAT.example.com"}})
	readEvent(t, conn, types.EventConnected)
}

func TestShutdownClosesConnections(t *testing.T) {
	h, handler, url := startServer(t, nil)
	conn := dial(t, url+"/ws?token="+h.token(t, "3"), nil)
	readEvent(t, conn, types.EventConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, handler.Shutdown(ctx))
	assert.Equal(t, 0, handler.NoClients())
	assert.False(t, h.registry.IsOnline("3"))
}
