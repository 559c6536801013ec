package websocket_test

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

	"pairing-relay/domain"
	"pairing-relay/hub"
	"pairing-relay/protocol"
	relayws "pairing-relay/websocket"
)

type envelope struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Payload   map[string]any `json:"payload"`
}

func startRelay(t *testing.T, opts relayws.Options) (*httptest.Server, *hub.Hub, *protocol.Handler) {
	t.Helper()
	sessions := hub.New()
	handler := protocol.NewHandler(sessions)
	srv := httptest.NewServer(relayws.Handler(sessions, handler, opts))
	t.Cleanup(srv.Close)
	return srv, sessions, handler
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func readRaw(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	return data
}

func read(t *testing.T, c *websocket.Conn) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(readRaw(t, c), &env))
	return env
}

func pairOverSockets(t *testing.T, srv *httptest.Server, id string) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	dapp := dial(t, srv)
	wallet := dial(t, srv)

	send(t, dapp, `{"type":"session_init","sessionId":"`+id+`"}`)
	require.Equal(t, map[string]any{"created": true}, read(t, dapp).Payload)

	send(t, wallet, `{"type":"session_join","sessionId":"`+id+`"}`)
	require.Equal(t, map[string]any{"joined": true}, read(t, wallet).Payload)
	require.Equal(t, map[string]any{"walletConnected": true}, read(t, dapp).Payload)
	return dapp, wallet
}

func TestConn_EndToEnd(t *testing.T) {
	srv, sessions, _ := startRelay(t, relayws.Options{})
	dapp, wallet := pairOverSockets(t, srv, "s1")

	ping := `{"type":"ping","sessionId":"s1","payload":{"n":1}}`
	send(t, dapp, ping)
	assert.JSONEq(t, ping, string(readRaw(t, wallet)))

	reply := `{"type":"custom_payload","sessionId":"s1","payload":{"sig":"0xabc"}}`
	send(t, wallet, reply)
	assert.Equal(t, reply, string(readRaw(t, dapp)))

	count, clients := sessions.Stats()
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, clients)
}

func TestConn_InvalidFrameKeepsConnection(t *testing.T) {
	srv, _, _ := startRelay(t, relayws.Options{})
	c := dial(t, srv)

	send(t, c, "{oops")
	env := read(t, c)
	assert.Equal(t, "error", env.Type)
	assert.Equal(t, "Invalid message format", env.Payload["message"])

	send(t, c, `{"type":"session_init","sessionId":"after-error"}`)
	assert.Equal(t, "session_ack", read(t, c).Type)
}

func TestConn_DisconnectPropagation(t *testing.T) {
	srv, sessions, _ := startRelay(t, relayws.Options{})
	dapp, wallet := pairOverSockets(t, srv, "xyz")

	require.NoError(t, dapp.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	dapp.Close()

	env := read(t, wallet)
	assert.Equal(t, "session_end", env.Type)
	assert.Equal(t, "dApp disconnected", env.Payload["reason"])

	require.Eventually(t, func() bool {
		s, ok := sessions.Get("xyz")
		return ok && s.DApp == nil
	}, 2*time.Second, 10*time.Millisecond)

	wallet.Close()
	require.Eventually(t, func() bool {
		count, clients := sessions.Stats()
		return count == 0 && clients == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConn_Shutdown(t *testing.T) {
	srv, sessions, handler := startRelay(t, relayws.Options{})
	dapp, wallet := pairOverSockets(t, srv, "s1")
	idle := dial(t, srv)
	require.Eventually(t, func() bool {
		_, clients := sessions.Stats()
		return clients == 3
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, handler.Shutdown(ctx))

	for _, c := range []*websocket.Conn{dapp, wallet} {
		env := read(t, c)
		assert.Equal(t, "session_end", env.Type)
		assert.Equal(t, "Server shutdown", env.Payload["reason"])

		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := c.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	}

	idle.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := idle.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHandler_RejectsOrigin(t *testing.T) {
	srv, _, _ := startRelay(t, relayws.Options{AllowedOrigins: []string{"https://dapp.example"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://dapp.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestConn_RefusedAfterShutdown(t *testing.T) {
	srv, sessions, handler := startRelay(t, relayws.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, handler.Shutdown(ctx))

	late := dial(t, srv)
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	_, clients := sessions.Stats()
	assert.Equal(t, 0, clients)
}

func TestConn_BindIsFirstWins(t *testing.T) {
	c := relayws.NewConn("c1", nil, nil, nil, 0)

	c.Bind("s1", domain.RoleDApp)
	c.Bind("s2", domain.RoleWallet)

	id, role := c.Binding()
	assert.Equal(t, "s1", id)
	assert.Equal(t, domain.RoleDApp, role)
}
