package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/infrastructure/stomp"
	"chatsync/pkg/errors"
)

// wsPair returns both ends of one websocket connection.
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{Subprotocols: []string{stomp.Subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-conns:
	case <-time.After(time.Second):
		t.Fatal("server side never upgraded")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}

func stoppedManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(ManagerOptions{HandshakeTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("manager loop did not stop")
	}
	return m
}

func TestReadPumpReturnsAfterManagerStops(t *testing.T) {
	m := stoppedManager(t)
	server, client := wsPair(t)

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		c := &Client{UserID: 1, Conn: server, Send: make(chan []byte, 1), subs: make(map[string]string)}
		c.ReadPump(m)
	}()
	client.Close()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("ReadPump blocked unregistering from a stopped manager")
	}
}

func TestServeFailsAfterManagerStops(t *testing.T) {
	m := stoppedManager(t)
	server, client := wsPair(t)

	data, err := stomp.Encode(stomp.Connect("localhost", "user-1", 0))
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, data))

	served := make(chan error, 1)
	go func() { served <- m.Serve(server, "", tokenAuth) }()

	select {
	case err := <-served:
		assert.True(t, errors.Is(err, errors.CodeTransport), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("Serve blocked registering with a stopped manager")
	}
	assert.Zero(t, m.OnlineCount())
}

func TestIsOnlineTracksRegistration(t *testing.T) {
	tb := newTestBroker(t)
	assert.False(t, tb.broker.IsOnline(1))

	c := newTestConnection(wsURL(tb.Server))
	require.NoError(t, c.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"}))
	assert.Eventually(t, func() bool { return tb.broker.IsOnline(1) }, time.Second, 10*time.Millisecond)

	c.Disconnect()
	assert.Eventually(t, func() bool { return !tb.broker.IsOnline(1) }, time.Second, 10*time.Millisecond)
}
