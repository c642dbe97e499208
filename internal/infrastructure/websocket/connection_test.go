package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/stomp"
	"chatsync/pkg/errors"
)

// echoHandler confirms every send back to both participants, like the dev server.
type echoHandler struct {
	broker *Manager
	nextID int64
}

func (h *echoHandler) HandleSend(_ context.Context, senderID int64, req entity.SendRequest) error {
	if strings.TrimSpace(req.Content) == "" {
		return errors.BadRequest("Message content is required", nil)
	}
	msg := entity.Message{
		Identity:   entity.Confirmed{ID: atomic.AddInt64(&h.nextID, 1), EchoOf: req.LocalID},
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Type:       entity.MessageTypeText,
		CreatedAt:  time.Now(),
	}
	h.broker.Deliver(senderID, stomp.MessageTopic(senderID), msg)
	return h.broker.Deliver(req.ReceiverID, stomp.MessageTopic(req.ReceiverID), msg)
}

func (h *echoHandler) HandleTyping(_ context.Context, senderID int64, n entity.TypingNotice) error {
	n.SenderID = senderID
	return h.broker.Deliver(n.ReceiverID, stomp.TypingTopic(n.ReceiverID), n)
}

type testBroker struct {
	*httptest.Server
	broker *Manager

	mu    sync.Mutex
	conns []*websocket.Conn
}

func tokenAuth(token string) (entity.Principal, error) {
	var id int64
	if _, err := fmt.Sscanf(token, "user-%d", &id); err != nil {
		return entity.Principal{}, fmt.Errorf("bad token %q", token)
	}
	return entity.Principal{UserID: id}, nil
}

func newTestBroker(t *testing.T) *testBroker {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tb := &testBroker{broker: NewManager(ManagerOptions{
		Heartbeat:        time.Second,
		HeartbeatGrace:   time.Second,
		HandshakeTimeout: time.Second,
	})}
	tb.broker.SetHandler(&echoHandler{broker: tb.broker})
	tb.broker.Start(ctx)

	upgrader := websocket.Upgrader{Subprotocols: []string{stomp.Subprotocol}}
	tb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tb.mu.Lock()
		tb.conns = append(tb.conns, conn)
		tb.mu.Unlock()
		tb.broker.Serve(conn, "", tokenAuth)
	}))
	t.Cleanup(tb.Close)
	return tb
}

// dropAll severs every server-side connection without a close handshake.
func (tb *testBroker) dropAll() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	for _, c := range tb.conns {
		c.UnderlyingConn().Close()
	}
	tb.conns = nil
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func newTestConnection(url string) *Connection {
	return NewConnection(ConnectionOptions{
		URL:               url,
		HandshakeTimeout:  time.Second,
		ReconnectDelay:    50 * time.Millisecond,
		HeartbeatInterval: time.Second,
		HeartbeatGrace:    time.Second,
	})
}

func waitForState(t *testing.T, states <-chan entity.ConnectionState, want entity.ConnectionState) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestConnectPublishAndReceiveEcho(t *testing.T) {
	tb := newTestBroker(t)

	alice := newTestConnection(wsURL(tb.Server))
	bob := newTestConnection(wsURL(tb.Server))
	defer alice.Disconnect()
	defer bob.Disconnect()

	require.NoError(t, alice.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"}))
	require.NoError(t, bob.Connect(context.Background(), Credentials{UserID: 2, Token: "user-2"}))
	assert.Equal(t, entity.StateConnected, alice.State())

	ok, err := alice.Publish(entity.SendRequest{ReceiverID: 2, Content: "hi bob", LocalID: "tmp-1"})
	require.NoError(t, err)
	require.True(t, ok)

	for _, ch := range []<-chan entity.Message{alice.Messages(), bob.Messages()} {
		select {
		case m := <-ch:
			assert.Equal(t, "hi bob", m.Content)
			assert.Equal(t, entity.Confirmed{ID: 1, EchoOf: "tmp-1"}, m.Identity)
		case <-time.After(2 * time.Second):
			t.Fatal("echo not delivered")
		}
	}
}

func TestTypingNoticeIsRelayed(t *testing.T) {
	tb := newTestBroker(t)

	alice := newTestConnection(wsURL(tb.Server))
	bob := newTestConnection(wsURL(tb.Server))
	defer alice.Disconnect()
	defer bob.Disconnect()

	require.NoError(t, alice.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"}))
	require.NoError(t, bob.Connect(context.Background(), Credentials{UserID: 2, Token: "user-2"}))

	ok, err := alice.Publish(entity.TypingNotice{ReceiverID: 2, Typing: true})
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case n := <-bob.TypingNotices():
		assert.Equal(t, int64(1), n.SenderID)
		assert.True(t, n.Typing)
	case <-time.After(2 * time.Second):
		t.Fatal("typing notice not delivered")
	}
}

func TestConnectRejectsBadCredentials(t *testing.T) {
	tb := newTestBroker(t)
	c := newTestConnection(wsURL(tb.Server))

	err := c.Connect(context.Background(), Credentials{UserID: 1, Token: "garbage"})

	require.Error(t, err)
	assert.True(t, errors.IsAuthentication(err))
	assert.Equal(t, entity.StateDisconnected, c.State())
}

func TestConnectTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := newTestConnection(url)
	err := c.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeTransport))
	assert.Equal(t, entity.StateDisconnected, c.State())
}

func TestPublishWhileDisconnectedIsNoop(t *testing.T) {
	c := newTestConnection("ws://127.0.0.1:1/ws")

	ok, err := c.Publish(entity.SendRequest{ReceiverID: 2, Content: "x"})

	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestReconnectsAfterDrop(t *testing.T) {
	tb := newTestBroker(t)
	c := newTestConnection(wsURL(tb.Server))
	defer c.Disconnect()

	states, stop := c.SubscribeState()
	defer stop()

	require.NoError(t, c.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"}))
	waitForState(t, states, entity.StateConnected)

	tb.dropAll()

	waitForState(t, states, entity.StateReconnecting)
	waitForState(t, states, entity.StateConnected)

	ok, err := c.Publish(entity.SendRequest{ReceiverID: 2, Content: "after reconnect"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	tb := newTestBroker(t)
	c := newTestConnection(wsURL(tb.Server))

	require.NoError(t, c.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"}))

	c.Disconnect()
	c.Disconnect()

	assert.Equal(t, entity.StateDisconnected, c.State())
	ok, err := c.Publish(entity.SendRequest{ReceiverID: 2, Content: "x"})
	assert.False(t, ok)
	assert.NoError(t, err)
}

// silentBroker completes the handshake and then never speaks again.
func silentBroker(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{Subprotocols: []string{stomp.Subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		write := func(f *frame.Frame) {
			data, _ := stomp.Encode(f)
			conn.WriteMessage(websocket.TextMessage, data)
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, _ := stomp.Decode(data)
			if f == nil {
				continue
			}
			switch f.Command {
			case frame.CONNECT:
				write(stomp.Connected("s", 100*time.Millisecond, 100*time.Millisecond))
			case frame.SUBSCRIBE:
				if r := f.Header.Get(frame.Receipt); r != "" {
					write(stomp.Receipt(r))
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMissingHeartbeatsTriggerReconnect(t *testing.T) {
	srv := silentBroker(t)
	c := NewConnection(ConnectionOptions{
		URL:               wsURL(srv),
		HandshakeTimeout:  time.Second,
		ReconnectDelay:    50 * time.Millisecond,
		HeartbeatInterval: 100 * time.Millisecond,
		HeartbeatGrace:    50 * time.Millisecond,
	})
	defer c.Disconnect()

	states, stop := c.SubscribeState()
	defer stop()

	require.NoError(t, c.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"}))
	waitForState(t, states, entity.StateReconnecting)
}

func TestRejectedPublishReturnsSendFailure(t *testing.T) {
	tb := newTestBroker(t)
	c := newTestConnection(wsURL(tb.Server))
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"}))

	ok, err := c.Publish(entity.SendRequest{ReceiverID: 2, Content: "   ", LocalID: "tmp-1"})
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeSendFailure), "got %v", err)
	assert.Contains(t, err.Error(), "Message content is required")

	// The rejection does not cost the session.
	assert.Equal(t, entity.StateConnected, c.State())
	ok, err = c.Publish(entity.SendRequest{ReceiverID: 2, Content: "second try", LocalID: "tmp-2"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPublishWithoutReceiptTimesOut(t *testing.T) {
	srv := silentBroker(t)
	c := NewConnection(ConnectionOptions{
		URL:              wsURL(srv),
		HandshakeTimeout: time.Second,
		ReconnectDelay:   50 * time.Millisecond,
		ReceiptTimeout:   100 * time.Millisecond,
	})
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"}))

	start := time.Now()
	ok, err := c.Publish(entity.SendRequest{ReceiverID: 2, Content: "anyone?", LocalID: "tmp-1"})
	assert.False(t, ok)
	assert.True(t, errors.Is(err, errors.CodeTransport), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

// muteBroker completes the handshake and then stops reading without closing.
func muteBroker(t *testing.T) *httptest.Server {
	stop := make(chan struct{})
	upgrader := websocket.Upgrader{Subprotocols: []string{stomp.Subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		write := func(f *frame.Frame) {
			data, _ := stomp.Encode(f)
			conn.WriteMessage(websocket.TextMessage, data)
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, _ := stomp.Decode(data)
			if f == nil {
				continue
			}
			if f.Command == frame.CONNECT {
				write(stomp.Connected("s", 0, 0))
			}
			if r := f.Header.Get(frame.Receipt); r != "" {
				write(stomp.Receipt(r))
				if r == subscribedReceipt {
					break
				}
			}
		}
		<-stop
	}))
	t.Cleanup(func() {
		close(stop)
		srv.Close()
	})
	return srv
}

func TestPublishWriteFailureTriggersReconnect(t *testing.T) {
	srv := muteBroker(t)
	c := newTestConnection(wsURL(srv))
	defer c.Disconnect()

	states, stop := c.SubscribeState()
	defer stop()

	require.NoError(t, c.Connect(context.Background(), Credentials{UserID: 1, Token: "user-1"}))
	waitForState(t, states, entity.StateConnected)

	// Break only the sending half: the read loop alone would never notice.
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	require.NoError(t, sess.conn.UnderlyingConn().(*net.TCPConn).CloseWrite())

	ok, err := c.Publish(entity.TypingNotice{ReceiverID: 2, Typing: true})
	assert.False(t, ok)
	assert.True(t, errors.Is(err, errors.CodeTransport), "got %v", err)

	waitForState(t, states, entity.StateReconnecting)
}
