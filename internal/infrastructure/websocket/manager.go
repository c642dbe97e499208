package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/metrics"
	"chatsync/internal/infrastructure/stomp"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// Authenticate resolves a bearer token to the user it was issued for.
type Authenticate func(token string) (entity.Principal, error)

// FrameHandler receives the application frames a client publishes.
type FrameHandler interface {
	HandleSend(ctx context.Context, senderID int64, req entity.SendRequest) error
	HandleTyping(ctx context.Context, senderID int64, notice entity.TypingNotice) error
}

// Client is one authenticated broker connection.
type Client struct {
	UserID int64
	Conn   *websocket.Conn
	Send   chan []byte

	sendEvery   time.Duration
	expectEvery time.Duration

	mu   sync.Mutex
	subs map[string]string // destination -> subscription id

	// closed is guarded by Manager.mutex and set once Send is closed.
	closed bool
}

// Manager is the dev server's STOMP broker. It keeps one client per user;
// a new connection replaces the previous one.
type Manager struct {
	clients    map[int64]*Client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
	// done is closed when the main loop exits. Register and Unregister have
	// no receiver after that.
	done chan struct{}

	handler          FrameHandler
	heartbeat        time.Duration
	grace            time.Duration
	handshakeTimeout time.Duration
	metrics          *metrics.Metrics
}

type ManagerOptions struct {
	Heartbeat        time.Duration
	HeartbeatGrace   time.Duration
	HandshakeTimeout time.Duration
	Metrics          *metrics.Metrics
}

func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		clients:          make(map[int64]*Client),
		Register:         make(chan *Client),
		Unregister:       make(chan *Client),
		done:             make(chan struct{}),
		heartbeat:        opts.Heartbeat,
		grace:            opts.HeartbeatGrace,
		handshakeTimeout: opts.HandshakeTimeout,
		metrics:          opts.Metrics,
	}
}

// SetHandler wires the application layer. It must be called before Start.
func (m *Manager) SetHandler(h FrameHandler) {
	m.handler = h
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if old, ok := m.clients[client.UserID]; ok {
					old.closed = true
					close(old.Send)
					m.metrics.ClientDisconnected()
				}
				m.clients[client.UserID] = client
				m.mutex.Unlock()
				m.metrics.ClientConnected()
				logger.Info("Broker: client registered: %d", client.UserID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if current, ok := m.clients[client.UserID]; ok && current == client {
					delete(m.clients, client.UserID)
					client.closed = true
					close(client.Send)
					m.metrics.ClientDisconnected()
				}
				m.mutex.Unlock()
				logger.Info("Broker: client unregistered: %d", client.UserID)

			case <-ctx.Done():
				m.mutex.Lock()
				for id, client := range m.clients {
					client.closed = true
					close(client.Send)
					delete(m.clients, id)
				}
				m.mutex.Unlock()
				return
			}
		}
	}()
}

// IsOnline reports whether userID has a live connection.
func (m *Manager) IsOnline(userID int64) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.clients[userID]
	return ok
}

func (m *Manager) OnlineCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// SendToUser delivers payload to userID if it subscribed to destination.
// It reports whether the frame was queued.
func (m *Manager) SendToUser(userID int64, destination string, payload []byte) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	client, ok := m.clients[userID]
	if !ok {
		return false
	}
	subID, ok := client.subscription(destination)
	if !ok {
		return false
	}

	data, err := stomp.Encode(stomp.Message(destination, subID, uuid.NewString(), payload))
	if err != nil {
		logger.Error("Broker: failed to encode frame for %d: %v", userID, err)
		return false
	}

	select {
	case client.Send <- data:
		m.metrics.FrameOut(frame.MESSAGE)
		return true
	default:
		logger.Warn("Broker: send buffer full for user %d, dropping frame", userID)
		return false
	}
}

// Deliver marshals v as JSON and sends it to userID on destination.
func (m *Manager) Deliver(userID int64, destination string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Internal("failed to encode payload", err)
	}
	m.SendToUser(userID, destination, payload)
	return nil
}

// Serve performs the STOMP handshake on an upgraded connection, then
// registers the client and starts its pumps. upgradeToken is the bearer
// token from the HTTP upgrade request, used when CONNECT carries none.
func (m *Manager) Serve(conn *websocket.Conn, upgradeToken string, authenticate Authenticate) error {
	client := &Client{
		Conn: conn,
		Send: make(chan []byte, 256),
		subs: make(map[string]string),
	}

	principal, err := client.handshake(upgradeToken, authenticate, m.heartbeat, m.handshakeTimeout)
	if err != nil {
		conn.Close()
		return err
	}
	client.UserID = principal.UserID

	select {
	case m.Register <- client:
	case <-m.done:
		conn.Close()
		return errors.Transport("broker stopped", nil)
	}

	go client.ReadPump(m)
	go client.WritePump()
	return nil
}

func (c *Client) handshake(upgradeToken string, authenticate Authenticate, heartbeat, timeout time.Duration) (entity.Principal, error) {
	c.Conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.Conn.ReadMessage()
	if err != nil {
		return entity.Principal{}, errors.Transport("no CONNECT frame", err)
	}
	f, err := stomp.Decode(data)
	if err != nil || f == nil || (f.Command != frame.CONNECT && f.Command != frame.STOMP) {
		c.writeNow(stomp.Error("expected CONNECT", ""))
		return entity.Principal{}, errors.BadRequest("expected CONNECT frame", err)
	}

	token := upgradeToken
	if auth := f.Header.Get(stomp.AuthorizationHeader); auth != "" {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	principal, err := authenticate(token)
	if err != nil {
		c.writeNow(stomp.Error("authentication failed", err.Error()))
		return entity.Principal{}, errors.Authentication("authentication failed", err)
	}

	c.sendEvery, c.expectEvery, err = stomp.Negotiate(heartbeat, heartbeat, f.Header.Get(frame.HeartBeat))
	if err != nil {
		c.writeNow(stomp.Error("invalid heart-beat", err.Error()))
		return entity.Principal{}, errors.BadRequest("invalid heart-beat header", err)
	}

	c.Conn.SetReadDeadline(time.Time{})
	if err := c.writeNow(stomp.Connected(uuid.NewString(), heartbeat, heartbeat)); err != nil {
		return entity.Principal{}, errors.Transport("failed to send CONNECTED", err)
	}
	return principal, nil
}

// writeNow writes directly on the connection. Only valid before WritePump runs.
func (c *Client) writeNow(f *frame.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// enqueue queues a frame for WritePump. Frames for a closed client are dropped.
func (c *Client) enqueue(m *Manager, f *frame.Frame) {
	data, err := stomp.Encode(f)
	if err != nil {
		return
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
		m.metrics.FrameOut(f.Command)
	default:
	}
}

func (c *Client) subscription(destination string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.subs[destination]
	return id, ok
}

// ReadPump reads frames from the WebSocket connection
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		select {
		case m.Unregister <- c:
		case <-m.done:
		}
		c.Conn.Close()
	}()

	for {
		if c.expectEvery > 0 {
			c.Conn.SetReadDeadline(time.Now().Add(c.expectEvery + m.grace))
		}
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("Broker: read error for %d: %v", c.UserID, err)
			}
			return
		}

		f, err := stomp.Decode(data)
		if err != nil {
			logger.Warn("Broker: malformed frame from %d: %v", c.UserID, err)
			continue
		}
		if f == nil {
			continue
		}
		m.metrics.FrameIn(f.Command)

		if !m.HandleClientFrame(c, f) {
			return
		}
	}
}

// WritePump sends queued frames and heartbeats to the WebSocket connection
func (c *Client) WritePump() {
	var tick <-chan time.Time
	if c.sendEvery > 0 {
		ticker := time.NewTicker(c.sendEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.Conn.Close()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("Broker: write error for %d: %v", c.UserID, err)
				return
			}
		case <-tick:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, stomp.Heartbeat); err != nil {
				return
			}
		}
	}
}
