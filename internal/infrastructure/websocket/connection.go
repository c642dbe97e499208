package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
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

const (
	writeWait         = 10 * time.Second
	inboundBuffer     = 64
	subscribedReceipt = "subscribed"
)

var allStates = []string{
	entity.StateDisconnected.String(),
	entity.StateConnecting.String(),
	entity.StateConnected.String(),
	entity.StateReconnecting.String(),
}

// Credentials authenticate one user on the live channel.
type Credentials struct {
	UserID int64
	Token  string
}

type ConnectionOptions struct {
	URL               string
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	// HeartbeatGrace is added to the negotiated inbound interval before a
	// silent connection is declared dead.
	HeartbeatGrace time.Duration
	// ReceiptTimeout bounds the wait for the broker to acknowledge a
	// published message. Zero means HandshakeTimeout.
	ReceiptTimeout time.Duration
	Metrics        *metrics.Metrics
}

// Connection is the client side of the live channel. It owns the connection
// state; other components observe it through SubscribeState and consume the
// inbound streams through Messages and TypingNotices.
type Connection struct {
	opts   ConnectionOptions
	dialer *websocket.Dialer

	messages chan entity.Message
	typing   chan entity.TypingNotice

	mu        sync.Mutex
	state     entity.ConnectionState
	watchers  map[int]chan entity.ConnectionState
	nextWatch int
	sess      *session
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewConnection(opts ConnectionOptions) *Connection {
	return &Connection{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			Subprotocols:     []string{stomp.Subprotocol},
		},
		messages: make(chan entity.Message, inboundBuffer),
		typing:   make(chan entity.TypingNotice, inboundBuffer),
		watchers: make(map[int]chan entity.ConnectionState),
	}
}

// Messages delivers every message pushed on the user's message topic.
func (c *Connection) Messages() <-chan entity.Message {
	return c.messages
}

// TypingNotices delivers every notice pushed on the user's typing topic.
func (c *Connection) TypingNotices() <-chan entity.TypingNotice {
	return c.typing
}

func (c *Connection) State() entity.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeState returns a channel that always holds the latest state. The
// current state is available immediately. Call the returned func to stop.
func (c *Connection) SubscribeState() (<-chan entity.ConnectionState, func()) {
	ch := make(chan entity.ConnectionState, 1)

	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = ch
	ch <- c.state
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// Connect opens the channel, authenticates and subscribes both inbound
// streams. It returns an Authentication error when the credentials are
// rejected and a Transport error on network failure. Once connected, drops
// are retried in the background until Disconnect.
func (c *Connection) Connect(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	if c.state != entity.StateDisconnected {
		c.mu.Unlock()
		return errors.Conflict("connection already " + strings.ToLower(c.state.String()))
	}
	c.setStateLocked(entity.StateConnecting)
	c.mu.Unlock()

	sess, err := c.dial(ctx, creds)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(entity.StateDisconnected)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != entity.StateConnecting {
		// Disconnect was called during the handshake.
		sess.close()
		return errors.Transport("connection closed during handshake", nil)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.sess = sess
	c.cancel = cancel
	c.done = make(chan struct{})
	c.setStateLocked(entity.StateConnected)

	go c.supervise(runCtx, creds, sess, c.done)
	return nil
}

// Publish sends event on the live channel. It reports false without error
// when the channel is not connected, so the caller can take its fallback.
//
// A SendRequest carries a receipt and Publish waits for the broker's answer.
// A rejection returns a SendFailure error. A write failure or a missing
// receipt returns a Transport error; the message may still have been
// accepted, but the caller cannot know.
func (c *Connection) Publish(event entity.OutboundEvent) (bool, error) {
	c.mu.Lock()
	sess := c.sess
	connected := c.state == entity.StateConnected
	c.mu.Unlock()

	if !connected || sess == nil {
		return false, nil
	}

	var destination string
	switch event.(type) {
	case entity.SendRequest:
		destination = stomp.SendDestination
	case entity.TypingNotice:
		destination = stomp.TypingDestination
	default:
		return false, errors.BadRequest("unsupported event", nil)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return false, errors.BadRequest("failed to encode event", err)
	}
	var receipt string
	var ack <-chan error
	if destination == stomp.SendDestination {
		receipt = uuid.NewString()
		ack = sess.expect(receipt)
		defer sess.forget(receipt)
	}

	if err := sess.write(stomp.Send(destination, body, receipt)); err != nil {
		// Hand the broken stream to the supervisor for reconnection.
		sess.close()
		return false, errors.Transport("publish failed", err)
	}
	if ack == nil {
		return true, nil
	}

	timer := time.NewTimer(c.receiptTimeout())
	defer timer.Stop()
	select {
	case err := <-ack:
		if err != nil {
			return false, err
		}
		return true, nil
	case <-timer.C:
		return false, errors.Transport("no receipt for published message", nil)
	}
}

func (c *Connection) receiptTimeout() time.Duration {
	if c.opts.ReceiptTimeout > 0 {
		return c.opts.ReceiptTimeout
	}
	return c.opts.HandshakeTimeout
}

// Disconnect tears the channel down and stops reconnection. It is idempotent.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	cancel, done, sess := c.cancel, c.done, c.sess
	c.cancel, c.done, c.sess = nil, nil, nil
	if cancel != nil {
		cancel()
	}
	c.setStateLocked(entity.StateDisconnected)
	c.mu.Unlock()

	if sess != nil {
		sess.write(stomp.Disconnect())
		sess.close()
	}
	if done != nil {
		<-done
	}
}

func (c *Connection) supervise(ctx context.Context, creds Credentials, sess *session, done chan struct{}) {
	defer close(done)

	for {
		err := sess.run(ctx, c.dispatch)
		sess.close()
		if ctx.Err() != nil {
			return
		}
		if errors.IsAuthentication(err) {
			logger.Error("Live channel rejected credentials: %v", err)
			c.abandon(ctx)
			return
		}
		logger.Warn("Live channel lost: %v", err)

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.sess = nil
		c.setStateLocked(entity.StateReconnecting)
		c.mu.Unlock()

		sess, err = c.redial(ctx, creds)
		if err != nil {
			if errors.IsAuthentication(err) {
				logger.Error("Reconnect rejected credentials: %v", err)
				c.abandon(ctx)
			}
			return
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			sess.close()
			return
		}
		c.sess = sess
		c.setStateLocked(entity.StateConnected)
		c.mu.Unlock()

		c.opts.Metrics.Reconnected()
		logger.Info("Live channel re-established for user %d", creds.UserID)
	}
}

// redial retries at a fixed delay until it succeeds, the credentials are
// rejected or ctx is cancelled.
func (c *Connection) redial(ctx context.Context, creds Credentials) (*session, error) {
	timer := time.NewTimer(c.opts.ReconnectDelay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		sess, err := c.dial(ctx, creds)
		if err == nil {
			return sess, nil
		}
		if errors.IsAuthentication(err) || ctx.Err() != nil {
			return nil, err
		}
		logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   c.opts.ReconnectDelay.String(),
		}).Warnf("Reconnect failed: %v", err)
		timer.Reset(c.opts.ReconnectDelay)
	}
}

// abandon moves to DISCONNECTED after an unrecoverable failure.
func (c *Connection) abandon(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	c.cancel()
	c.cancel, c.done, c.sess = nil, nil, nil
	c.setStateLocked(entity.StateDisconnected)
}

func (c *Connection) setStateLocked(s entity.ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	c.opts.Metrics.SetState(s.String(), allStates...)
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (c *Connection) dispatch(ctx context.Context, userID int64, f *frame.Frame) {
	switch f.Header.Get(frame.Destination) {
	case stomp.MessageTopic(userID):
		var m entity.Message
		if err := json.Unmarshal(f.Body, &m); err != nil {
			logger.Warn("Dropping malformed message frame: %v", err)
			return
		}
		select {
		case c.messages <- m:
		case <-ctx.Done():
		}
	case stomp.TypingTopic(userID):
		var n entity.TypingNotice
		if err := json.Unmarshal(f.Body, &n); err != nil {
			logger.Warn("Dropping malformed typing frame: %v", err)
			return
		}
		select {
		case c.typing <- n:
		case <-ctx.Done():
		}
	default:
		logger.Debug("Ignoring frame for %s", f.Header.Get(frame.Destination))
	}
}

func (c *Connection) dial(ctx context.Context, creds Credentials) (*session, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, errors.Transport("invalid websocket url", err)
	}

	header := http.Header{}
	if creds.Token != "" {
		header.Set(stomp.AuthorizationHeader, "Bearer "+creds.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Authentication("credentials rejected", err)
		}
		return nil, errors.Transport("dial failed", err)
	}

	sess := &session{
		conn:     conn,
		userID:   creds.UserID,
		grace:    c.opts.HeartbeatGrace,
		metrics:  c.opts.Metrics,
		receipts: make(map[string]chan error),
	}
	if err := sess.handshake(u.Hostname(), creds.Token, c.opts.HeartbeatInterval, c.opts.HandshakeTimeout); err != nil {
		sess.close()
		return nil, err
	}
	return sess, nil
}

// session is one websocket connection with a completed STOMP handshake.
type session struct {
	conn    *websocket.Conn
	userID  int64
	grace   time.Duration
	metrics *metrics.Metrics

	sendEvery   time.Duration
	expectEvery time.Duration
	// early holds MESSAGE frames that arrived before the subscribe receipt.
	early []*frame.Frame

	// receipts holds one waiter per published message awaiting its receipt.
	receiptMu sync.Mutex
	receipts  map[string]chan error
	closed    bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *session) handshake(host, token string, heartbeat, timeout time.Duration) error {
	if err := s.write(stomp.Connect(host, token, heartbeat)); err != nil {
		return errors.Transport("failed to send CONNECT", err)
	}

	f, err := s.next(timeout)
	if err != nil {
		return errors.Transport("no CONNECTED frame", err)
	}
	switch f.Command {
	case frame.CONNECTED:
	case frame.ERROR:
		return errors.Authentication(errorMessage(f), nil)
	default:
		return errors.Transport("unexpected "+f.Command+" frame during handshake", nil)
	}

	s.sendEvery, s.expectEvery, err = stomp.Negotiate(heartbeat, heartbeat, f.Header.Get(frame.HeartBeat))
	if err != nil {
		return errors.Transport("invalid heart-beat header", err)
	}

	if err := s.write(stomp.Subscribe("sub-0", stomp.MessageTopic(s.userID), "")); err != nil {
		return errors.Transport("subscribe failed", err)
	}
	if err := s.write(stomp.Subscribe("sub-1", stomp.TypingTopic(s.userID), subscribedReceipt)); err != nil {
		return errors.Transport("subscribe failed", err)
	}

	for {
		f, err := s.next(timeout)
		if err != nil {
			return errors.Transport("no subscription receipt", err)
		}
		switch f.Command {
		case frame.RECEIPT:
			if f.Header.Get(frame.ReceiptId) == subscribedReceipt {
				return nil
			}
		case frame.MESSAGE:
			s.early = append(s.early, f)
		case frame.ERROR:
			return frameError(f)
		}
	}
}

// next reads until a non-heartbeat frame arrives or timeout elapses.
func (s *session) next(timeout time.Duration) (*frame.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.conn.SetReadDeadline(deadline)
		f, err := s.read()
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
}

func (s *session) read() (*frame.Frame, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	f, err := stomp.Decode(data)
	if err != nil {
		return nil, err
	}
	if f == nil {
		s.metrics.FrameIn("HEARTBEAT")
	} else {
		s.metrics.FrameIn(f.Command)
	}
	return f, nil
}

func (s *session) write(f *frame.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if f == nil {
		s.metrics.FrameOut("HEARTBEAT")
	} else {
		s.metrics.FrameOut(f.Command)
	}
	return nil
}

// run pumps inbound frames into dispatch until the connection fails or ctx
// ends. It sends heartbeats at the negotiated rate and treats inbound
// silence longer than the negotiated rate plus grace as a drop.
func (s *session) run(ctx context.Context, dispatch func(context.Context, int64, *frame.Frame)) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-stop:
		}
	}()

	if s.sendEvery > 0 {
		go s.heartbeat(s.sendEvery, stop)
	}

	for _, f := range s.early {
		dispatch(ctx, s.userID, f)
	}
	s.early = nil

	for {
		if s.expectEvery > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.expectEvery + s.grace))
		} else {
			s.conn.SetReadDeadline(time.Time{})
		}

		f, err := s.read()
		if err != nil {
			return errors.Transport("read failed", err)
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.MESSAGE:
			dispatch(ctx, s.userID, f)
		case frame.RECEIPT:
			s.settle(f.Header.Get(frame.ReceiptId), nil)
		case frame.ERROR:
			// A rejected SEND names its receipt and leaves the session up,
			// even when its publisher already gave up waiting.
			if id := f.Header.Get(frame.ReceiptId); id != "" {
				if !s.settle(id, rejection(f)) {
					logger.Debug("Late rejection for receipt %s: %s", id, errorMessage(f))
				}
				continue
			}
			return frameError(f)
		}
	}
}

// expect registers a waiter for receipt. The channel receives nil when the
// broker acknowledges, the rejection when it refuses, or a Transport error
// when the session closes first.
func (s *session) expect(receipt string) <-chan error {
	ch := make(chan error, 1)
	s.receiptMu.Lock()
	defer s.receiptMu.Unlock()
	if s.closed {
		ch <- errors.Transport("connection closed", nil)
		return ch
	}
	s.receipts[receipt] = ch
	return ch
}

func (s *session) forget(receipt string) {
	s.receiptMu.Lock()
	delete(s.receipts, receipt)
	s.receiptMu.Unlock()
}

// settle reports whether a waiter for receipt existed.
func (s *session) settle(receipt string, err error) bool {
	s.receiptMu.Lock()
	ch, ok := s.receipts[receipt]
	delete(s.receipts, receipt)
	s.receiptMu.Unlock()
	if ok {
		ch <- err
	}
	return ok
}

func (s *session) heartbeat(every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.write(nil); err != nil {
				return
			}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.conn.Close()

		s.receiptMu.Lock()
		s.closed = true
		for id, ch := range s.receipts {
			ch <- errors.Transport("connection closed before receipt", nil)
			delete(s.receipts, id)
		}
		s.receiptMu.Unlock()
	})
}

func errorMessage(f *frame.Frame) string {
	if msg := f.Header.Get(frame.Message); msg != "" {
		return msg
	}
	return "broker error"
}

// rejection is the error for a SEND the broker refused.
func rejection(f *frame.Frame) error {
	var cause error
	if len(f.Body) > 0 {
		cause = errors.BadRequest(string(f.Body), nil)
	}
	return errors.SendFailure(errorMessage(f), cause)
}

// frameError classifies an ERROR frame received after CONNECTED.
func frameError(f *frame.Frame) error {
	msg := errorMessage(f)
	if strings.HasPrefix(strings.ToLower(msg), "authentication") {
		return errors.Authentication(msg, nil)
	}
	return errors.Transport(msg, nil)
}
