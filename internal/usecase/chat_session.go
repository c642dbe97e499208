package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/internal/domain/service"
	"chatsync/internal/infrastructure/metrics"
	"chatsync/pkg/config"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// Transport is the live channel a session publishes on and listens to.
// *websocket.Connection satisfies it; connecting and disconnecting stay with
// the owner of the connection.
type Transport interface {
	Publish(event entity.OutboundEvent) (bool, error)
	SubscribeState() (<-chan entity.ConnectionState, func())
	Messages() <-chan entity.Message
	TypingNotices() <-chan entity.TypingNotice
}

var ErrSessionClosed = errors.Internal("chat session is not running", nil)

type UpdateKind int

const (
	// UpdateMessages carries the open conversation's message list.
	UpdateMessages UpdateKind = iota
	UpdateSummaries
	UpdateTyping
	UpdateConnection
	// UpdateSendFailed reports a rolled back placeholder.
	UpdateSendFailed
	UpdateUnreadTotal
)

// Update is a snapshot pushed to the presentation layer. Only the fields
// relevant to Kind are set.
type Update struct {
	Kind        UpdateKind
	PeerID      int64
	Messages    []entity.Message
	Summaries   []entity.ConversationSummary
	Typing      bool
	State       entity.ConnectionState
	UnreadTotal int
	LocalID     string
	Err         error
}

// Draft is an outgoing message before it gets a local id.
type Draft struct {
	Content       string
	Type          entity.MessageType
	AttachmentURL string
	ReplyTo       *entity.ReplyRef
}

type SessionOptions struct {
	Principal    entity.Principal
	Assistant    service.AssistantEntry
	LanguageCode string

	ReconcileWindow             time.Duration
	TypingExpiry                time.Duration
	ConversationRefreshInterval time.Duration
	UnreadPollInterval          time.Duration
	AutoMarkRead                bool

	Metrics    *metrics.Metrics
	Now        func() time.Time
	NewLocalID func() string
}

// SessionOptionsFromConfig derives session options for principal.
func SessionOptionsFromConfig(cfg *config.Config, principal entity.Principal) SessionOptions {
	return SessionOptions{
		Principal: principal,
		Assistant: service.AssistantEntry{
			Enabled:     cfg.AssistantEnabledFor(principal.Role),
			PeerID:      cfg.AssistantPeerID,
			Name:        cfg.AssistantName,
			Placeholder: cfg.AssistantPlaceholder,
		},
		LanguageCode:                cfg.LanguageCode,
		ReconcileWindow:             cfg.ReconcileWindow,
		TypingExpiry:                cfg.TypingExpiry,
		ConversationRefreshInterval: cfg.ConversationRefreshInterval,
		UnreadPollInterval:          cfg.UnreadPollInterval,
		AutoMarkRead:                cfg.AutoMarkRead,
	}
}

// ChatSession is the client-side view of one user's chats. Run owns all
// mutable state; the exported methods hand work to it through the mailbox.
type ChatSession struct {
	opts      SessionOptions
	transport Transport
	repo      repository.ChatRepository
	peers     repository.PeerDirectory

	mailbox chan func()
	updates chan Update
	stopped chan struct{}
	typing  *service.TypingTracker

	// Owned by Run.
	runCtx        context.Context
	state         entity.ConnectionState
	everConnected bool
	open          int64
	hasOpen       bool
	store         *service.MessageStore
	agg           *service.ConversationAggregator
	totalUnread   int
	assistantLog  []entity.Message
	localSeq      int64
	lookups       map[int64]bool
}

// NewChatSession wires a session. peers may be nil, in which case summaries
// carry no partner names except the assistant's.
func NewChatSession(transport Transport, repo repository.ChatRepository, peers repository.PeerDirectory, opts SessionOptions) *ChatSession {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewLocalID == nil {
		opts.NewLocalID = func() string { return uuid.NewString() }
	}
	if opts.LanguageCode == "" {
		opts.LanguageCode = "en"
	}

	s := &ChatSession{
		opts:      opts,
		transport: transport,
		repo:      repo,
		peers:     peers,
		mailbox:   make(chan func(), 64),
		updates:   make(chan Update, 256),
		stopped:   make(chan struct{}),
		store:     service.NewMessageStore(opts.ReconcileWindow),
		agg:       service.NewConversationAggregator(opts.Principal.UserID, opts.Assistant),
		lookups:   make(map[int64]bool),
	}
	s.typing = service.NewTypingTracker(opts.TypingExpiry, func(peerID int64, typing bool) {
		s.emit(Update{Kind: UpdateTyping, PeerID: peerID, Typing: typing})
	})
	return s
}

// Updates streams snapshots for rendering. Updates are dropped, not queued,
// when the reader falls behind; the query methods always return current state.
func (s *ChatSession) Updates() <-chan Update {
	return s.updates
}

// Run processes events until ctx is cancelled. It must be running for any
// other method to make progress.
func (s *ChatSession) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer s.typing.Reset()

	s.runCtx = ctx
	states, unsubscribe := s.transport.SubscribeState()
	defer unsubscribe()

	refresh := time.NewTicker(s.opts.ConversationRefreshInterval)
	defer refresh.Stop()
	unread := time.NewTicker(s.opts.UnreadPollInterval)
	defer unread.Stop()

	s.refreshConversations()
	s.pollUnread()
	s.emitSummaries()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.mailbox:
			fn()
		case m := <-s.transport.Messages():
			s.onMessage(m)
		case n := <-s.transport.TypingNotices():
			if n.SenderID != s.opts.Principal.UserID {
				s.typing.Notice(n)
			}
		case st := <-states:
			s.onState(st)
		case <-refresh.C:
			s.refreshConversations()
			if s.hasOpen && s.store.PendingCount() > 0 {
				s.resyncOpen()
			}
		case <-unread.C:
			s.pollUnread()
		}
	}
}

// Open makes peerID the current conversation and waits for its history.
// A history failure leaves the conversation open and empty.
func (s *ChatSession) Open(ctx context.Context, peerID int64) error {
	loaded := make(chan error, 1)
	err := s.call(ctx, func() {
		s.open, s.hasOpen = peerID, true
		s.store = service.NewMessageStore(s.opts.ReconcileWindow)
		s.emitMessages()
		s.lookupName(peerID)

		if s.isAssistant(peerID) {
			for _, m := range s.assistantLog {
				s.store.Reconcile(m)
			}
			s.emitMessages()
			loaded <- nil
			return
		}
		s.loadHistory(peerID, loaded)
	})
	if err != nil {
		return err
	}
	return s.wait(ctx, loaded)
}

// Send posts draft to the open conversation. It returns once the outcome is
// known: published (the echo confirms it later), confirmed by the fallback,
// or rolled back with a SendFailure.
func (s *ChatSession) Send(ctx context.Context, draft Draft) error {
	result := make(chan error, 1)
	if err := s.post(ctx, func() { s.send(draft, result) }); err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// OnInput reports a change of the local compose text. While connected it
// publishes a typing notice to the open peer.
func (s *ChatSession) OnInput(ctx context.Context, text string) error {
	return s.post(ctx, func() {
		if !s.hasOpen || s.isAssistant(s.open) || s.state != entity.StateConnected {
			return
		}
		s.publishTyping(s.open, text != "")
	})
}

// MarkRead flags individual received messages as read.
func (s *ChatSession) MarkRead(ctx context.Context, ids ...int64) error {
	return s.post(ctx, func() { s.markRead(ids) })
}

// MarkConversationRead flags everything peerID sent as read. Local state is
// updated immediately and kept even if the request fails; the unread poll
// corrects it.
func (s *ChatSession) MarkConversationRead(ctx context.Context, peerID int64) error {
	result := make(chan error, 1)
	if err := s.post(ctx, func() { s.markConversationRead(peerID, result) }); err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// React adds symbol to a message and folds the updated message back in.
func (s *ChatSession) React(ctx context.Context, messageID int64, symbol string) error {
	result := make(chan error, 1)
	err := s.post(ctx, func() {
		s.goAsync(func(ctx context.Context) func() {
			updated, err := s.repo.AddReaction(ctx, messageID, symbol)
			return func() {
				if err != nil {
					result <- err
					return
				}
				s.agg.Observe(updated)
				if s.hasOpen && updated.PeerOf(s.opts.Principal.UserID) == s.open {
					s.store.Reconcile(updated)
					s.emitMessages()
				}
				s.emitSummaries()
				result <- nil
			}
		})
	})
	if err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// Messages returns the open conversation, oldest first.
func (s *ChatSession) Messages(ctx context.Context) ([]entity.Message, error) {
	var out []entity.Message
	err := s.call(ctx, func() { out = s.store.Messages() })
	return out, err
}

func (s *ChatSession) Summaries(ctx context.Context) ([]entity.ConversationSummary, error) {
	var out []entity.ConversationSummary
	err := s.call(ctx, func() { out = s.agg.Summaries() })
	return out, err
}

// TotalUnread is the server-wide unread count: the last polled value moved
// by messages received and read since.
func (s *ChatSession) TotalUnread(ctx context.Context) (int, error) {
	var n int
	err := s.call(ctx, func() { n = s.totalUnread })
	return n, err
}

func (s *ChatSession) State(ctx context.Context) (entity.ConnectionState, error) {
	var st entity.ConnectionState
	err := s.call(ctx, func() { st = s.state })
	return st, err
}

func (s *ChatSession) IsTyping(peerID int64) bool {
	return s.typing.IsTyping(peerID)
}

func (s *ChatSession) send(draft Draft, result chan<- error) {
	if !s.hasOpen {
		result <- errors.BadRequest("no conversation is open", nil)
		return
	}
	if draft.Content == "" {
		result <- errors.BadRequest("message is empty", nil)
		return
	}

	peerID := s.open
	me := s.opts.Principal.UserID
	content := draft.Content
	if draft.ReplyTo != nil {
		content = entity.QuoteReply(*draft.ReplyTo, content)
	}

	localID := s.opts.NewLocalID()
	placeholder := entity.NewPending(localID, me, peerID, content, s.opts.Now())
	if draft.Type != "" {
		placeholder.Type = draft.Type
	}
	placeholder.AttachmentURL = draft.AttachmentURL
	placeholder.ReplyTo = draft.ReplyTo

	if err := s.store.InsertOptimistic(placeholder); err != nil {
		result <- errors.SendFailure("message not sent", err)
		return
	}
	s.emitMessages()
	store := s.store

	if s.isAssistant(peerID) {
		s.askAssistant(store, placeholder, result)
		return
	}

	req := entity.SendRequest{
		ReceiverID:    peerID,
		Content:       content,
		Type:          placeholder.Type,
		AttachmentURL: draft.AttachmentURL,
		LocalID:       localID,
	}
	s.goAsync(func(ctx context.Context) func() {
		published, err := s.transport.Publish(req)
		if errors.Is(err, errors.CodeSendFailure) {
			return func() {
				s.opts.Metrics.Send("publish", "rejected")
				s.rollback(store, peerID, localID, err, result)
			}
		}
		if err != nil {
			logger.Warn("Publish failed, sending %s over REST: %v", localID, err)
		}
		if published {
			s.opts.Metrics.Send("publish", "ok")
			s.transport.Publish(entity.TypingNotice{SenderID: me, ReceiverID: peerID, Typing: false})
			return func() { result <- nil }
		}

		confirmed, err := s.repo.Send(ctx, req)
		return func() {
			if err != nil {
				s.opts.Metrics.Send("fallback", "failed")
				s.rollback(store, peerID, localID, err, result)
				return
			}
			s.opts.Metrics.Send("fallback", "ok")
			outcome := store.Confirm(localID, confirmed)
			s.opts.Metrics.Reconcile(outcome.String())
			s.agg.Observe(confirmed)
			if store == s.store {
				s.emitMessages()
			}
			s.emitSummaries()
			result <- nil
		}
	})
}

func (s *ChatSession) askAssistant(store *service.MessageStore, question entity.Message, result chan<- error) {
	localID, _ := question.LocalID()
	peerID := question.ReceiverID
	s.goAsync(func(ctx context.Context) func() {
		reply, err := s.repo.AssistantReply(ctx, question.Content, s.opts.LanguageCode)
		return func() {
			if err != nil {
				s.opts.Metrics.Send("assistant", "failed")
				s.rollback(store, peerID, localID, err, result)
				return
			}
			s.opts.Metrics.Send("assistant", "ok")

			user := question.Clone()
			user.Identity = entity.Confirmed{ID: s.nextLocalID()}
			user.Read = true

			if reply.IsPending() {
				reply.Identity = entity.Confirmed{ID: s.nextLocalID()}
			}
			reply.SenderID = peerID
			reply.ReceiverID = s.opts.Principal.UserID
			reply.Read = true
			if reply.CreatedAt.IsZero() || !reply.CreatedAt.After(user.CreatedAt) {
				reply.CreatedAt = user.CreatedAt.Add(time.Millisecond)
			}

			store.Confirm(localID, user)
			store.Reconcile(reply)
			s.assistantLog = append(s.assistantLog, user, reply)
			s.agg.Observe(user)
			s.agg.Observe(reply)
			if store == s.store {
				s.emitMessages()
			}
			s.emitSummaries()
			result <- nil
		}
	})
}

func (s *ChatSession) rollback(store *service.MessageStore, peerID int64, localID string, cause error, result chan<- error) {
	store.RemoveOptimistic(localID)
	if store == s.store {
		s.emitMessages()
	}
	failure := errors.SendFailure("message not sent", cause)
	logger.Warn("Rolled back message %s to %d: %v", localID, peerID, cause)
	s.emit(Update{Kind: UpdateSendFailed, PeerID: peerID, LocalID: localID, Err: failure})
	result <- failure
}

// nextLocalID hands out negative ids for messages that never reach the server.
func (s *ChatSession) nextLocalID() int64 {
	s.localSeq--
	return s.localSeq
}

func (s *ChatSession) onMessage(m entity.Message) {
	me := s.opts.Principal.UserID
	if m.SenderID != me && m.ReceiverID != me {
		return
	}
	peerID := m.PeerOf(me)
	before := s.agg.TotalUnread()
	s.agg.Observe(m)
	s.adjustUnread(before)
	s.lookupName(peerID)

	if s.hasOpen && peerID == s.open {
		outcome := s.store.Reconcile(m)
		s.opts.Metrics.Reconcile(outcome.String())
		s.emitMessages()

		if id, ok := m.ID(); ok && s.opts.AutoMarkRead && m.ReceiverID == me && !m.Read {
			s.markRead([]int64{id})
		}
	}
	s.emitSummaries()
}

func (s *ChatSession) onState(st entity.ConnectionState) {
	if st == s.state {
		return
	}
	s.state = st
	s.emit(Update{Kind: UpdateConnection, State: st})

	switch st {
	case entity.StateConnected:
		if s.everConnected {
			logger.Info("Reconnected, resynchronising")
			s.resyncOpen()
			s.refreshConversations()
			s.pollUnread()
		}
		s.everConnected = true
	case entity.StateReconnecting, entity.StateDisconnected:
		// Peers' typing notices can't arrive while the channel is down.
		if s.hasOpen && s.typing.IsTyping(s.open) {
			s.emit(Update{Kind: UpdateTyping, PeerID: s.open, Typing: false})
		}
		s.typing.Reset()
	}
}

// loadHistory fetches peerID's history and reconciles it into the store that
// is current now. Placeholders inserted meanwhile survive and can be matched.
func (s *ChatSession) loadHistory(peerID int64, done chan<- error) {
	store := s.store
	s.goAsync(func(ctx context.Context) func() {
		history, err := s.repo.Conversation(ctx, peerID)
		return func() {
			if err != nil {
				logger.Error("Failed to load conversation with %d: %v", peerID, err)
				notify(done, err)
				return
			}
			if store != s.store {
				logger.Debug("Discarding stale history for %d", peerID)
				notify(done, nil)
				return
			}
			for _, m := range history {
				s.opts.Metrics.Reconcile(store.Reconcile(m).String())
			}
			s.agg.ObserveHistory(peerID, history)
			s.emitMessages()
			s.emitSummaries()

			if s.opts.AutoMarkRead && len(store.UnreadFrom(peerID)) > 0 {
				s.markConversationRead(peerID, nil)
			}
			notify(done, nil)
		}
	})
}

func (s *ChatSession) resyncOpen() {
	if !s.hasOpen || s.isAssistant(s.open) {
		return
	}
	s.loadHistory(s.open, nil)
}

func (s *ChatSession) refreshConversations() {
	s.goAsync(func(ctx context.Context) func() {
		latest, err := s.repo.Conversations(ctx)
		return func() {
			if err != nil {
				logger.Warn("Conversation refresh failed: %v", err)
				return
			}
			s.agg.ObserveLatest(latest)
			for _, m := range latest {
				s.lookupName(m.PeerOf(s.opts.Principal.UserID))
			}
			s.emitSummaries()
		}
	})
}

func (s *ChatSession) pollUnread() {
	peers := s.agg.Peers()
	s.goAsync(func(ctx context.Context) func() {
		total, err := s.repo.UnreadCount(ctx)
		if err != nil {
			return func() { logger.Warn("Unread poll failed: %v", err) }
		}
		perPeer := make(map[int64]int, len(peers))
		for _, peerID := range peers {
			if s.isAssistant(peerID) {
				continue
			}
			n, err := s.repo.UnreadCountWith(ctx, peerID)
			if err != nil {
				logger.Debug("Unread poll for %d failed: %v", peerID, err)
				continue
			}
			perPeer[peerID] = n
		}
		return func() {
			for peerID, n := range perPeer {
				s.agg.SetServerUnread(peerID, n)
			}
			if total != s.totalUnread {
				s.totalUnread = total
				s.emit(Update{Kind: UpdateUnreadTotal, UnreadTotal: total})
			}
			s.emitSummaries()
		}
	})
}

func (s *ChatSession) markRead(ids []int64) {
	changed := s.store.MarkRead(ids)
	if len(changed) == 0 {
		return
	}
	before := s.agg.TotalUnread()
	s.agg.MarkRead(changed...)
	s.adjustUnread(before)
	s.emitMessages()
	s.emitSummaries()

	s.goAsync(func(ctx context.Context) func() {
		for _, id := range changed {
			if err := s.repo.MarkRead(ctx, id); err != nil {
				logger.Warn("Failed to mark message %d read: %v", id, err)
			}
		}
		return nil
	})
}

func (s *ChatSession) markConversationRead(peerID int64, result chan<- error) {
	if s.hasOpen && s.open == peerID {
		s.store.MarkAllReadFrom(peerID)
		s.emitMessages()
	}
	before := s.agg.TotalUnread()
	s.agg.MarkConversationRead(peerID)
	s.adjustUnread(before)
	s.emitSummaries()

	if s.isAssistant(peerID) {
		notify(result, nil)
		return
	}
	s.goAsync(func(ctx context.Context) func() {
		err := s.repo.MarkConversationRead(ctx, peerID)
		if err != nil {
			logger.Warn("Failed to mark conversation %d read: %v", peerID, err)
		}
		notify(result, err)
		return nil
	})
}

func (s *ChatSession) publishTyping(peerID int64, typing bool) {
	notice := entity.TypingNotice{SenderID: s.opts.Principal.UserID, ReceiverID: peerID, Typing: typing}
	s.goAsync(func(ctx context.Context) func() {
		if _, err := s.transport.Publish(notice); err != nil {
			logger.Debug("Typing notice not sent: %v", err)
		}
		return nil
	})
}

func (s *ChatSession) lookupName(peerID int64) {
	if s.peers == nil || s.agg.HasName(peerID) || s.lookups[peerID] {
		return
	}
	s.lookups[peerID] = true
	s.goAsync(func(ctx context.Context) func() {
		peer, err := s.peers.Peer(ctx, peerID)
		return func() {
			delete(s.lookups, peerID)
			if err != nil {
				logger.Debug("Name lookup for %d failed: %v", peerID, err)
				return
			}
			s.agg.SetName(peerID, peer.Name)
			s.emitSummaries()
		}
	})
}

func (s *ChatSession) isAssistant(peerID int64) bool {
	return s.opts.Assistant.Enabled && peerID == s.opts.Assistant.PeerID
}

func (s *ChatSession) emitMessages() {
	if !s.hasOpen {
		return
	}
	s.emit(Update{Kind: UpdateMessages, PeerID: s.open, Messages: s.store.Messages()})
}

// adjustUnread moves the badge by the change in locally known unread messages
// since before was taken. The next poll replaces it with the server's count.
func (s *ChatSession) adjustUnread(before int) {
	delta := s.agg.TotalUnread() - before
	if delta == 0 {
		return
	}
	total := s.totalUnread + delta
	if total < 0 {
		total = 0
	}
	if total != s.totalUnread {
		s.totalUnread = total
		s.emit(Update{Kind: UpdateUnreadTotal, UnreadTotal: total})
	}
}

func (s *ChatSession) emitSummaries() {
	s.emit(Update{Kind: UpdateSummaries, Summaries: s.agg.Summaries()})
}

func (s *ChatSession) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		logger.Debug("Update channel full, dropping kind %d", u.Kind)
	}
}

// goAsync runs work off the loop. The closure work returns, if any, is applied
// on the loop afterwards.
func (s *ChatSession) goAsync(work func(ctx context.Context) func()) {
	ctx := s.runCtx
	go func() {
		apply := work(ctx)
		if apply == nil {
			return
		}
		select {
		case s.mailbox <- apply:
		case <-s.stopped:
		}
	}()
}

func (s *ChatSession) post(ctx context.Context, fn func()) error {
	select {
	case <-s.stopped:
		return ErrSessionClosed
	default:
	}
	select {
	case s.mailbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrSessionClosed
	}
}

// call runs fn on the loop and waits for it to finish.
func (s *ChatSession) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := s.post(ctx, func() { fn(); close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrSessionClosed
	}
}

func (s *ChatSession) wait(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrSessionClosed
	}
}

func notify(ch chan<- error, err error) {
	if ch != nil {
		ch <- err
	}
}
