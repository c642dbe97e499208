package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"chatsync/internal/domain/entity"
	"chatsync/internal/usecase"
	"chatsync/pkg/errors"
)

// terminal prints session updates as a scrolling transcript.
type terminal struct {
	out io.Writer
	me  int64

	mu          sync.Mutex
	peer        int64
	names       map[int64]string
	printed     map[string]bool
	typing      bool
	unreadTotal int
}

func newTerminal(out io.Writer, me, assistantID int64, assistantName string) *terminal {
	return &terminal{
		out:     out,
		me:      me,
		names:   map[int64]string{assistantID: assistantName},
		printed: make(map[string]bool),
	}
}

func (t *terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) open(ctx context.Context, session *usecase.ChatSession, peerID int64) error {
	t.mu.Lock()
	t.peer = peerID
	t.printed = make(map[string]bool)
	t.typing = false
	t.mu.Unlock()

	if err := session.Open(ctx, peerID); err != nil {
		return err
	}
	t.printf("-- conversation with %s --\n", t.name(peerID))
	return nil
}

// handle runs one input line. It reports true when the user asked to quit.
func (t *terminal) handle(ctx context.Context, session *usecase.ChatSession, line string) (bool, error) {
	c, err := parseCommand(line)
	if err != nil {
		return false, err
	}

	switch c.kind {
	case cmdQuit:
		return true, nil
	case cmdList:
		summaries, err := session.Summaries(ctx)
		if err != nil {
			return false, err
		}
		total, _ := session.TotalUnread(ctx)
		t.printf("%s", formatSummaries(summaries, total))
	case cmdOpen:
		return false, t.open(ctx, session, c.peerID)
	case cmdRead:
		return false, session.MarkConversationRead(ctx, t.currentPeer())
	case cmdReact:
		return false, session.React(ctx, c.msgID, c.text)
	case cmdReply:
		msgs, err := session.Messages(ctx)
		if err != nil {
			return false, err
		}
		ref, ok := findReplyRef(msgs, c.msgID)
		if !ok {
			return false, errors.NotFound("message "+strconv.FormatInt(c.msgID, 10), nil)
		}
		return false, session.Send(ctx, usecase.Draft{Content: c.text, ReplyTo: &ref})
	case cmdSend:
		if strings.TrimSpace(c.text) == "" {
			return false, nil
		}
		_ = session.OnInput(ctx, c.text)
		return false, session.Send(ctx, usecase.Draft{Content: c.text})
	}
	return false, nil
}

func (t *terminal) render(updates <-chan usecase.Update) {
	for u := range updates {
		t.apply(u)
	}
}

func (t *terminal) apply(u usecase.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch u.Kind {
	case usecase.UpdateMessages:
		if u.PeerID != t.peer {
			return
		}
		for _, m := range u.Messages {
			if line, ok := t.newLine(m); ok {
				fmt.Fprintln(t.out, line)
			}
		}
	case usecase.UpdateSummaries:
		for _, s := range u.Summaries {
			if s.PartnerName != "" {
				t.names[s.PartnerID] = s.PartnerName
			}
		}
	case usecase.UpdateTyping:
		if u.PeerID == t.peer && u.Typing != t.typing {
			t.typing = u.Typing
			if u.Typing {
				fmt.Fprintf(t.out, "   %s is typing...\n", t.nameLocked(u.PeerID))
			}
		}
	case usecase.UpdateConnection:
		fmt.Fprintf(t.out, "[%s]\n", u.State)
	case usecase.UpdateSendFailed:
		fmt.Fprintf(t.out, "! not sent: %v\n", u.Err)
	case usecase.UpdateUnreadTotal:
		if u.UnreadTotal != t.unreadTotal {
			t.unreadTotal = u.UnreadTotal
			fmt.Fprintf(t.out, "[unread: %d]\n", u.UnreadTotal)
		}
	}
}

// newLine formats m unless it was printed before. A confirmed message whose
// placeholder was already shown is only marked.
func (t *terminal) newLine(m entity.Message) (string, bool) {
	var key string
	switch id := m.Identity.(type) {
	case entity.Confirmed:
		key = "#" + strconv.FormatInt(id.ID, 10)
		if id.EchoOf != "" && t.printed["~"+id.EchoOf] {
			t.printed[key] = true
			return "", false
		}
	case entity.Pending:
		key = "~" + id.LocalID
	}
	if t.printed[key] {
		return "", false
	}
	t.printed[key] = true
	return formatMessage(m, t.me, t.nameLocked(m.SenderID)), true
}

func (t *terminal) currentPeer() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peer
}

func (t *terminal) name(id int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nameLocked(id)
}

func (t *terminal) nameLocked(id int64) string {
	if n, ok := t.names[id]; ok && n != "" {
		return n
	}
	return "user " + strconv.FormatInt(id, 10)
}

func formatMessage(m entity.Message, me int64, senderName string) string {
	var b strings.Builder
	b.WriteString(m.CreatedAt.Local().Format("15:04"))
	if id, ok := m.ID(); ok && id > 0 {
		fmt.Fprintf(&b, " [%d]", id)
	} else if m.IsPending() {
		b.WriteString(" [..]")
	}
	if m.SenderID == me {
		b.WriteString(" me: ")
	} else {
		b.WriteString(" " + senderName + ": ")
	}

	body, ref := entity.ParseReply(m.Content)
	if ref != nil {
		fmt.Fprintf(&b, "(re: %q) ", ref.Content)
	}
	b.WriteString(body)
	if m.AttachmentURL != "" {
		b.WriteString(" <" + m.AttachmentURL + ">")
	}

	if len(m.Reactions) > 0 {
		symbols := make([]string, 0, len(m.Reactions))
		for s := range m.Reactions {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			fmt.Fprintf(&b, " %s%d", s, m.Reactions[s])
		}
	}
	return b.String()
}

func formatSummaries(summaries []entity.ConversationSummary, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %d unread --\n", total)
	for _, s := range summaries {
		name := s.PartnerName
		if name == "" {
			name = "user " + strconv.FormatInt(s.PartnerID, 10)
		}
		fmt.Fprintf(&b, "%6d  %-16s", s.PartnerID, name)
		if s.UnreadCount > 0 {
			fmt.Fprintf(&b, " (%d)", s.UnreadCount)
		}
		if s.LastMessageContent != "" {
			body, _ := entity.ParseReply(s.LastMessageContent)
			fmt.Fprintf(&b, "  %s", body)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func findReplyRef(msgs []entity.Message, id int64) (entity.ReplyRef, bool) {
	for _, m := range msgs {
		if got, ok := m.ID(); ok && got == id {
			body, _ := entity.ParseReply(m.Content)
			return entity.ReplyRef{SenderID: m.SenderID, Content: body}, true
		}
	}
	return entity.ReplyRef{}, false
}
