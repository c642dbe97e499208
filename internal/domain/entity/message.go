package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeVideo MessageType = "VIDEO"
	MessageTypeAudio MessageType = "AUDIO"
	MessageTypeFile  MessageType = "FILE"
	MessageTypeVoice MessageType = "VOICE"
)

// ParseMessageType accepts any casing; an empty string means TEXT.
func ParseMessageType(s string) (MessageType, error) {
	if s == "" {
		return MessageTypeText, nil
	}
	t := MessageType(strings.ToUpper(s))
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile, MessageTypeVoice:
		return t, nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// HasAttachment reports whether messages of this type carry an attachment URL.
func (t MessageType) HasAttachment() bool {
	return t != MessageTypeText && t != ""
}

// Identity is either Pending (not yet confirmed by the server) or Confirmed.
type Identity interface {
	isIdentity()
}

// Pending identifies an optimistic message by its client-generated id.
type Pending struct {
	LocalID string
}

// Confirmed identifies a server-acknowledged message. EchoOf carries the
// localId the server echoed back with it, if any; stores drop it on insert.
type Confirmed struct {
	ID     int64
	EchoOf string
}

func (Pending) isIdentity()   {}
func (Confirmed) isIdentity() {}

// ReplyRef quotes another message by content snapshot rather than live id.
type ReplyRef struct {
	SenderID int64  `json:"senderId"`
	Content  string `json:"content"`
}

type Message struct {
	Identity      Identity
	SenderID      int64
	ReceiverID    int64
	Content       string
	Type          MessageType
	AttachmentURL string
	CreatedAt     time.Time
	Read          bool
	Reactions     map[string]int
	ReplyTo       *ReplyRef
}

// NewPending builds an optimistic text message stamped at now.
func NewPending(localID string, senderID, receiverID int64, content string, now time.Time) Message {
	return Message{
		Identity:   Pending{LocalID: localID},
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       MessageTypeText,
		CreatedAt:  now,
	}
}

// ID returns the server id of a confirmed message.
func (m Message) ID() (int64, bool) {
	if c, ok := m.Identity.(Confirmed); ok {
		return c.ID, true
	}
	return 0, false
}

// LocalID returns the provisional id of a pending message.
func (m Message) LocalID() (string, bool) {
	if p, ok := m.Identity.(Pending); ok {
		return p.LocalID, true
	}
	return "", false
}

func (m Message) IsPending() bool {
	_, ok := m.Identity.(Pending)
	return ok
}

// PeerOf returns the other participant from the point of view of userID.
func (m Message) PeerOf(userID int64) int64 {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Clone returns a copy that shares no maps or pointers with m.
func (m Message) Clone() Message {
	out := m
	if m.Reactions != nil {
		out.Reactions = make(map[string]int, len(m.Reactions))
		for k, v := range m.Reactions {
			out.Reactions[k] = v
		}
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	return out
}

type wireMessage struct {
	ID            int64          `json:"id,omitempty"`
	LocalID       string         `json:"localId,omitempty"`
	SenderID      int64          `json:"senderId"`
	ReceiverID    int64          `json:"receiverId"`
	Content       string         `json:"content"`
	MessageType   MessageType    `json:"messageType"`
	AttachmentURL string         `json:"attachmentUrl,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	Read          bool           `json:"read"`
	Reactions     map[string]int `json:"reactions,omitempty"`
	ReplyTo       *ReplyRef      `json:"replyTo,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Content:       m.Content,
		MessageType:   m.Type,
		AttachmentURL: m.AttachmentURL,
		CreatedAt:     m.CreatedAt,
		Read:          m.Read,
		Reactions:     m.Reactions,
		ReplyTo:       m.ReplyTo,
	}
	switch id := m.Identity.(type) {
	case Pending:
		w.LocalID = id.LocalID
	case Confirmed:
		w.ID = id.ID
		w.LocalID = id.EchoOf
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t, err := ParseMessageType(string(w.MessageType))
	if err != nil {
		return err
	}
	*m = Message{
		SenderID:      w.SenderID,
		ReceiverID:    w.ReceiverID,
		Content:       w.Content,
		Type:          t,
		AttachmentURL: w.AttachmentURL,
		CreatedAt:     w.CreatedAt,
		Read:          w.Read,
		Reactions:     w.Reactions,
		ReplyTo:       w.ReplyTo,
	}
	if w.ID != 0 {
		m.Identity = Confirmed{ID: w.ID, EchoOf: w.LocalID}
	} else {
		m.Identity = Pending{LocalID: w.LocalID}
	}
	return nil
}
