package entity

// OutboundEvent is anything a client may publish on the live channel.
type OutboundEvent interface {
	isOutbound()
}

// SendRequest asks the server to persist and deliver a message. LocalID is
// echoed back on the confirmation so the sender can match its placeholder.
type SendRequest struct {
	ReceiverID    int64       `json:"receiverId" validate:"required"`
	Content       string      `json:"content" validate:"required,max=4000"`
	Type          MessageType `json:"messageType"`
	AttachmentURL string      `json:"attachmentUrl,omitempty" validate:"omitempty,url"`
	LocalID       string      `json:"localId,omitempty"`
}

// TypingNotice signals that SenderID started or stopped typing to ReceiverID.
type TypingNotice struct {
	SenderID   int64 `json:"senderId"`
	ReceiverID int64 `json:"receiverId"`
	Typing     bool  `json:"typing"`
}

func (SendRequest) isOutbound()  {}
func (TypingNotice) isOutbound() {}
