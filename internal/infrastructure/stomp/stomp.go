// Package stomp carries STOMP 1.2 frames over websocket messages: one frame
// per text message, a lone newline as heartbeat.
package stomp

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

const (
	// Subprotocol is negotiated during the websocket handshake.
	Subprotocol = "v12.stomp"
	Version     = "1.2"

	SendDestination   = "/app/chat.send"
	TypingDestination = "/app/chat.typing"

	AuthorizationHeader = "Authorization"
	ContentTypeJSON     = "application/json"
)

// Heartbeat is the payload of an empty keep-alive message.
var Heartbeat = []byte("\n")

// MessageTopic is the per-user destination confirmed messages arrive on.
func MessageTopic(userID int64) string {
	return "/user/" + strconv.FormatInt(userID, 10) + "/queue/messages"
}

// TypingTopic is the per-user destination typing notices arrive on.
func TypingTopic(userID int64) string {
	return "/user/" + strconv.FormatInt(userID, 10) + "/queue/typing"
}

// Encode serialises f. A nil frame encodes as a heartbeat.
func Encode(f *frame.Frame) ([]byte, error) {
	if f == nil {
		return Heartbeat, nil
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses one websocket message. It returns a nil frame for heartbeats.
func Decode(data []byte) (*frame.Frame, error) {
	if len(bytes.TrimLeft(data, "\r\n")) == 0 {
		return nil, nil
	}
	return frame.NewReader(bytes.NewReader(data)).Read()
}

// Connect builds the client CONNECT frame.
func Connect(host, token string, heartbeat time.Duration) *frame.Frame {
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, Version,
		frame.Host, host,
		frame.HeartBeat, FormatHeartBeat(heartbeat, heartbeat),
	)
	if token != "" {
		f.Header.Add(AuthorizationHeader, "Bearer "+token)
	}
	return f
}

// Connected builds the server's answer to CONNECT.
func Connected(session string, sendEvery, expectEvery time.Duration) *frame.Frame {
	return frame.New(frame.CONNECTED,
		frame.Version, Version,
		frame.Session, session,
		frame.HeartBeat, FormatHeartBeat(sendEvery, expectEvery),
	)
}

func Subscribe(id, destination, receipt string) *frame.Frame {
	f := frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
	if receipt != "" {
		f.Header.Add(frame.Receipt, receipt)
	}
	return f
}

// Send builds a SEND frame carrying a JSON body. A non-empty receipt asks
// the broker to acknowledge or reject the frame.
func Send(destination string, body []byte, receipt string) *frame.Frame {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, ContentTypeJSON,
		frame.ContentLength, strconv.Itoa(len(body)),
	)
	if receipt != "" {
		f.Header.Add(frame.Receipt, receipt)
	}
	f.Body = body
	return f
}

// Message builds the frame a broker delivers to a subscriber.
func Message(destination, subscription, messageID string, body []byte) *frame.Frame {
	f := frame.New(frame.MESSAGE,
		frame.Destination, destination,
		frame.Subscription, subscription,
		frame.MessageId, messageID,
		frame.ContentType, ContentTypeJSON,
		frame.ContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	return f
}

func Receipt(id string) *frame.Frame {
	return frame.New(frame.RECEIPT, frame.ReceiptId, id)
}

// Error builds an ERROR frame; the short message goes in the header.
func Error(message, detail string) *frame.Frame {
	f := frame.New(frame.ERROR, frame.Message, message)
	if detail != "" {
		f.Header.Add(frame.ContentType, "text/plain")
		f.Body = []byte(detail)
	}
	return f
}

// Rejection is the ERROR frame answering a SEND the broker refused. It names
// the refused frame's receipt and leaves the session open.
func Rejection(receipt, message, detail string) *frame.Frame {
	f := Error(message, detail)
	f.Header.Add(frame.ReceiptId, receipt)
	return f
}

func Disconnect() *frame.Frame {
	return frame.New(frame.DISCONNECT)
}

// FormatHeartBeat renders a heart-beat header value in milliseconds.
func FormatHeartBeat(send, receive time.Duration) string {
	return fmt.Sprintf("%d,%d", send.Milliseconds(), receive.Milliseconds())
}

// Negotiate returns how often this side must send heartbeats and how often it
// should expect them, given its own offer and the peer's heart-beat header.
// A zero duration disables that direction.
func Negotiate(ownSend, ownReceive time.Duration, peerHeader string) (sendEvery, expectEvery time.Duration, err error) {
	if peerHeader == "" {
		return 0, 0, nil
	}
	peerSend, peerReceive, err := frame.ParseHeartBeat(peerHeader)
	if err != nil {
		return 0, 0, err
	}
	if ownSend > 0 && peerReceive > 0 {
		sendEvery = maxDuration(ownSend, peerReceive)
	}
	if ownReceive > 0 && peerSend > 0 {
		expectEvery = maxDuration(ownReceive, peerSend)
	}
	return sendEvery, expectEvery, nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
