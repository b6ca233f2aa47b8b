package chat

import (
	"bytes"
	"errors"
)

// Message layout
const (
	PayloadSize = 27
	MessageSize = 3 + PayloadSize
)

// MaxNodeID is the largest valid node id; valid ids are 1..MaxNodeID.
const MaxNodeID = 25

var (
	// ErrShortMessage indicates fewer than MessageSize bytes.
	ErrShortMessage = errors.New("short message")
	// ErrBadNodeID indicates a node id out of 1..MaxNodeID.
	ErrBadNodeID = errors.New("invalid node id")
)

// Message is the chat packet payload.
type Message struct {
	Sender   byte
	Receiver byte
	Seq      byte
	Payload  [PayloadSize]byte
}

// NewMessage creates a Message. The text is cut to fit the payload with a
// terminating NUL.
func NewMessage(sender, receiver, seq byte, text string) *Message {
	m := &Message{Sender: sender, Receiver: receiver, Seq: seq}
	m.SetText(text)
	return m
}

// SetText sets the payload text.
func (m *Message) SetText(text string) {
	m.Payload = [PayloadSize]byte{}
	copy(m.Payload[:PayloadSize-1], text)
}

// Text returns the payload up to the first NUL.
func (m *Message) Text() string {
	if n := bytes.IndexByte(m.Payload[:], 0); n >= 0 {
		return string(m.Payload[:n])
	}
	return string(m.Payload[:])
}

// Broadcast reports whether the message is for every node.
func (m *Message) Broadcast() bool {
	return m.Receiver == 0 || m.Receiver == '0'
}

// MarshalTo writes the message into p.
func (m *Message) MarshalTo(p []byte) (int, error) {
	if len(p) < MessageSize {
		return 0, ErrShortMessage
	}
	p[0], p[1], p[2] = m.Sender, m.Receiver, m.Seq
	copy(p[3:], m.Payload[:])
	return MessageSize, nil
}

// DecodeMessage parses a message from p.
func DecodeMessage(p []byte) (*Message, error) {
	if len(p) < MessageSize {
		return nil, ErrShortMessage
	}
	m := &Message{Sender: p[0], Receiver: p[1], Seq: p[2]}
	copy(m.Payload[:], p[3:MessageSize])
	return m, nil
}

// ValidNodeID reports whether id is a valid node id.
func ValidNodeID(id int) bool {
	return id >= 1 && id <= MaxNodeID
}
