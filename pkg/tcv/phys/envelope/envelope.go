// Package envelope wraps frames put on a shared medium with the origin
// station, so a station can recognize and skip its own frames.
package envelope

import (
	"errors"
	"sync/atomic"

	"github.com/golang/protobuf/proto"
)

// ErrNoFrame indicates an envelope without frame bytes.
var ErrNoFrame = errors.New("envelope without frame")

// Envelope is the wire message of a frame.
type Envelope struct {
	Origin  string `protobuf:"bytes,1,opt,name=origin,proto3" json:"origin,omitempty"`
	Channel uint32 `protobuf:"varint,2,opt,name=channel,proto3" json:"channel,omitempty"`
	Seq     uint64 `protobuf:"varint,3,opt,name=seq,proto3" json:"seq,omitempty"`
	Frame   []byte `protobuf:"bytes,4,opt,name=frame,proto3" json:"frame,omitempty"`
}

// Reset implements proto.Message.
func (m *Envelope) Reset() { *m = Envelope{} }

// String implements proto.Message.
func (m *Envelope) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Envelope) ProtoMessage() {}

// Encode serializes the envelope.
func (m *Envelope) Encode() ([]byte, error) {
	return proto.Marshal(m)
}

// Decode parses an envelope.
func Decode(data []byte) (*Envelope, error) {
	m := &Envelope{}
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, err
	}
	if len(m.Frame) == 0 {
		return nil, ErrNoFrame
	}
	return m, nil
}

// Sealer stamps outgoing frames of one station.
type Sealer struct {
	Origin  string
	Channel uint32

	seq uint64
}

// Seal wraps frame in a new envelope.
func (s *Sealer) Seal(frame []byte) *Envelope {
	return &Envelope{
		Origin:  s.Origin,
		Channel: s.Channel,
		Seq:     atomic.AddUint64(&s.seq, 1),
		Frame:   frame,
	}
}
