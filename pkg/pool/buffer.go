package pool

import "errors"

var (
	// ErrOverrun indicates a read or write past the payload bounds.
	ErrOverrun = errors.New("buffer overrun")
	// ErrBadBounds indicates head/tail reservations larger than the frame.
	ErrBadBounds = errors.New("bad payload bounds")
)

const noSlot int32 = -1

// Buffer is a packet buffer owned by a Pool. The frame holds the payload
// between a head and a tail reservation; Read and Write move a cursor
// through the payload.
type Buffer struct {
	attr Attr
	data []byte
	head int
	tail int
	pos  int

	slot   int32
	prev   int32
	next   int32
	queue  *Queue
	free   bool
	charge int
}

// Len returns the frame length in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the capacity of the backing storage.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Attr returns the attributes.
func (b *Buffer) Attr() Attr {
	return b.attr
}

// SetAttr stamps the routing and flag bits. The queued bit is owned by
// queues and is left untouched.
func (b *Buffer) SetAttr(a Attr) {
	b.attr = (a &^ attrQueued) | (b.attr & attrQueued)
}

// Bytes returns the whole frame.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Payload returns the frame without head and tail reservations.
func (b *Buffer) Payload() []byte {
	return b.data[b.head : len(b.data)-b.tail]
}

// Bounds returns the head and tail reservations.
func (b *Buffer) Bounds() (head, tail int) {
	return b.head, b.tail
}

// SetBounds sets head and tail reservations and rewinds the cursor.
func (b *Buffer) SetBounds(head, tail int) error {
	if head < 0 || tail < 0 || head+tail > len(b.data) {
		return ErrBadBounds
	}
	b.head, b.tail, b.pos = head, tail, 0
	return nil
}

// Rewind moves the cursor to the start of the payload.
func (b *Buffer) Rewind() {
	b.pos = 0
}

// Remaining returns the payload bytes after the cursor.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.tail - b.head - b.pos
}

// Read copies len(p) payload bytes at the cursor into p.
// Nothing is copied when fewer bytes remain.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) > b.Remaining() {
		return 0, ErrOverrun
	}
	off := b.head + b.pos
	n := copy(p, b.data[off:off+len(p)])
	b.pos += n
	return n, nil
}

// Write copies p into the payload at the cursor.
// Nothing is copied when p does not fit.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Remaining() {
		return 0, ErrOverrun
	}
	off := b.head + b.pos
	n := copy(b.data[off:], p)
	b.pos += n
	return n, nil
}

// ReadByte implements io.ByteReader.
func (b *Buffer) ReadByte() (byte, error) {
	var c [1]byte
	if _, err := b.Read(c[:]); err != nil {
		return 0, err
	}
	return c[0], nil
}

// WriteByte implements io.ByteWriter.
func (b *Buffer) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}
