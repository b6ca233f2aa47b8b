package tcv

import (
	"errors"

	"github.com/robotalks/coop.go/pkg/kernel"
	"github.com/robotalks/coop.go/pkg/pool"
)

// Table limits, fixed by the attribute bit fields.
const (
	MaxPhys     = pool.MaxPhys + 1
	MaxPlugins  = pool.MaxPlugin + 1
	MaxSessions = pool.MaxSession + 1
)

// Any selects the first plugged plug-in in Open.
const Any = -1

// Physical driver options passed through Control.
const (
	OptStatus   = 0
	OptTxOn     = 1
	OptTxOff    = 2
	OptTxHold   = 3
	OptOn       = 4
	OptOff      = 5
	OptGetMaxPL = 8
)

// Status bits returned by OptStatus.
const (
	StatusRxOn = 1 << iota
	StatusTxOn
)

// Side selects the queue QSize and Erase operate on.
type Side int

// Sides
const (
	SideReceive Side = iota
	SideTransmit
)

var (
	// ErrAlreadyPlugged indicates the plug-in slot is occupied.
	ErrAlreadyPlugged = errors.New("already plugged")
	// ErrAlreadyAttached indicates the channel already has a driver.
	ErrAlreadyAttached = errors.New("driver already attached")
	// ErrNoSession indicates the session can't be opened or doesn't exist.
	ErrNoSession = errors.New("no session")
	// ErrNoPlugin indicates no plug-in in the requested slot.
	ErrNoPlugin = errors.New("no plug-in")
	// ErrNoDriver indicates the channel has no attached driver.
	ErrNoDriver = errors.New("no driver")
	// ErrBadPhys indicates a channel id out of range.
	ErrBadPhys = errors.New("invalid channel")
	// ErrBadOption indicates an option not understood by the driver.
	ErrBadOption = errors.New("invalid option")
	// ErrDropped indicates a received frame was not accepted by any
	// plug-in or session.
	ErrDropped = errors.New("frame dropped")
)

// Disposition is what a plug-in decides to do with a buffer.
type Disposition int

// Dispositions
const (
	DispDrop Disposition = iota
	DispReceive
	DispReceiveUrgent
	DispTransmit
	DispTransmitUrgent
	DispPass
)

func (d Disposition) String() string {
	switch d {
	case DispDrop:
		return "drop"
	case DispReceive:
		return "rcv"
	case DispReceiveUrgent:
		return "rcvu"
	case DispTransmit:
		return "xmt"
	case DispTransmitUrgent:
		return "xmtu"
	case DispPass:
		return "pass"
	}
	return "unknown"
}

// Bounds are the head and tail bytes of a frame not visible as payload.
type Bounds struct {
	Head int
	Tail int
}

// Plugin is the operation table of a plug-in. All operations are called
// with the registry lock held and must not call back into the Registry.
type Plugin interface {
	// Open accepts or rejects session sid on channel phys.
	Open(phys, sid int, args ...interface{}) error
	// Close is called after the session's queue is drained.
	Close(phys, sid int) error
	// Receive claims a received frame for a session. DispPass lets the
	// next plug-in look at it.
	Receive(phys int, frame []byte, bounds *Bounds) (sid int, d Disposition)
	// Frame sets the head and tail reservation of outgoing packets.
	Frame(phys int, bounds *Bounds)
	// Output decides what happens to a packet ended by a session.
	Output(b *pool.Buffer) Disposition
	// Transmit decides what happens to a packet after the driver sent it.
	Transmit(b *pool.Buffer) Disposition
	// TransmitTimeout decides what happens to a packet the driver failed
	// to send.
	TransmitTimeout(b *pool.Buffer) Disposition
	// Control handles options for a session, usually forwarded to the
	// channel driver, which may be nil.
	Control(driver Phys, option, arg int) (int, error)
	// Info returns the information word of the plug-in.
	Info() int
}

// Phys is the control entry of a physical channel driver.
type Phys interface {
	Control(option, arg int) (int, error)
}

// SessionEvent is triggered when a packet is queued for session sid.
func SessionEvent(sid int) kernel.Event {
	return kernel.SystemEvent(kernel.ClassSession, uint32(sid))
}

// PacketReader reads packets in bytes.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes packets in bytes.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter reads/writes packets in bytes.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}
