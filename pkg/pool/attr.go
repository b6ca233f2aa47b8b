package pool

import "fmt"

// Attr is the routing tag stamped on every buffer and used as the filter
// pattern of a session. Layout (LSB first):
//   bit 0      queued
//   bit 1      outgoing
//   bit 2      urgent
//   bits 3-9   session
//   bits 10-12 plugin
//   bits 13-15 phys
type Attr uint16

const (
	attrQueued   Attr = 1 << 0
	attrOutgoing Attr = 1 << 1
	attrUrgent   Attr = 1 << 2

	sessionShift = 3
	pluginShift  = 10
	physShift    = 13

	sessionMask = 0x7f
	pluginMask  = 0x07
	physMask    = 0x07

	routeMask Attr = sessionMask<<sessionShift | pluginMask<<pluginShift | physMask<<physShift
)

// Field limits.
const (
	MaxSession = sessionMask
	MaxPlugin  = pluginMask
	MaxPhys    = physMask
)

// MakeAttr builds the routing part of an Attr.
func MakeAttr(session, plugin, phys int) Attr {
	return Attr(session&sessionMask)<<sessionShift |
		Attr(plugin&pluginMask)<<pluginShift |
		Attr(phys&physMask)<<physShift
}

// Queued reports whether the buffer is linked on a queue.
func (a Attr) Queued() bool { return a&attrQueued != 0 }

// Outgoing reports whether the buffer was obtained for transmission.
func (a Attr) Outgoing() bool { return a&attrOutgoing != 0 }

// Urgent reports whether the buffer jumps ahead in queues.
func (a Attr) Urgent() bool { return a&attrUrgent != 0 }

// Session returns the session field.
func (a Attr) Session() int { return int(a>>sessionShift) & sessionMask }

// Plugin returns the plugin field.
func (a Attr) Plugin() int { return int(a>>pluginShift) & pluginMask }

// Phys returns the phys field.
func (a Attr) Phys() int { return int(a>>physShift) & physMask }

// Route strips the flag bits, leaving session, plugin and phys.
func (a Attr) Route() Attr { return a & routeMask }

// Matches reports whether a belongs to the session described by pattern.
func (a Attr) Matches(pattern Attr) bool { return a.Route() == pattern.Route() }

// WithOutgoing returns a copy with the outgoing bit set to v.
func (a Attr) WithOutgoing(v bool) Attr { return a.with(attrOutgoing, v) }

// WithUrgent returns a copy with the urgent bit set to v.
func (a Attr) WithUrgent(v bool) Attr { return a.with(attrUrgent, v) }

func (a Attr) with(bit Attr, v bool) Attr {
	if v {
		return a | bit
	}
	return a &^ bit
}

// String implements fmt.Stringer.
func (a Attr) String() string {
	flags := []byte("---")
	if a.Queued() {
		flags[0] = 'q'
	}
	if a.Outgoing() {
		flags[1] = 'o'
	}
	if a.Urgent() {
		flags[2] = 'u'
	}
	return fmt.Sprintf("%s s%d p%d ph%d", flags, a.Session(), a.Plugin(), a.Phys())
}
