package tcv

import (
	"github.com/golang/glog"

	"github.com/robotalks/coop.go/pkg/pool"
)

// Attach registers the driver of channel phys. Options of sessions on the
// channel reach the driver through the plug-in's Control.
func (r *Registry) Attach(phys int, driver Phys) error {
	if phys < 0 || phys >= MaxPhys {
		return ErrBadPhys
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	ch := r.channels[phys]
	if ch == nil {
		ch = r.newChannel(phys)
	} else if ch.driver != nil {
		return ErrAlreadyAttached
	}
	ch.driver = driver
	glog.Infof("phys %d attached", phys)
	return nil
}

// PhysReceive offers a frame received on channel phys to the plug-ins in
// slot order. The first plug-in not passing it decides where it goes. The
// frame is copied into a pool buffer; ErrDropped or pool.ErrOutOfBuffers
// is returned when it is not queued anywhere.
func (r *Registry) PhysReceive(phys int, frame []byte) error {
	if phys < 0 || phys >= MaxPhys {
		return ErrBadPhys
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	for id, plugin := range r.plugins {
		if plugin == nil {
			continue
		}
		var bounds Bounds
		sid, d := plugin.Receive(phys, frame, &bounds)
		switch d {
		case DispPass:
			continue
		case DispReceive, DispReceiveUrgent:
			if s := r.session(sid); s == nil || s.attr.Phys() != phys {
				glog.V(2).Infof("phys %d: frame for unknown session %d", phys, sid)
				return ErrDropped
			}
			bounds.Head += r.conf.HeaderReserve
		case DispTransmit, DispTransmitUrgent:
		default:
			glog.V(2).Infof("phys %d: frame (%d bytes) dropped by plug-in %d", phys, len(frame), id)
			return ErrDropped
		}
		if bounds.Head < 0 || bounds.Tail < 0 || bounds.Head+bounds.Tail > len(frame) {
			glog.V(2).Infof("phys %d: short frame (%d bytes)", phys, len(frame))
			return ErrDropped
		}
		b, err := r.pool.Allocate(len(frame))
		if err != nil {
			glog.V(2).Infof("phys %d: frame (%d bytes) dropped: %v", phys, len(frame), err)
			return err
		}
		copy(b.Bytes(), frame)
		b.SetBounds(bounds.Head, bounds.Tail)
		b.SetAttr(pool.MakeAttr(sid, id, phys))
		glog.V(2).Infof("phys %d: received %d bytes, %v", phys, len(frame), d)
		r.dispose(b, d)
		return nil
	}
	return ErrDropped
}

// PhysGet removes the next outgoing packet of channel phys, nil if none.
// The driver must hand it back with PhysEnd or PhysTimeout.
func (r *Registry) PhysGet(phys int) *pool.Buffer {
	r.lock.Lock()
	defer r.lock.Unlock()
	if ch := r.channel(phys); ch != nil {
		return ch.oq.PopFront()
	}
	return nil
}

// PhysTop returns the next outgoing packet of channel phys without
// removing it.
func (r *Registry) PhysTop(phys int) *pool.Buffer {
	r.lock.Lock()
	defer r.lock.Unlock()
	if ch := r.channel(phys); ch != nil {
		return ch.oq.Front()
	}
	return nil
}

// PhysEnd reports a packet obtained from PhysGet as transmitted.
func (r *Registry) PhysEnd(b *pool.Buffer) {
	r.lock.Lock()
	defer r.lock.Unlock()
	d := DispDrop
	if plugin := r.plugins[b.Attr().Plugin()]; plugin != nil {
		d = plugin.Transmit(b)
	}
	r.dispose(b, d)
}

// PhysTimeout reports a packet obtained from PhysGet as not transmitted.
func (r *Registry) PhysTimeout(b *pool.Buffer) {
	r.lock.Lock()
	defer r.lock.Unlock()
	d := DispDrop
	if plugin := r.plugins[b.Attr().Plugin()]; plugin != nil {
		d = plugin.TransmitTimeout(b)
	}
	r.dispose(b, d)
}

// PhysErase drops all outgoing packets of channel phys and returns how many.
func (r *Registry) PhysErase(phys int) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	ch := r.channel(phys)
	if ch == nil {
		return 0
	}
	bufs := ch.oq.RemoveIf(nil)
	for _, b := range bufs {
		r.pool.Release(b)
	}
	return len(bufs)
}

// PhysNotify returns a channel signaled when a packet is queued for
// transmission on channel phys.
func (r *Registry) PhysNotify(phys int) <-chan struct{} {
	if phys < 0 || phys >= MaxPhys {
		return nil
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	ch := r.channel(phys)
	if ch == nil {
		ch = r.newChannel(phys)
	}
	return ch.notify
}

func (r *Registry) channel(phys int) *channel {
	if phys < 0 || phys >= MaxPhys {
		return nil
	}
	return r.channels[phys]
}
