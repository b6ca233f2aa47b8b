// Package tcv multiplexes sessions over physical channels.
//
// A Registry holds up to MaxPlugins plug-ins, MaxPhys channels and
// MaxSessions sessions. Received frames are offered to the plug-ins, which
// assign them to a session whose receive queue is read by tasks with
// Receive. Tasks obtain outgoing packets with Write and hand them to the
// plug-in with End; the plug-in queues them on the channel, where the
// channel driver picks them up with PhysGet.
package tcv

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/coop.go/pkg/kernel"
	"github.com/robotalks/coop.go/pkg/pool"
)

// DefaultHeaderReserve is the number of bytes reserved ahead of the payload
// of every packet when Config.HeaderReserve is negative.
const DefaultHeaderReserve = 2

// Config defines a Registry.
type Config struct {
	// HeaderReserve is the number of bytes reserved ahead of the payload,
	// after the plug-in's own head reservation. The bytes are zeroed on
	// Write and hidden from the payload on both directions.
	HeaderReserve int
	// MaxSessions limits the session table, at most MaxSessions.
	MaxSessions int
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{HeaderReserve: DefaultHeaderReserve, MaxSessions: MaxSessions}
}

type session struct {
	attr pool.Attr
	rq   *pool.Queue
}

type channel struct {
	driver Phys
	oq     *pool.Queue
	notify chan struct{}
}

// Registry is the session and channel table.
type Registry struct {
	conf Config
	pool *pool.Pool
	kern *kernel.Kernel

	lock     sync.Mutex
	plugins  [MaxPlugins]Plugin
	channels [MaxPhys]*channel
	sessions []*session
	nextSID  int
}

// New creates a Registry allocating from p and waking tasks of k.
// Releasing buffers of p triggers kernel.EventMemory.
func New(conf Config, p *pool.Pool, k *kernel.Kernel) *Registry {
	if conf.HeaderReserve < 0 {
		conf.HeaderReserve = DefaultHeaderReserve
	}
	if conf.MaxSessions <= 0 || conf.MaxSessions > MaxSessions {
		conf.MaxSessions = MaxSessions
	}
	r := &Registry{
		conf:     conf,
		pool:     p,
		kern:     k,
		sessions: make([]*session, conf.MaxSessions),
	}
	p.OnRelease = func() { k.Trigger(kernel.EventMemory) }
	return r
}

// Pool returns the buffer pool.
func (r *Registry) Pool() *pool.Pool {
	return r.pool
}

// Plug installs plugin in slot id. The slot is stamped in the attributes
// of every packet handled by the plug-in.
func (r *Registry) Plug(id int, plugin Plugin) error {
	if id < 0 || id >= MaxPlugins {
		return ErrNoPlugin
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.plugins[id] != nil {
		return ErrAlreadyPlugged
	}
	r.plugins[id] = plugin
	glog.Infof("plug-in %d plugged, info %#x", id, plugin.Info())
	return nil
}

// Open opens a session on channel phys handled by plug-in id, or the first
// plugged plug-in for Any. Extra args are passed to the plug-in.
func (r *Registry) Open(phys, plugin int, args ...interface{}) (int, error) {
	if phys < 0 || phys >= MaxPhys {
		return -1, ErrBadPhys
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if plugin == Any {
		for id, p := range r.plugins {
			if p != nil {
				plugin = id
				break
			}
		}
	}
	if plugin < 0 || plugin >= MaxPlugins || r.plugins[plugin] == nil {
		return -1, ErrNoPlugin
	}
	// a closed sid is reused last
	sid := -1
	for n := range r.sessions {
		if slot := (r.nextSID + n) % len(r.sessions); r.sessions[slot] == nil {
			sid = slot
			break
		}
	}
	if sid < 0 {
		glog.Warningf("open phys %d: session table full", phys)
		return -1, ErrNoSession
	}
	if err := r.plugins[plugin].Open(phys, sid, args...); err != nil {
		glog.Warningf("open phys %d plug-in %d: %v", phys, plugin, err)
		return -1, ErrNoSession
	}
	r.sessions[sid] = &session{
		attr: pool.MakeAttr(sid, plugin, phys),
		rq:   r.pool.NewQueue(),
	}
	r.nextSID = (sid + 1) % len(r.sessions)
	glog.V(2).Infof("session %d opened: %v", sid, r.sessions[sid].attr)
	return sid, nil
}

// Close drains the receive queue and the untransmitted packets of the
// session back to the pool and closes it in the plug-in. Tasks waiting in
// Receive on the session are woken and get ErrNoSession.
func (r *Registry) Close(sid int) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	s := r.session(sid)
	if s == nil {
		return ErrNoSession
	}
	bufs := s.rq.RemoveIf(nil)
	if ch := r.channels[s.attr.Phys()]; ch != nil {
		bufs = append(bufs, ch.oq.RemoveIf(s.owns)...)
	}
	for _, b := range bufs {
		r.pool.Release(b)
	}
	r.sessions[sid] = nil
	r.kern.Trigger(SessionEvent(sid))
	glog.V(2).Infof("session %d closed, %d packets dropped", sid, len(bufs))
	return r.plugins[s.attr.Plugin()].Close(s.attr.Phys(), sid)
}

// Receive returns the next packet queued for the session in arrival order.
// When the queue is empty, t is armed on the session arrival event resuming
// at state, and kernel.ErrBlocked is returned; the state body must return.
func (r *Registry) Receive(t *kernel.Task, state kernel.State, sid int) (*pool.Buffer, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s := r.session(sid)
	if s == nil {
		return nil, ErrNoSession
	}
	if b := s.rq.PopFront(); b != nil {
		b.Rewind()
		return b, nil
	}
	if t == nil || state == kernel.NoState {
		return nil, nil
	}
	t.When(SessionEvent(sid), state)
	return nil, kernel.ErrBlocked
}

// TryReceive returns the next packet of the session, nil if none.
func (r *Registry) TryReceive(sid int) (*pool.Buffer, error) {
	return r.Receive(nil, kernel.NoState, sid)
}

// Write obtains a packet with size bytes of payload for the session.
// It fails with pool.ErrOutOfBuffers when the size can never be satisfied.
// When the pool is temporarily exhausted, t is armed on kernel.EventMemory
// resuming at state and kernel.ErrBlocked is returned; without a task the
// call fails with pool.ErrOutOfBuffers.
func (r *Registry) Write(t *kernel.Task, state kernel.State, sid, size int, urgent bool) (*pool.Buffer, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s := r.session(sid)
	if s == nil {
		return nil, ErrNoSession
	}
	var bounds Bounds
	r.plugins[s.attr.Plugin()].Frame(s.attr.Phys(), &bounds)
	head := bounds.Head + r.conf.HeaderReserve
	total := head + size + bounds.Tail
	if size < 0 || !r.pool.Fits(total) {
		return nil, pool.ErrOutOfBuffers
	}
	b, err := r.pool.Allocate(total)
	if err != nil {
		if t == nil || state == kernel.NoState {
			return nil, err
		}
		t.When(kernel.EventMemory, state)
		return nil, kernel.ErrBlocked
	}
	for n := range b.Bytes()[:head] {
		b.Bytes()[n] = 0
	}
	if err := b.SetBounds(head, bounds.Tail); err != nil {
		r.pool.Release(b)
		return nil, err
	}
	b.SetAttr(s.attr.WithOutgoing(true).WithUrgent(urgent))
	return b, nil
}

// End finishes with a packet. An outgoing packet goes to the plug-in for
// output, a received one is released.
func (r *Registry) End(b *pool.Buffer) {
	r.lock.Lock()
	defer r.lock.Unlock()
	attr := b.Attr()
	if !attr.Outgoing() {
		r.pool.Dequeue(b)
		r.pool.Release(b)
		return
	}
	plugin := r.plugins[attr.Plugin()]
	if plugin == nil {
		r.pool.Release(b)
		return
	}
	r.dispose(b, plugin.Output(b))
}

// Drop releases a packet without transmitting it.
func (r *Registry) Drop(b *pool.Buffer) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.pool.Dequeue(b)
	r.pool.Release(b)
}

// Control forwards an option to the plug-in of the session.
func (r *Registry) Control(sid, option, arg int) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s := r.session(sid)
	if s == nil {
		return 0, ErrNoSession
	}
	var driver Phys
	if ch := r.channels[s.attr.Phys()]; ch != nil {
		driver = ch.driver
	}
	return r.plugins[s.attr.Plugin()].Control(driver, option, arg)
}

// QSize returns the number of packets of the session on one side.
func (r *Registry) QSize(sid int, side Side) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s := r.session(sid)
	if s == nil {
		return 0, ErrNoSession
	}
	if side == SideReceive {
		return s.rq.Len(), nil
	}
	ch := r.channels[s.attr.Phys()]
	if ch == nil {
		return 0, nil
	}
	return ch.oq.Count(s.owns), nil
}

// Erase drops the packets of the session on one side and returns how many.
func (r *Registry) Erase(sid int, side Side) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s := r.session(sid)
	if s == nil {
		return 0, ErrNoSession
	}
	var bufs []*pool.Buffer
	if side == SideReceive {
		bufs = s.rq.RemoveIf(nil)
	} else if ch := r.channels[s.attr.Phys()]; ch != nil {
		bufs = ch.oq.RemoveIf(s.owns)
	}
	for _, b := range bufs {
		r.pool.Release(b)
	}
	return len(bufs), nil
}

func (s *session) owns(b *pool.Buffer) bool {
	return b.Attr().Matches(s.attr)
}

func (r *Registry) session(sid int) *session {
	if sid < 0 || sid >= len(r.sessions) {
		return nil
	}
	return r.sessions[sid]
}

// dispose carries out the decision of a plug-in on b, which is not queued.
func (r *Registry) dispose(b *pool.Buffer, d Disposition) {
	attr := b.Attr()
	glog.V(2).Infof("dispose %v: %v", attr, d)
	switch d {
	case DispTransmit, DispTransmitUrgent:
		ch := r.channels[attr.Phys()]
		if ch == nil {
			ch = r.newChannel(attr.Phys())
		}
		b.SetAttr(attr.WithOutgoing(true))
		ch.oq.Push(b, d == DispTransmitUrgent || attr.Urgent())
		select {
		case ch.notify <- struct{}{}:
		default:
		}
	case DispReceive, DispReceiveUrgent:
		s := r.session(attr.Session())
		if s == nil {
			r.pool.Release(b)
			return
		}
		b.SetAttr(s.attr.WithUrgent(d == DispReceiveUrgent))
		b.Rewind()
		s.rq.Push(b, d == DispReceiveUrgent)
		r.kern.Trigger(SessionEvent(attr.Session()))
	default:
		r.pool.Release(b)
	}
}

func (r *Registry) newChannel(phys int) *channel {
	ch := &channel{oq: r.pool.NewQueue(), notify: make(chan struct{}, 1)}
	r.channels[phys] = ch
	return ch
}

// String implements fmt.Stringer.
func (r *Registry) String() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	var n int
	for _, s := range r.sessions {
		if s != nil {
			n++
		}
	}
	return fmt.Sprintf("registry(%d sessions, %d/%d bytes free)", n, r.pool.Free(), r.pool.Capacity())
}
