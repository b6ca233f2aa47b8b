// Package loop provides an in-process ether: a broadcast medium shared by
// any number of ports, each usable as the transport of a tcv.Driver.
package loop

import (
	"io"
	"sync"

	"github.com/golang/glog"
)

// DefaultBacklog is the number of frames a port holds before dropping.
const DefaultBacklog = 16

// Ether delivers every frame written on a port to all other ports.
type Ether struct {
	lock    sync.RWMutex
	ports   map[*Port]struct{}
	dropped int
}

// New creates an Ether.
func New() *Ether {
	return &Ether{ports: make(map[*Port]struct{})}
}

// Connect creates a port holding at most backlog undelivered frames.
func (e *Ether) Connect(backlog int) *Port {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	p := &Port{
		ether:   e,
		rx:      make(chan []byte, backlog),
		closeCh: make(chan struct{}),
	}
	e.lock.Lock()
	e.ports[p] = struct{}{}
	e.lock.Unlock()
	return p
}

// Dropped returns the number of frames lost on full ports.
func (e *Ether) Dropped() int {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.dropped
}

func (e *Ether) broadcast(from *Port, frame []byte) {
	var dropped int
	e.lock.RLock()
	for p := range e.ports {
		if p == from {
			continue
		}
		pkt := append([]byte(nil), frame...)
		select {
		case p.rx <- pkt:
		default:
			dropped++
		}
	}
	e.lock.RUnlock()
	if dropped > 0 {
		glog.V(2).Infof("ether: %d copies of %d bytes dropped", dropped, len(frame))
		e.lock.Lock()
		e.dropped += dropped
		e.lock.Unlock()
	}
}

// Port is one station on an Ether. It implements tcv.PacketReadWriter.
type Port struct {
	ether   *Ether
	rx      chan []byte
	closeCh chan struct{}
	once    sync.Once
}

// ReadPacket implements PacketReader.
func (p *Port) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.rx:
		return pkt, nil
	case <-p.closeCh:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter.
func (p *Port) WritePacket(pkt []byte) error {
	select {
	case <-p.closeCh:
		return io.ErrClosedPipe
	default:
	}
	p.ether.broadcast(p, pkt)
	return nil
}

// Close implements io.Closer.
func (p *Port) Close() error {
	p.once.Do(func() {
		p.ether.lock.Lock()
		delete(p.ether.ports, p)
		p.ether.lock.Unlock()
		close(p.closeCh)
	})
	return nil
}

// Link is a packet transport attached to an ether by Serve.
type Link interface {
	ReadPacket() ([]byte, error)
	WritePacket([]byte) error
}

// Serve attaches link as a station of the ether until reading or writing
// link fails, and returns that error. When writing fails a link which is an
// io.Closer is closed so the pending read returns.
func (e *Ether) Serve(link Link, backlog int) error {
	port := e.Connect(backlog)
	defer port.Close()
	errCh := make(chan error, 1)
	go func() {
		for {
			pkt, err := port.ReadPacket()
			if err != nil {
				return
			}
			if err := link.WritePacket(pkt); err != nil {
				errCh <- err
				if closer, ok := link.(io.Closer); ok {
					closer.Close()
				}
				return
			}
		}
	}()
	for {
		pkt, err := link.ReadPacket()
		select {
		case werr := <-errCh:
			return werr
		default:
		}
		if err != nil {
			return err
		}
		port.WritePacket(pkt)
	}
}
