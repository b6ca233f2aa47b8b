// Package pool provides the packet buffer pool.
//
// The pool is a fixed arena of buffer slots drawing from a fixed byte
// budget. It never grows and never blocks: allocation either succeeds
// immediately or fails with ErrOutOfBuffers, so it is safe to call from
// transport goroutines acting as interrupt handlers.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	fx "github.com/robotalks/coop.go/pkg/framework"
)

// ErrOutOfBuffers indicates the byte budget or the slot arena is exhausted.
var ErrOutOfBuffers = errors.New("out of buffers")

// Defaults
const (
	DefaultCapacity   = 8192
	DefaultMaxBuffers = 32

	wordSize = 4
)

// Config defines the size of a Pool.
type Config struct {
	// Capacity is the total number of payload bytes.
	Capacity int
	// MaxBuffers is the number of buffer slots.
	MaxBuffers int
}

// Pool is a bounded packet buffer allocator.
type Pool struct {
	// OnRelease is called, outside the pool lock, after a buffer is returned.
	OnRelease func()

	conf  Config
	lock  sync.Mutex
	used  int
	slots []Buffer
	free  []int32
}

// New creates a Pool.
func New(conf Config) *Pool {
	if conf.Capacity <= 0 {
		conf.Capacity = DefaultCapacity
	}
	if conf.MaxBuffers <= 0 {
		conf.MaxBuffers = DefaultMaxBuffers
	}
	p := &Pool{
		conf:  conf,
		slots: make([]Buffer, conf.MaxBuffers),
		free:  make([]int32, conf.MaxBuffers),
	}
	// the free list is a stack, slot 0 on top.
	for n := range p.slots {
		p.slots[n].slot = int32(n)
		p.slots[n].free = true
		p.free[len(p.free)-1-n] = int32(n)
	}
	return p
}

func roundUp(size int) int {
	return (size + wordSize - 1) &^ (wordSize - 1)
}

// Capacity returns the total byte budget.
func (p *Pool) Capacity() int {
	return p.conf.Capacity
}

// Fits reports whether a request of size bytes can ever be satisfied.
func (p *Pool) Fits(size int) bool {
	return size >= 0 && roundUp(size) <= p.conf.Capacity
}

// Free returns the bytes not charged to live buffers.
func (p *Pool) Free() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.conf.Capacity - p.used
}

// Live returns the number of allocated buffers.
func (p *Pool) Live() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.slots) - len(p.free)
}

// Allocate obtains a buffer whose frame is size bytes long.
// The previous contents of a reused buffer are not cleared.
func (p *Pool) Allocate(size int) (*Buffer, error) {
	if !p.Fits(size) {
		return nil, ErrOutOfBuffers
	}
	charge := roundUp(size)

	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.free) == 0 || p.used+charge > p.conf.Capacity {
		glog.V(2).Infof("pool exhausted: want %d, free %d, slots %d", charge, p.conf.Capacity-p.used, len(p.free))
		return nil, ErrOutOfBuffers
	}
	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.used += charge

	b := &p.slots[slot]
	if cap(b.data) >= size {
		b.data = b.data[:size]
	} else {
		b.data = make([]byte, size)
	}
	b.attr, b.head, b.tail, b.pos = 0, 0, 0, 0
	b.prev, b.next, b.queue = noSlot, noSlot, nil
	b.free, b.charge = false, charge
	return b, nil
}

// Release returns a buffer to the pool. Releasing a buffer twice, or one
// still linked on a queue, corrupts the free list and halts the system.
func (p *Pool) Release(b *Buffer) {
	p.release(b)
	if fn := p.OnRelease; fn != nil {
		fn()
	}
}

func (p *Pool) release(b *Buffer) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.checkOwned(b)
	if b.free {
		fx.Halt(fx.CodeDoubleFree, fmt.Sprintf("buffer %d released twice", b.slot))
	}
	if b.queue != nil {
		fx.Halt(fx.CodeBadQueue, fmt.Sprintf("buffer %d released while queued", b.slot))
	}
	b.free = true
	p.used -= b.charge
	b.charge = 0
	p.free = append(p.free, b.slot)
}

func (p *Pool) checkOwned(b *Buffer) {
	if b == nil || b.slot < 0 || int(b.slot) >= len(p.slots) || &p.slots[b.slot] != b {
		fx.Halt(fx.CodeAssert, "buffer not owned by pool")
	}
}

// NewQueue creates an empty queue of buffers from this pool.
func (p *Pool) NewQueue() *Queue {
	return &Queue{pool: p, head: noSlot, tail: noSlot}
}
