package pool

import (
	"fmt"

	fx "github.com/robotalks/coop.go/pkg/framework"
)

// Queue is a FIFO of buffers linked through their pool slots.
// A buffer is on at most one queue at a time.
type Queue struct {
	pool *Pool
	head int32
	tail int32
	n    int
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	q.pool.lock.Lock()
	defer q.pool.lock.Unlock()
	return q.n
}

// PushBack appends b.
func (q *Queue) PushBack(b *Buffer) {
	q.pool.lock.Lock()
	defer q.pool.lock.Unlock()
	q.checkFree(b)
	b.prev, b.next = q.tail, noSlot
	if q.tail == noSlot {
		q.head = b.slot
	} else {
		q.pool.slots[q.tail].next = b.slot
	}
	q.tail = b.slot
	q.link(b)
}

// PushFront inserts b ahead of all queued buffers.
func (q *Queue) PushFront(b *Buffer) {
	q.pool.lock.Lock()
	defer q.pool.lock.Unlock()
	q.checkFree(b)
	b.prev, b.next = noSlot, q.head
	if q.head == noSlot {
		q.tail = b.slot
	} else {
		q.pool.slots[q.head].prev = b.slot
	}
	q.head = b.slot
	q.link(b)
}

// Push appends b, or inserts it at the front when urgent.
func (q *Queue) Push(b *Buffer, urgent bool) {
	if urgent {
		q.PushFront(b)
	} else {
		q.PushBack(b)
	}
}

// Front returns the first buffer without removing it.
func (q *Queue) Front() *Buffer {
	q.pool.lock.Lock()
	defer q.pool.lock.Unlock()
	if q.head == noSlot {
		return nil
	}
	return &q.pool.slots[q.head]
}

// PopFront removes and returns the first buffer, nil when empty.
func (q *Queue) PopFront() *Buffer {
	q.pool.lock.Lock()
	defer q.pool.lock.Unlock()
	if q.head == noSlot {
		return nil
	}
	b := &q.pool.slots[q.head]
	q.unlink(b)
	return b
}

// Remove unlinks b if it is on this queue.
func (q *Queue) Remove(b *Buffer) bool {
	q.pool.lock.Lock()
	defer q.pool.lock.Unlock()
	if b.queue != q {
		return false
	}
	q.unlink(b)
	return true
}

// RemoveIf unlinks and returns, in queue order, every buffer matching pred.
// pred runs under the pool lock and must not call into the pool.
func (q *Queue) RemoveIf(pred func(*Buffer) bool) []*Buffer {
	q.pool.lock.Lock()
	defer q.pool.lock.Unlock()
	var removed []*Buffer
	for slot := q.head; slot != noSlot; {
		b := &q.pool.slots[slot]
		slot = b.next
		if pred == nil || pred(b) {
			q.unlink(b)
			removed = append(removed, b)
		}
	}
	return removed
}

// Count returns the number of buffers matching pred.
func (q *Queue) Count(pred func(*Buffer) bool) int {
	q.pool.lock.Lock()
	defer q.pool.lock.Unlock()
	var n int
	for slot := q.head; slot != noSlot; slot = q.pool.slots[slot].next {
		if pred == nil || pred(&q.pool.slots[slot]) {
			n++
		}
	}
	return n
}

// Dequeue unlinks b from whichever queue holds it.
func (p *Pool) Dequeue(b *Buffer) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.checkOwned(b)
	if b.queue == nil {
		return false
	}
	b.queue.unlink(b)
	return true
}

func (q *Queue) checkFree(b *Buffer) {
	q.pool.checkOwned(b)
	if b.free {
		fx.Halt(fx.CodeBadQueue, fmt.Sprintf("buffer %d queued after release", b.slot))
	}
	if b.queue != nil {
		fx.Halt(fx.CodeBadQueue, fmt.Sprintf("buffer %d already queued", b.slot))
	}
}

func (q *Queue) link(b *Buffer) {
	b.queue = q
	b.attr |= attrQueued
	q.n++
}

func (q *Queue) unlink(b *Buffer) {
	if b.prev == noSlot {
		q.head = b.next
	} else {
		q.pool.slots[b.prev].next = b.next
	}
	if b.next == noSlot {
		q.tail = b.prev
	} else {
		q.pool.slots[b.next].prev = b.prev
	}
	b.prev, b.next, b.queue = noSlot, noSlot, nil
	b.attr &^= attrQueued
	q.n--
}
