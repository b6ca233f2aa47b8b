// Package kernel implements a cooperative scheduler of finite state machine
// tasks.
//
// A single goroutine runs scheduler passes. In each pass every Ready task
// runs at most one invocation: its current state body, plus any states it
// falls through to. Bodies never block; they arm waits (events, timers,
// child termination) and return. Other goroutines play the role of
// interrupt handlers: they may fork, kill, trigger events and tick timers,
// which only mark tasks Ready and wake the scheduler.
package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	fx "github.com/robotalks/coop.go/pkg/framework"
)

// DefaultMaxTasks is the task table size used when Config.MaxTasks is zero.
const DefaultMaxTasks = 16

// MaxTasks is the largest task table a TaskID can address.
const MaxTasks = 0xfffe

const noSlot int32 = -1

// Config defines the kernel tables.
type Config struct {
	// MaxTasks is the task table size, at most MaxTasks.
	MaxTasks int
}

type waitEntry struct {
	event Event
	state State
	join  bool
}

// tcb is the task control block.
type tcb struct {
	id      TaskID
	gen     uint16
	status  Status
	code    *FSM
	data    interface{}
	state   State
	fired   Event
	timer   uint32
	tstate  State
	events  [MaxEvents]waitEntry
	nevents int
	pass    uint64
	next    int32
	prev    int32
}

func (t *tcb) armed() bool {
	return t.nevents > 0 || t.timer > 0
}

func (t *tcb) waitStatus() Status {
	var s Status
	for _, w := range t.events[:t.nevents] {
		if w.join {
			s |= StatusWaitJoin
		} else {
			s |= StatusWaitEvent
		}
	}
	if t.timer > 0 {
		s |= StatusWaitTimer
	}
	return s
}

func (t *tcb) clearWaits() {
	t.nevents = 0
	t.timer = 0
}

// Kernel is the task table and scheduler.
type Kernel struct {
	conf Config

	lock    sync.Mutex
	tcbs    []tcb
	free    []int32
	head    int32
	tail    int32
	live    int
	pass    uint64
	current *tcb
	halted  error
	order   []TaskID

	wakeCh chan struct{}
}

// New creates a Kernel.
func New(conf Config) *Kernel {
	if conf.MaxTasks <= 0 {
		conf.MaxTasks = DefaultMaxTasks
	} else if conf.MaxTasks > MaxTasks {
		conf.MaxTasks = MaxTasks
	}
	k := &Kernel{
		conf:   conf,
		tcbs:   make([]tcb, conf.MaxTasks),
		free:   make([]int32, conf.MaxTasks),
		head:   noSlot,
		tail:   noSlot,
		wakeCh: make(chan struct{}, 1),
	}
	for n := range k.tcbs {
		k.free[len(k.free)-1-n] = int32(n)
	}
	return k
}

// Name implements Named.
func (k *Kernel) Name() string {
	return "kernel"
}

// Fork creates a task running code with a private data word. The task is
// Ready at state 0 and first runs in the next scheduler pass.
func (k *Kernel) Fork(code *FSM, data interface{}) (TaskID, error) {
	if code == nil || len(code.States) == 0 {
		return NoTask, ErrNoCode
	}
	k.lock.Lock()
	if len(k.free) == 0 {
		k.lock.Unlock()
		glog.Warningf("fork %s: task table full (%d)", code, k.conf.MaxTasks)
		return NoTask, ErrNoTasks
	}
	slot := k.free[len(k.free)-1]
	k.free = k.free[:len(k.free)-1]
	t := &k.tcbs[slot]
	t.gen++
	if t.gen == 0 {
		t.gen++
	}
	gen := t.gen
	*t = tcb{
		id:     makeTaskID(slot, gen),
		gen:    gen,
		status: StatusReady,
		code:   code,
		data:   data,
		pass:   k.pass,
		next:   noSlot,
		prev:   k.tail,
	}
	if k.tail == noSlot {
		k.head = slot
	} else {
		k.tcbs[k.tail].next = slot
	}
	k.tail = slot
	k.live++
	id := t.id
	k.lock.Unlock()

	glog.V(4).Infof("fork %s %v", code, id)
	k.wake()
	return id, nil
}

// Kill terminates a task regardless of what it waits on. Tasks joined on it
// are woken. Resources held by the task are not reclaimed.
func (k *Kernel) Kill(id TaskID) bool {
	k.lock.Lock()
	defer k.lock.Unlock()
	t := k.lookup(id)
	if t == nil {
		return false
	}
	k.kill(t)
	return true
}

// KillAll kills every task running code and returns how many were killed.
func (k *Kernel) KillAll(code *FSM) int {
	k.lock.Lock()
	defer k.lock.Unlock()
	var n int
	for slot := k.head; slot != noSlot; {
		t := &k.tcbs[slot]
		slot = t.next
		if t.code == code && t.status&StatusDead == 0 {
			k.kill(t)
			n++
		}
	}
	return n
}

// Running returns a live task running code, NoTask if none.
func (k *Kernel) Running(code *FSM) TaskID {
	k.lock.Lock()
	defer k.lock.Unlock()
	for slot := k.head; slot != noSlot; slot = k.tcbs[slot].next {
		if t := &k.tcbs[slot]; t.code == code && t.status&StatusDead == 0 {
			return t.id
		}
	}
	return NoTask
}

// CRunning counts live tasks running code.
func (k *Kernel) CRunning(code *FSM) int {
	k.lock.Lock()
	defer k.lock.Unlock()
	var n int
	for slot := k.head; slot != noSlot; slot = k.tcbs[slot].next {
		if t := &k.tcbs[slot]; t.code == code && t.status&StatusDead == 0 {
			n++
		}
	}
	return n
}

// GetCode returns the FSM of a live task, nil if the task is gone.
func (k *Kernel) GetCode(id TaskID) *FSM {
	k.lock.Lock()
	defer k.lock.Unlock()
	if t := k.lookup(id); t != nil {
		return t.code
	}
	return nil
}

// Status returns the status of a task, StatusDead if the task is gone.
func (k *Kernel) Status(id TaskID) Status {
	k.lock.Lock()
	defer k.lock.Unlock()
	if t := k.lookup(id); t != nil {
		return t.status
	}
	return StatusDead
}

// Live returns the number of live tasks.
func (k *Kernel) Live() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.live
}

// Halted returns the error which halted the kernel, nil while running.
func (k *Kernel) Halted() error {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.halted
}

// Halt stops the system with a diagnostic. Called from a state body it
// unwinds to the scheduler; the current pass ends and Run returns the error.
func (k *Kernel) Halt(code int, reason string) {
	fx.Halt(code, reason)
}

// RunPass runs one scheduler pass and returns the number of task
// invocations. A fatal SysError raised by a state body halts the kernel and
// is returned, as it is by every later call.
func (k *Kernel) RunPass() (n int, err error) {
	k.lock.Lock()
	if k.halted != nil {
		err = k.halted
		k.lock.Unlock()
		return
	}
	k.pass++
	pass := k.pass
	k.order = k.order[:0]
	for slot := k.head; slot != noSlot; slot = k.tcbs[slot].next {
		k.order = append(k.order, k.tcbs[slot].id)
	}
	order := k.order
	k.lock.Unlock()

	defer k.recoverHalt(&err)
	for _, id := range order {
		if k.runTask(id, pass) {
			n++
		}
	}
	return
}

// Run runs scheduler passes until ctx is done or the kernel halts.
// Between passes with nothing Ready it sleeps until woken by a fork,
// trigger or timer expiry.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		n, err := k.RunPass()
		if err != nil {
			glog.Errorf("kernel halted: %v", err)
			return err
		}
		if n > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.wakeCh:
		}
	}
}

func (k *Kernel) recoverHalt(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	serr, ok := r.(*fx.SysError)
	if !ok {
		panic(r)
	}
	k.lock.Lock()
	if t := k.current; t != nil {
		glog.Errorf("%v (%s state %d): %v", t.id, t.code, t.state, serr)
		k.current = nil
	}
	k.halted = serr
	k.lock.Unlock()
	*errp = serr
}

func (k *Kernel) runTask(id TaskID, pass uint64) bool {
	k.lock.Lock()
	t := k.lookup(id)
	if t == nil || t.status&StatusReady == 0 || t.pass == pass {
		k.lock.Unlock()
		return false
	}
	t.pass = pass
	t.status = StatusRunning
	k.current = t
	k.lock.Unlock()

	task := &Task{k: k, tcb: t, id: id}
	for {
		k.lock.Lock()
		state, states := t.state, t.code.States
		k.lock.Unlock()
		if int(state) >= len(states) {
			fx.Halt(fx.CodeBadState, fmt.Sprintf("%s: undeclared state %d", t.code, state))
		}
		states[state](task)

		k.lock.Lock()
		switch {
		case t.status&StatusDead != 0:
			k.current = nil
			k.reap(t)
		case t.status&StatusReady != 0:
			k.current = nil
			t.clearWaits()
			t.status = StatusReady
		case t.armed():
			k.current = nil
			t.status = t.waitStatus()
		default:
			t.state++
			t.fired = 0
			if int(t.state) < len(states) {
				k.lock.Unlock()
				continue
			}
			k.current = nil
			k.reap(t)
		}
		k.lock.Unlock()
		return true
	}
}

func (k *Kernel) lookup(id TaskID) *tcb {
	slot := id.slot()
	if slot < 0 || int(slot) >= len(k.tcbs) {
		return nil
	}
	t := &k.tcbs[slot]
	if t.id != id || t.status&StatusDead != 0 {
		return nil
	}
	return t
}

func (k *Kernel) kill(t *tcb) {
	glog.V(4).Infof("kill %s %v", t.code, t.id)
	if t == k.current {
		t.clearWaits()
		t.status |= StatusDead
		return
	}
	k.reap(t)
}

func (k *Kernel) reap(t *tcb) {
	id, slot := t.id, t.id.slot()
	if t.prev == noSlot {
		k.head = t.next
	} else {
		k.tcbs[t.prev].next = t.next
	}
	if t.next == noSlot {
		k.tail = t.prev
	} else {
		k.tcbs[t.next].prev = t.prev
	}
	glog.V(4).Infof("%v %s terminated", id, t.code)
	*t = tcb{gen: t.gen, next: noSlot, prev: noSlot}
	k.free = append(k.free, slot)
	k.live--
	if k.trigger(TaskEvent(id)) > 0 {
		k.wake()
	}
}

func (k *Kernel) wake() {
	select {
	case k.wakeCh <- struct{}{}:
	default:
	}
}
