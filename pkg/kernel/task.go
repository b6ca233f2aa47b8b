package kernel

import (
	"fmt"

	fx "github.com/robotalks/coop.go/pkg/framework"
)

// Task is the view of the running task handed to a state body. It is only
// valid until the body returns.
type Task struct {
	k   *Kernel
	tcb *tcb
	id  TaskID
}

// ID returns the handle of the task.
func (t *Task) ID() TaskID {
	return t.id
}

// Kernel returns the kernel running the task.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Data returns the private data word given at fork.
func (t *Task) Data() interface{} {
	return t.tcb.data
}

// State returns the state being run.
func (t *Task) State() State {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	return t.tcb.state
}

// Event returns the event which woke the task into this state, 0 when the
// state was entered by Proceed, fall through or fork.
func (t *Task) Event() Event {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	return t.tcb.fired
}

// TimedOut reports whether the task was woken by an expired delay.
func (t *Task) TimedOut() bool {
	return t.Event() == EventTimeout
}

// Proceed resumes the task at state in the next scheduler pass. Armed waits
// are cancelled.
func (t *Task) Proceed(state State) {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	tcb := t.tcb
	tcb.clearWaits()
	tcb.state = state
	tcb.fired = 0
	tcb.status |= StatusReady
}

// Finish terminates the task when the body returns.
func (t *Task) Finish() {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	t.k.kill(t.tcb)
}

// When arms a wait for event e resuming at state. At most MaxEvents waits can
// be armed at once; one more halts the system.
func (t *Task) When(e Event, state State) {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	t.arm(waitEntry{event: e, state: state})
}

func (t *Task) arm(w waitEntry) {
	tcb := t.tcb
	if tcb.nevents >= MaxEvents {
		fx.Halt(fx.CodeTooManyWaits, fmt.Sprintf("%v %s: more than %d waits", tcb.id, tcb.code, MaxEvents))
	}
	tcb.events[tcb.nevents] = w
	tcb.nevents++
}

// Delay arms a timer of ticks resuming at state with EventTimeout.
// A zero delay resumes in the next pass.
func (t *Task) Delay(ticks uint32, state State) {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	tcb := t.tcb
	if ticks == 0 {
		t.k.fire(tcb, state, EventTimeout)
		return
	}
	tcb.timer, tcb.tstate = ticks, state
}

// Wait arms event e and a timer together, whichever comes first resumes the
// task at state. Event tells which one it was.
func (t *Task) Wait(e Event, ticks uint32, state State) {
	t.When(e, state)
	t.Delay(ticks, state)
}

// Unwait cancels all armed waits without firing them.
func (t *Task) Unwait() {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	t.tcb.clearWaits()
}

// Join waits for child to die, resuming at state. It returns false without
// arming anything when child is already gone.
func (t *Task) Join(child TaskID, state State) bool {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	if t.k.lookup(child) == nil {
		return false
	}
	t.arm(waitEntry{event: TaskEvent(child), state: state, join: true})
	return true
}

// Fork creates a task without waiting for it.
func (t *Task) Fork(code *FSM, data interface{}) (TaskID, error) {
	return t.k.Fork(code, data)
}

// Call forks a child running code and joins it, resuming at state when the
// child dies.
func (t *Task) Call(code *FSM, data interface{}, state State) (TaskID, error) {
	child, err := t.k.Fork(code, data)
	if err != nil {
		return NoTask, err
	}
	t.Join(child, state)
	return child, nil
}
