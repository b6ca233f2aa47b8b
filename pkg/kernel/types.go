package kernel

import (
	"errors"
	"fmt"
)

// State is the index of a state body within an FSM.
type State uint16

// NoState is used where a state is required but the caller cannot wait.
const NoState State = 0xffff

// StateFunc is the body of one state. It runs to completion and then either
// acts (Proceed, Finish, When, Delay, Join, ...) or returns without acting,
// which falls through to the next state.
type StateFunc func(t *Task)

// FSM is the code of a task: a named table of state bodies indexed by State.
// Tasks running the same *FSM run the same state machine.
type FSM struct {
	Name   string
	States []StateFunc
}

// NewFSM creates an FSM.
func NewFSM(name string, states ...StateFunc) *FSM {
	return &FSM{Name: name, States: states}
}

// String implements fmt.Stringer.
func (f *FSM) String() string {
	if f == nil {
		return "<nil>"
	}
	return f.Name
}

// TaskID is the handle of a task: slot index plus a generation, so a handle
// never aliases a task later created in the same slot.
type TaskID uint32

// NoTask is the zero handle.
const NoTask TaskID = 0

func makeTaskID(slot int32, gen uint16) TaskID {
	return TaskID(uint32(gen)<<16 | uint32(slot+1))
}

func (id TaskID) slot() int32 {
	return int32(id&0xffff) - 1
}

// String implements fmt.Stringer.
func (id TaskID) String() string {
	return fmt.Sprintf("task(%d.%d)", id&0xffff, id>>16)
}

// Status is the lifecycle bit set of a task.
type Status uint8

// Status bits
const (
	StatusReady Status = 1 << iota
	StatusRunning
	StatusWaitEvent
	StatusWaitTimer
	StatusWaitJoin
	StatusDead
)

// Blocked reports whether the task waits on anything.
func (s Status) Blocked() bool {
	return s&(StatusWaitEvent|StatusWaitTimer|StatusWaitJoin) != 0
}

// String implements fmt.Stringer.
func (s Status) String() string {
	names := []string{"ready", "running", "event", "timer", "join", "dead"}
	var str string
	for n, name := range names {
		if s&(1<<uint(n)) != 0 {
			if str != "" {
				str += "|"
			}
			str += name
		}
	}
	if str == "" {
		return "none"
	}
	return str
}

// Event is a value tasks wait on. Values with the top bit set are reserved
// for system events.
type Event uint64

// EventClass partitions the reserved event space.
type EventClass uint8

// Event classes
const (
	ClassTimeout EventClass = iota
	ClassTask
	ClassMemory
	ClassSession
	ClassPhys
)

const eventSystem Event = 1 << 63

// Reserved events
const (
	// EventTimeout is reported by Task.Event when a delay expired.
	EventTimeout = eventSystem | Event(ClassTimeout)<<32
	// EventMemory is triggered whenever a packet buffer is released.
	EventMemory = eventSystem | Event(ClassMemory)<<32
)

// SystemEvent builds a reserved event.
func SystemEvent(class EventClass, n uint32) Event {
	return eventSystem | Event(class)<<32 | Event(n)
}

// TaskEvent is triggered when the task dies.
func TaskEvent(id TaskID) Event {
	return SystemEvent(ClassTask, uint32(id))
}

// IsSystem reports whether e is in the reserved range.
func (e Event) IsSystem() bool {
	return e&eventSystem != 0
}

// MaxEvents is the number of events a task can wait on at once.
const MaxEvents = 4

var (
	// ErrNoTasks indicates the task table is full.
	ErrNoTasks = errors.New("no free task slot")
	// ErrNoCode indicates an FSM without states.
	ErrNoCode = errors.New("fsm has no states")
	// ErrBlocked is returned by blocking calls that armed a wait for the
	// calling task. The state body must return.
	ErrBlocked = errors.New("task blocked")
)
