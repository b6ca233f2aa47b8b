package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/coop.go/pkg/framework"
)

type kernelTestEnv struct {
	t      *testing.T
	k      *Kernel
	events []string
}

func newKernelTestEnv(t *testing.T, maxTasks int) *kernelTestEnv {
	return &kernelTestEnv{t: t, k: New(Config{MaxTasks: maxTasks})}
}

func (e *kernelTestEnv) log(s string) StateFunc {
	return func(*Task) {
		e.events = append(e.events, s)
	}
}

func (e *kernelTestEnv) fork(code *FSM, data interface{}) TaskID {
	id, err := e.k.Fork(code, data)
	require.NoError(e.t, err)
	return id
}

func (e *kernelTestEnv) pass(expected int) {
	n, err := e.k.RunPass()
	require.NoError(e.t, err)
	require.Equal(e.t, expected, n, "invocations")
}

func (e *kernelTestEnv) drain() {
	for i := 0; e.k.Live() > 0; i++ {
		require.True(e.t, i < 100, "tasks never finished")
		_, err := e.k.RunPass()
		require.NoError(e.t, err)
	}
}

func (e *kernelTestEnv) expect(events ...string) {
	require.Equal(e.t, events, e.events)
	e.events = nil
}

func requireSysError(t *testing.T, code int, err error) {
	require.Error(t, err)
	serr, ok := err.(*fx.SysError)
	require.True(t, ok, "want SysError, got %T", err)
	require.Equal(t, code, serr.Code)
}

func TestForkCapacity(t *testing.T) {
	env := newKernelTestEnv(t, 3)
	idle := NewFSM("idle", func(task *Task) { task.When(1, 0) })
	ids := make(map[TaskID]bool)
	for i := 0; i < 3; i++ {
		id := env.fork(idle, i)
		require.NotEqual(t, NoTask, id)
		require.False(t, ids[id])
		ids[id] = true
	}
	_, err := env.k.Fork(idle, nil)
	require.Equal(t, ErrNoTasks, err)
	require.Equal(t, 3, env.k.Live())
	require.Equal(t, 3, env.k.CRunning(idle))
	for id := range ids {
		require.Equal(t, StatusReady, env.k.Status(id))
		require.True(t, env.k.GetCode(id) == idle)
	}

	_, err = env.k.Fork(nil, nil)
	require.Equal(t, ErrNoCode, err)
	_, err = env.k.Fork(NewFSM("empty"), nil)
	require.Equal(t, ErrNoCode, err)
}

func TestStaleHandle(t *testing.T) {
	env := newKernelTestEnv(t, 1)
	idle := NewFSM("idle", func(task *Task) { task.When(1, 0) })
	a := env.fork(idle, nil)
	require.True(t, env.k.Kill(a))
	require.False(t, env.k.Kill(a))
	b := env.fork(idle, nil)
	require.NotEqual(t, a, b)
	require.Equal(t, StatusDead, env.k.Status(a))
	require.Nil(t, env.k.GetCode(a))
	require.True(t, env.k.GetCode(b) == idle)
}

func TestMaxTasksLimit(t *testing.T) {
	k := New(Config{MaxTasks: 1 << 17})
	require.Len(t, k.tcbs, MaxTasks)

	id := makeTaskID(MaxTasks-1, 0xffff)
	require.Equal(t, int32(MaxTasks-1), id.slot())

	// fork into the highest slot
	k.free = []int32{MaxTasks - 1}
	idle := NewFSM("idle", func(task *Task) { task.When(1, 0) })
	top, err := k.Fork(idle, nil)
	require.NoError(t, err)
	require.Equal(t, int32(MaxTasks-1), top.slot())
	require.True(t, k.GetCode(top) == idle)
	require.True(t, k.Kill(top))
}

func TestFallThrough(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	env.fork(NewFSM("chain",
		env.log("a"),
		func(task *Task) {
			env.log("b")(task)
			task.Proceed(2)
		},
		env.log("c"),
	), nil)
	env.pass(1)
	env.expect("a", "b")
	require.Equal(t, 1, env.k.Live())
	env.pass(1)
	env.expect("c")
	require.Equal(t, 0, env.k.Live())
	env.pass(0)
}

func TestProceedNotReentrant(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	var runs int
	loop := NewFSM("loop", func(task *Task) {
		runs++
		task.Proceed(0)
	})
	id := env.fork(loop, nil)
	require.Equal(t, 0, runs)
	for pass := 1; pass <= 5; pass++ {
		env.pass(1)
		require.Equal(t, pass, runs)
		require.Equal(t, StatusReady, env.k.Status(id))
	}
}

func TestForkedTaskRunsNextPass(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	child := NewFSM("child", env.log("child"))
	env.fork(NewFSM("parent", func(task *Task) {
		env.log("parent")(task)
		_, err := task.Fork(child, nil)
		require.NoError(t, err)
	}), nil)
	env.pass(1)
	env.expect("parent")
	env.pass(1)
	env.expect("child")
}

func TestTrigger(t *testing.T) {
	const (
		e1 Event = 1
		e2 Event = 2
	)
	env := newKernelTestEnv(t, 4)
	waiter := func(e Event, name string) *FSM {
		return NewFSM(name,
			func(task *Task) { task.When(e, 1) },
			func(task *Task) {
				require.Equal(t, e, task.Event())
				env.log(name)(task)
			},
		)
	}
	a := env.fork(waiter(e1, "a"), nil)
	b := env.fork(waiter(e1, "b"), nil)
	c := env.fork(waiter(e2, "c"), nil)
	env.pass(3)
	for _, id := range []TaskID{a, b, c} {
		require.Equal(t, StatusWaitEvent, env.k.Status(id))
	}

	require.Equal(t, 2, env.k.Trigger(e1))
	require.Equal(t, StatusReady, env.k.Status(a))
	require.Equal(t, StatusReady, env.k.Status(b))
	require.Equal(t, StatusWaitEvent, env.k.Status(c))
	require.Equal(t, 0, env.k.Trigger(e1))
	env.pass(2)
	env.expect("a", "b")
	env.pass(0)
	require.Equal(t, 1, env.k.Live())
}

func TestPTrigger(t *testing.T) {
	const e Event = 5
	env := newKernelTestEnv(t, 4)
	waiter := NewFSM("waiter",
		func(task *Task) { task.When(e, 1) },
		func(task *Task) { env.events = append(env.events, task.Data().(string)) },
	)
	a := env.fork(waiter, "a")
	b := env.fork(waiter, "b")
	env.pass(2)
	require.True(t, env.k.PTrigger(b, e))
	require.False(t, env.k.PTrigger(b, e))
	require.False(t, env.k.PTrigger(a, e+1))
	require.Equal(t, StatusWaitEvent, env.k.Status(a))
	env.pass(1)
	env.expect("b")
	require.True(t, env.k.Running(waiter) == a)
}

func TestWhenMultiple(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	env.fork(NewFSM("multi",
		func(task *Task) {
			task.When(10, 1)
			task.When(20, 2)
		},
		func(task *Task) {
			env.log("ten")(task)
			task.Finish()
		},
		env.log("twenty"),
	), nil)
	env.pass(1)
	require.Equal(t, 1, env.k.Trigger(20))
	require.Equal(t, 0, env.k.Trigger(10))
	env.pass(1)
	env.expect("twenty")
	require.Equal(t, 0, env.k.Live())
}

func TestWaitTimeout(t *testing.T) {
	const e Event = 3
	env := newKernelTestEnv(t, 4)
	waiter := NewFSM("waiter",
		func(task *Task) { task.Wait(e, 3, 1) },
		func(task *Task) {
			if task.TimedOut() {
				env.log("timeout")(task)
			} else {
				require.Equal(t, e, task.Event())
				env.log("event")(task)
			}
		},
	)
	id := env.fork(waiter, nil)
	env.pass(1)
	require.Equal(t, StatusWaitEvent|StatusWaitTimer, env.k.Status(id))
	env.k.Tick(2)
	require.Equal(t, uint32(1), env.k.DLeft(id))
	env.pass(0)
	env.k.Tick(1)
	require.Equal(t, StatusReady, env.k.Status(id))
	require.Equal(t, 0, env.k.Trigger(e))
	env.pass(1)
	env.expect("timeout")

	id = env.fork(waiter, nil)
	env.pass(1)
	env.k.Tick(2)
	require.Equal(t, 1, env.k.Trigger(e))
	require.Equal(t, uint32(0), env.k.DLeft(id))
	env.k.Tick(5)
	env.pass(1)
	env.expect("event")
}

func TestDelayZero(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	env.fork(NewFSM("nodelay",
		func(task *Task) { task.Delay(0, 1) },
		func(task *Task) {
			require.True(t, task.TimedOut())
			env.log("woke")(task)
		},
	), nil)
	env.pass(1)
	env.expect()
	env.pass(1)
	env.expect("woke")
}

func TestUnwait(t *testing.T) {
	const e Event = 9
	env := newKernelTestEnv(t, 4)
	id := env.fork(NewFSM("unwait",
		func(task *Task) {
			task.Wait(e, 10, 2)
			task.Unwait()
			task.Delay(1, 1)
		},
		func(task *Task) {
			env.log("delayed")(task)
			task.Finish()
		},
		env.log("event"),
	), nil)
	env.pass(1)
	require.Equal(t, StatusWaitTimer, env.k.Status(id))
	require.Equal(t, 0, env.k.Trigger(e))
	env.k.Tick(1)
	env.pass(1)
	env.expect("delayed")
}

func TestTooManyWaits(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	env.fork(NewFSM("greedy", func(task *Task) {
		for e := Event(1); e <= MaxEvents+1; e++ {
			task.When(e, 0)
		}
	}), nil)
	_, err := env.k.RunPass()
	requireSysError(t, fx.CodeTooManyWaits, err)
}

func TestBadState(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	env.fork(NewFSM("bad", func(task *Task) { task.Proceed(5) }), nil)
	env.pass(1)
	_, err := env.k.RunPass()
	requireSysError(t, fx.CodeBadState, err)
	require.Equal(t, err, env.k.Halted())
	_, again := env.k.RunPass()
	require.Equal(t, err, again)
	require.Equal(t, err, env.k.Run(context.Background()))
}

func TestKillScenario(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	loop := NewFSM("A", func(task *Task) { task.Proceed(0) })
	a := env.fork(loop, nil)
	killer := NewFSM("B", func(task *Task) {
		require.True(t, task.Kernel().Kill(a))
	})
	b := env.fork(killer, nil)
	env.pass(2)
	require.Equal(t, StatusDead, env.k.Status(b))
	require.Equal(t, NoTask, env.k.Running(loop))
	require.Equal(t, 0, env.k.CRunning(loop))
	require.Equal(t, 0, env.k.Live())
	env.pass(0)
}

func TestKillSelf(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	env.fork(NewFSM("self",
		func(task *Task) {
			task.Kernel().Kill(task.ID())
			task.Proceed(1)
		},
		env.log("never"),
	), nil)
	env.pass(1)
	env.pass(0)
	env.expect()
	require.Equal(t, 0, env.k.Live())
}

func TestKillAll(t *testing.T) {
	env := newKernelTestEnv(t, 8)
	sender := NewFSM("send", func(task *Task) { task.Delay(100, 0) })
	other := NewFSM("other", func(task *Task) { task.Delay(100, 0) })
	for i := 0; i < 3; i++ {
		env.fork(sender, nil)
	}
	o := env.fork(other, nil)
	env.pass(4)
	require.Equal(t, 3, env.k.CRunning(sender))
	require.Equal(t, 3, env.k.KillAll(sender))
	require.Equal(t, 0, env.k.CRunning(sender))
	require.Equal(t, o, env.k.Running(other))
	require.Equal(t, 1, env.k.Live())
}

func TestJoin(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	child := NewFSM("child", env.log("child"))
	env.fork(NewFSM("parent",
		func(task *Task) {
			_, err := task.Call(child, nil, 1)
			require.NoError(t, err)
		},
		func(task *Task) {
			require.True(t, task.Event().IsSystem())
			env.log("parent")(task)
		},
	), nil)
	env.drain()
	env.expect("child", "parent")
}

func TestJoinKilled(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	child := env.fork(NewFSM("stuck", func(task *Task) { task.When(1, 0) }), nil)
	var joined bool
	env.fork(NewFSM("parent",
		func(task *Task) { joined = task.Join(child, 1) },
		func(task *Task) {
			require.Equal(t, TaskEvent(child), task.Event())
			env.log("joined")(task)
		},
	), nil)
	env.pass(2)
	require.True(t, joined)
	require.True(t, env.k.Kill(child))
	env.pass(1)
	env.expect("joined")
}

func TestJoinFinished(t *testing.T) {
	env := newKernelTestEnv(t, 4)
	child := env.fork(NewFSM("quick", env.log("quick")), nil)
	env.pass(1)
	var joined bool
	env.fork(NewFSM("parent", func(task *Task) { joined = task.Join(child, 0) }), nil)
	env.pass(1)
	require.False(t, joined)
	require.Equal(t, 0, env.k.Live())
}

func TestRun(t *testing.T) {
	k := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	_, err := k.Fork(NewFSM("sleeper",
		func(task *Task) { task.Delay(3, 1) },
		func(task *Task) { task.When(42, 2) },
		func(task *Task) { close(done) },
	), nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(ctx) }()
	go fx.NewClock(time.Millisecond, k).Run(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
				k.Trigger(42)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never completed")
	}
	cancel()
	require.Equal(t, context.Canceled, <-errCh)
}
