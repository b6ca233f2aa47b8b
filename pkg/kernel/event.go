package kernel

// Trigger wakes every task with an armed wait on e and returns how many were
// woken. Safe to call from any goroutine; woken tasks run in a later pass.
func (k *Kernel) Trigger(e Event) int {
	k.lock.Lock()
	n := k.trigger(e)
	k.lock.Unlock()
	if n > 0 {
		k.wake()
	}
	return n
}

// PTrigger wakes only task id if it has an armed wait on e.
func (k *Kernel) PTrigger(id TaskID, e Event) bool {
	k.lock.Lock()
	t := k.lookup(id)
	woken := t != nil && k.deliver(t, e)
	k.lock.Unlock()
	if woken {
		k.wake()
	}
	return woken
}

// Tick advances all armed timers by n ticks. Tasks whose timer expires resume
// with EventTimeout. It implements framework.Ticker.
func (k *Kernel) Tick(n uint32) {
	if n == 0 {
		return
	}
	var expired int
	k.lock.Lock()
	for slot := k.head; slot != noSlot; slot = k.tcbs[slot].next {
		t := &k.tcbs[slot]
		if t.timer == 0 {
			continue
		}
		if t.timer > n {
			t.timer -= n
			continue
		}
		k.fire(t, t.tstate, EventTimeout)
		expired++
	}
	k.lock.Unlock()
	if expired > 0 {
		k.wake()
	}
}

// DLeft returns the ticks left on the armed timer of task id, 0 if none.
func (k *Kernel) DLeft(id TaskID) uint32 {
	k.lock.Lock()
	defer k.lock.Unlock()
	if t := k.lookup(id); t != nil {
		return t.timer
	}
	return 0
}

func (k *Kernel) trigger(e Event) int {
	var n int
	for slot := k.head; slot != noSlot; slot = k.tcbs[slot].next {
		if k.deliver(&k.tcbs[slot], e) {
			n++
		}
	}
	return n
}

func (k *Kernel) deliver(t *tcb, e Event) bool {
	if t.status&StatusDead != 0 {
		return false
	}
	for _, w := range t.events[:t.nevents] {
		if w.event == e {
			k.fire(t, w.state, e)
			return true
		}
	}
	return false
}

// fire makes t Ready at state. A running task keeps its Running bit until
// the body returns.
func (k *Kernel) fire(t *tcb, state State, e Event) {
	t.clearWaits()
	t.state = state
	t.fired = e
	t.status = t.status&StatusRunning | StatusReady
}
