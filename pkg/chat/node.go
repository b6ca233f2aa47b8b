// Package chat implements a peer-to-peer chat node as cooperative tasks
// exchanging fixed-size messages over a single session.
package chat

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/coop.go/pkg/kernel"
	"github.com/robotalks/coop.go/pkg/pool"
	"github.com/robotalks/coop.go/pkg/tcv"
)

// ErrStarted indicates the node already runs its receiver.
var ErrStarted = errors.New("node already started")

// receiver states
const (
	stReceiving kernel.State = iota
	stReceiveMsg
	stDirect
	stBroadcast
	stShow
)

// sender states
const (
	stSend kernel.State = iota
	stSent
)

type inbound struct {
	packet *pool.Buffer
	msg    *Message
}

type outbound struct {
	msg  Message
	done chan struct{}
}

// Node is a chat station: it prints messages for its id or broadcast, and
// sends messages on request.
type Node struct {
	Kernel   *kernel.Kernel
	Registry *tcv.Registry
	Phys     int
	Out      io.Writer

	lock sync.Mutex
	id   byte
	seq  byte
	sid  int

	receiver *kernel.FSM
	send     *kernel.FSM
	sender   *kernel.FSM
}

// NewNode creates a Node with id on channel phys. Received messages and
// reports are written to out.
func NewNode(k *kernel.Kernel, reg *tcv.Registry, phys, id int, out io.Writer) (*Node, error) {
	if !ValidNodeID(id) {
		return nil, ErrBadNodeID
	}
	n := &Node{
		Kernel:   k,
		Registry: reg,
		Phys:     phys,
		Out:      out,
		id:       byte(id),
		sid:      -1,
	}
	n.receiver = kernel.NewFSM("receiver", n.receiving, n.receiveMsg, n.direct, n.broadcast, n.show)
	n.send = kernel.NewFSM("send", n.sendMsg)
	n.sender = kernel.NewFSM("sender", n.startSend, n.sent)
	return n, nil
}

// Start opens the session, turns reception on and forks the receiver.
func (n *Node) Start() error {
	if n.Kernel.Running(n.receiver) != kernel.NoTask {
		return ErrStarted
	}
	sid, err := n.Registry.Open(n.Phys, tcv.Any)
	if err != nil {
		return fmt.Errorf("unable to open session: %v", err)
	}
	if _, err := n.Registry.Control(sid, tcv.OptOn, 0); err != nil {
		glog.Warningf("phys %d: reception not enabled: %v", n.Phys, err)
	}
	n.lock.Lock()
	n.sid = sid
	n.lock.Unlock()
	if _, err := n.Kernel.Fork(n.receiver, &inbound{}); err != nil {
		n.Registry.Close(sid)
		return err
	}
	glog.Infof("node %d started on phys %d, session %d", n.ID(), n.Phys, sid)
	return nil
}

// Stop kills the tasks of the node and closes the session.
func (n *Node) Stop() error {
	for _, code := range []*kernel.FSM{n.receiver, n.sender, n.send} {
		n.Kernel.KillAll(code)
	}
	n.lock.Lock()
	sid := n.sid
	n.sid = -1
	n.lock.Unlock()
	if sid < 0 {
		return nil
	}
	return n.Registry.Close(sid)
}

// ID returns the node id.
func (n *Node) ID() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return int(n.id)
}

// SetID changes the node id.
func (n *Node) SetID(id int) error {
	if !ValidNodeID(id) {
		return ErrBadNodeID
	}
	n.lock.Lock()
	n.id = byte(id)
	n.lock.Unlock()
	return nil
}

// Seq returns the sequence number of the next message.
func (n *Node) Seq() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return int(n.seq)
}

// Session returns the open session, -1 when stopped.
func (n *Node) Session() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.sid
}

// Send sends text to node receiver, 0 for broadcast. The returned channel
// is closed when the send task finished.
func (n *Node) Send(receiver int, text string) (<-chan struct{}, error) {
	if receiver != 0 && !ValidNodeID(receiver) {
		return nil, ErrBadNodeID
	}
	out := &outbound{done: make(chan struct{})}
	out.msg.Receiver = byte(receiver)
	out.msg.SetText(text)
	if _, err := n.Kernel.Fork(n.sender, out); err != nil {
		return nil, err
	}
	return out.done, nil
}

func (n *Node) printf(format string, args ...interface{}) {
	if n.Out != nil {
		fmt.Fprintf(n.Out, format, args...)
	}
}

func (n *Node) receiving(t *kernel.Task) {
	in := t.Data().(*inbound)
	b, err := n.Registry.Receive(t, stReceiving, n.Session())
	if err == kernel.ErrBlocked {
		return
	}
	if err != nil {
		glog.Errorf("receiver: %v", err)
		t.Finish()
		return
	}
	in.packet = b
}

func (n *Node) receiveMsg(t *kernel.Task) {
	in := t.Data().(*inbound)
	msg, err := DecodeMessage(in.packet.Payload())
	switch {
	case err != nil:
		glog.V(2).Infof("receiver: %v", err)
	case int(msg.Receiver) == n.ID():
		in.msg = msg
		t.Proceed(stDirect)
		return
	case msg.Broadcast():
		in.msg = msg
		t.Proceed(stBroadcast)
		return
	}
	n.Registry.Drop(in.packet)
	in.packet = nil
	t.Proceed(stReceiving)
}

func (n *Node) direct(t *kernel.Task) {
	n.printf("Message ")
	t.Proceed(stShow)
}

func (n *Node) broadcast(t *kernel.Task) {
	n.printf("Broadcast ")
}

func (n *Node) show(t *kernel.Task) {
	in := t.Data().(*inbound)
	n.printf("Message from node %d (Seq %d): %s\n", in.msg.Sender, in.msg.Seq, in.msg.Text())
	n.Registry.End(in.packet)
	in.packet, in.msg = nil, nil
	t.Proceed(stReceiving)
}

func (n *Node) startSend(t *kernel.Task) {
	out := t.Data().(*outbound)
	if _, err := t.Call(n.send, &out.msg, stSent); err != nil {
		glog.Errorf("sender: %v", err)
		close(out.done)
		t.Finish()
	}
}

func (n *Node) sent(t *kernel.Task) {
	close(t.Data().(*outbound).done)
}

func (n *Node) sendMsg(t *kernel.Task) {
	msg := t.Data().(*Message)
	b, err := n.Registry.Write(t, 0, n.Session(), MessageSize, false)
	if err == kernel.ErrBlocked {
		return
	}
	if err != nil {
		glog.Errorf("send: %v", err)
		t.Finish()
		return
	}
	n.lock.Lock()
	msg.Sender, msg.Seq = n.id, n.seq
	n.seq++
	n.lock.Unlock()
	msg.MarshalTo(b.Payload())
	n.Registry.End(b)
	n.printf("\nMessage Sent\n")
	t.Finish()
}
