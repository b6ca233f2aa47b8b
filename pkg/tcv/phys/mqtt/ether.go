package mqtt

import (
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/coop.go/pkg/tcv/phys/envelope"
)

// DefaultBacklog is the number of received frames held before dropping.
const DefaultBacklog = 16

// EtherTopic is the topic of channel phys.
func EtherTopic(phys int) string {
	return fmt.Sprintf("ether/%d", phys)
}

// Ether implements tcv.PacketReadWriter on an MQTT topic. Frames are sealed
// in envelopes carrying the origin, and frames of its own origin are
// skipped on reception.
type Ether struct {
	Queue *Queue
	Topic string

	sealer  envelope.Sealer
	sub     *Subscription
	rx      chan []byte
	closeCh chan struct{}
	once    sync.Once
}

// NewEther creates an Ether of channel phys for station origin and
// subscribes its topic.
func NewEther(q *Queue, phys int, origin string) *Ether {
	e := &Ether{
		Queue:   q,
		Topic:   EtherTopic(phys),
		sealer:  envelope.Sealer{Origin: origin, Channel: uint32(phys)},
		rx:      make(chan []byte, DefaultBacklog),
		closeCh: make(chan struct{}),
	}
	e.sub = q.Sub(e.Topic, e.handle)
	return e
}

// Dial connects to the broker and returns the Ether of channel phys.
func Dial(brokerURL string, phys int, origin string) (*Ether, error) {
	opts, prefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	if opts.ClientID == "" {
		opts.SetClientID("coop:" + origin)
	}
	q := NewQueue(opts, prefix)
	e := NewEther(q, phys, origin)
	if err := q.Connect(); err != nil {
		return nil, err
	}
	return e, nil
}

// ReadPacket implements PacketReader.
func (e *Ether) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-e.rx:
		return pkt, nil
	case <-e.closeCh:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter.
func (e *Ether) WritePacket(pkt []byte) error {
	data, err := e.sealer.Seal(pkt).Encode()
	if err != nil {
		return err
	}
	token := e.Queue.Pub(e.Topic, data)
	token.Wait()
	return token.Error()
}

// Close implements io.Closer.
func (e *Ether) Close() error {
	var err error
	e.once.Do(func() {
		close(e.closeCh)
		err = e.sub.Close()
		e.Queue.Close()
	})
	return err
}

func (e *Ether) handle(topic string, payload []byte) {
	env, err := envelope.Decode(payload)
	if err != nil {
		glog.V(2).Infof("%s: bad envelope: %v", topic, err)
		return
	}
	if env.Origin == e.sealer.Origin {
		return
	}
	select {
	case e.rx <- env.Frame:
	case <-e.closeCh:
	default:
		glog.V(2).Infof("%s: backlog full, frame from %s dropped", topic, env.Origin)
	}
}
