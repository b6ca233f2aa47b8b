package tcv

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"

	fx "github.com/robotalks/coop.go/pkg/framework"
)

// Driver is the physical driver of a channel carried by a packet transport.
// Frames read from the transport are received on the channel while
// reception is on; outgoing packets of the channel are written to it while
// transmission is on.
type Driver struct {
	Registry   *Registry
	Phys       int
	ReadWriter PacketReadWriter
	// MaxPayload is reported by OptGetMaxPL.
	MaxPayload int

	lock   sync.Mutex
	status int
	txWake chan struct{}
}

// NewDriver creates a Driver and attaches it to channel phys. Reception
// starts off and transmission on.
func NewDriver(r *Registry, phys int, rw PacketReadWriter) (*Driver, error) {
	d := &Driver{
		Registry:   r,
		Phys:       phys,
		ReadWriter: rw,
		status:     StatusTxOn,
		txWake:     make(chan struct{}, 1),
	}
	if err := r.Attach(phys, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Name implements Named.
func (d *Driver) Name() string {
	return fmt.Sprintf("phys-%d", d.Phys)
}

// Control implements Phys.
func (d *Driver) Control(option, arg int) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	switch option {
	case OptStatus:
	case OptOn:
		d.status |= StatusRxOn
	case OptOff:
		d.status &^= StatusRxOn
	case OptTxOn:
		d.status |= StatusTxOn
		select {
		case d.txWake <- struct{}{}:
		default:
		}
	case OptTxOff, OptTxHold:
		d.status &^= StatusTxOn
	case OptGetMaxPL:
		return d.MaxPayload, nil
	default:
		return 0, ErrBadOption
	}
	glog.V(2).Infof("phys %d: option %d, status %#x", d.Phys, option, d.status)
	return d.status, nil
}

func (d *Driver) on(bit int) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.status&bit != 0
}

// Run implements Runnable.
func (d *Driver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	txErr := make(chan error, 1)
	go func() {
		err := d.transmit(ctx)
		cancel()
		txErr <- err
	}()

	var err error
	if closer, ok := d.ReadWriter.(io.Closer); ok {
		err = fx.RunWithContextCloser(ctx, closer, d.receive)
	} else {
		rxErr := make(chan error, 1)
		go func() { rxErr <- d.receive() }()
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case err = <-rxErr:
		}
	}
	cancel()
	if e := <-txErr; e != nil && e != context.Canceled {
		return e
	}
	return err
}

func (d *Driver) receive() error {
	for {
		frame, err := d.ReadWriter.ReadPacket()
		if err != nil {
			return err
		}
		if !d.on(StatusRxOn) {
			glog.V(2).Infof("phys %d: reception off, %d bytes ignored", d.Phys, len(frame))
			continue
		}
		if err := d.Registry.PhysReceive(d.Phys, frame); err != nil {
			glog.V(2).Infof("phys %d: %v", d.Phys, err)
		}
	}
}

func (d *Driver) transmit(ctx context.Context) error {
	notify := d.Registry.PhysNotify(d.Phys)
	for {
		for d.on(StatusTxOn) {
			b := d.Registry.PhysGet(d.Phys)
			if b == nil {
				break
			}
			if err := d.ReadWriter.WritePacket(b.Bytes()); err != nil {
				glog.Warningf("phys %d: transmit failed: %v", d.Phys, err)
				d.Registry.PhysTimeout(b)
				return err
			}
			glog.V(2).Infof("phys %d: sent %d bytes, %v", d.Phys, b.Len(), b.Attr())
			d.Registry.PhysEnd(b)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		case <-d.txWake:
		}
	}
}
