package chat

import (
	"context"
	"io"

	fx "github.com/robotalks/coop.go/pkg/framework"
	"github.com/robotalks/coop.go/pkg/kernel"
	"github.com/robotalks/coop.go/pkg/pool"
	"github.com/robotalks/coop.go/pkg/tcv"
	"github.com/robotalks/coop.go/pkg/tcv/plug/null"
)

// Station assembles a chat node with its kernel, tick clock, pool,
// registry and channel driver on channel 0.
type Station struct {
	Kernel   *kernel.Kernel
	Clock    *fx.Clock
	Pool     *pool.Pool
	Registry *tcv.Registry
	Driver   *tcv.Driver
	Node     *Node
}

// NewStation creates a Station carried by rw, writing node output to out.
func (c *Config) NewStation(rw tcv.PacketReadWriter, out io.Writer) (*Station, error) {
	s := &Station{
		Kernel: kernel.New(kernel.Config{MaxTasks: c.MaxTasks}),
		Pool:   pool.New(pool.Config{Capacity: c.PoolCapacity}),
	}
	s.Clock = fx.NewClock(c.TickInterval, s.Kernel)
	s.Registry = tcv.New(tcv.Config{HeaderReserve: c.HeaderReserve}, s.Pool, s.Kernel)
	if err := s.Registry.Plug(0, null.New()); err != nil {
		return nil, err
	}
	driver, err := tcv.NewDriver(s.Registry, 0, rw)
	if err != nil {
		return nil, err
	}
	driver.MaxPayload = s.Pool.Capacity()
	s.Driver = driver
	if s.Node, err = NewNode(s.Kernel, s.Registry, 0, c.NodeID, out); err != nil {
		return nil, err
	}
	return s, nil
}

// Run starts the node and runs the kernel, clock and driver until ctx is
// done or one of them fails.
func (s *Station) Run(ctx context.Context) error {
	if err := s.Node.Start(); err != nil {
		return err
	}
	return fx.NewRunnerWith(ctx).Linked().
		Go(s.Kernel, s.Clock, s.Driver).
		Wait()
}
