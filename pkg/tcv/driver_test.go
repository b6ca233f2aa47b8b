package tcv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/coop.go/pkg/kernel"
	"github.com/robotalks/coop.go/pkg/tcv"
	"github.com/robotalks/coop.go/pkg/tcv/phys/loop"
)

type station struct {
	*registryTestEnv
	driver *tcv.Driver
	sid    int
}

func newStation(t *testing.T, ether *loop.Ether) *station {
	s := &station{registryTestEnv: newRegistryTestEnv(t, 1024)}
	var err error
	s.driver, err = tcv.NewDriver(s.reg, 0, ether.Connect(0))
	require.NoError(t, err)
	s.sid = s.open(0)
	return s
}

func (s *station) send(payload string) {
	b, err := s.reg.Write(nil, kernel.NoState, s.sid, len(payload), false)
	require.NoError(s.t, err)
	_, err = b.Write([]byte(payload))
	require.NoError(s.t, err)
	s.reg.End(b)
}

func (s *station) await(timeout time.Duration) string {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msg := s.tryReceive(s.sid); msg != "" {
			return msg
		}
		time.Sleep(time.Millisecond)
	}
	return ""
}

func TestDriverOverEther(t *testing.T) {
	ether := loop.New()
	a, b := newStation(t, ether), newStation(t, ether)
	_, err := a.reg.Control(a.sid, tcv.OptTxOff, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 2)
	for _, s := range []*station{a, b} {
		go func(d *tcv.Driver) { errCh <- d.Run(ctx) }(s.driver)
	}

	status, err := b.reg.Control(b.sid, tcv.OptStatus, 0)
	require.NoError(t, err)
	require.Equal(t, tcv.StatusTxOn, status)

	a.send("held")
	size, err := a.reg.QSize(a.sid, tcv.SideTransmit)
	require.NoError(t, err)
	require.Equal(t, 1, size)

	status, err = b.reg.Control(b.sid, tcv.OptOn, 0)
	require.NoError(t, err)
	require.Equal(t, tcv.StatusTxOn|tcv.StatusRxOn, status)
	_, err = a.reg.Control(a.sid, tcv.OptTxOn, 0)
	require.NoError(t, err)
	require.Equal(t, "held", b.await(5*time.Second))

	a.send("hello")
	require.Equal(t, "hello", b.await(5*time.Second))
	require.Equal(t, "", a.tryReceive(a.sid))

	_, err = a.reg.Control(a.sid, 99, 0)
	require.Equal(t, tcv.ErrBadOption, err)

	cancel()
	for i := 0; i < 2; i++ {
		require.Equal(t, context.Canceled, <-errCh)
	}
}
