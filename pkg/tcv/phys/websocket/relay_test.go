package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/coop.go/pkg/tcv/phys/loop"
)

func TestRelay(t *testing.T) {
	ether := loop.New()
	mon := ether.Connect(0)
	defer mon.Close()
	srv := httptest.NewServer(Relay(ether, 0))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	dial := func() *ReadWriter {
		rw, err := Dial(url, "http://localhost/")
		require.NoError(t, err)
		// a frame seen by the monitor proves the station joined the ether
		require.NoError(t, rw.WritePacket([]byte("join")))
		pkt, err := mon.ReadPacket()
		require.NoError(t, err)
		require.Equal(t, []byte("join"), pkt)
		return rw
	}
	a := dial()
	defer a.Close()
	b := dial()
	defer b.Close()
	pkt, err := a.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte("join"), pkt)

	require.NoError(t, a.WritePacket([]byte{1, 2, 3}))
	pkt, err = b.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, pkt)
	pkt, err = mon.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, pkt)

	require.NoError(t, mon.WritePacket([]byte("all")))
	for _, rw := range []*ReadWriter{a, b} {
		pkt, err := rw.ReadPacket()
		require.NoError(t, err)
		require.Equal(t, []byte("all"), pkt)
	}
}
