package websocket

import (
	"net/http"

	"github.com/golang/glog"

	"github.com/robotalks/coop.go/pkg/tcv/phys/loop"
)

// Relay serves an ether to websocket clients: every frame sent by a client
// is delivered to all other stations of the ether.
func Relay(ether *loop.Ether, backlog int) http.Handler {
	return Handler(func(rw *ReadWriter) {
		err := ether.Serve(rw, backlog)
		glog.V(2).Infof("relay: %v", err)
	})
}
