package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/coop.go/pkg/chat"
	fx "github.com/robotalks/coop.go/pkg/framework"
	"github.com/robotalks/coop.go/pkg/tcv"
	"github.com/robotalks/coop.go/pkg/tcv/phys/envelope"
	"github.com/robotalks/coop.go/pkg/tcv/phys/loop"
	"github.com/robotalks/coop.go/pkg/tcv/phys/mqtt"
	"github.com/robotalks/coop.go/pkg/tcv/phys/stream"
	"github.com/robotalks/coop.go/pkg/tcv/phys/websocket"
)

var (
	mqttURL       = ""
	listenTCP     = ""
	listenWS      = ""
	headerReserve = tcv.DefaultHeaderReserve
	backlog       = loop.DefaultBacklog
)

func init() {
	if val := os.Getenv("COOP_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL to sniff.")
	flag.StringVar(&listenTCP, "listen-tcp", listenTCP, "Relay ether over TCP on this address.")
	flag.StringVar(&listenWS, "listen-ws", listenWS, "Relay ether over websocket on this address.")
	flag.IntVar(&headerReserve, "header", headerReserve, "Bytes reserved ahead of payload.")
	flag.IntVar(&backlog, "backlog", backlog, "Frames buffered per relay station.")
}

func describe(frame []byte) string {
	if len(frame) < headerReserve {
		return fmt.Sprintf("short frame % x", frame)
	}
	msg, err := chat.DecodeMessage(frame[headerReserve:])
	if err != nil {
		return fmt.Sprintf("%d bytes % x", len(frame), frame)
	}
	to := fmt.Sprintf("node %d", msg.Receiver)
	if msg.Broadcast() {
		to = "all"
	}
	return fmt.Sprintf("chat %d -> %s (Seq %d): %q", msg.Sender, to, msg.Seq, msg.Text())
}

func sniff(ctx context.Context) error {
	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		return err
	}
	q.Sub("ether/#", mqtt.Handler(func(topic string, payload []byte) {
		env, err := envelope.Decode(payload)
		if err != nil {
			glog.Warningf("%s: bad envelope: %v", topic, err)
			return
		}
		glog.Infof("%s: [%s #%d] %s", topic, env.Origin, env.Seq, describe(env.Frame))
	}))
	if err := q.Connect(); err != nil {
		return err
	}
	<-ctx.Done()
	q.Close()
	return ctx.Err()
}

func monitor(ctx context.Context, ether *loop.Ether) error {
	port := ether.Connect(backlog)
	return fx.RunWithContextCloser(ctx, port, func() error {
		for {
			frame, err := port.ReadPacket()
			if err != nil {
				return err
			}
			glog.Infof("ether: %s", describe(frame))
		}
	})
}

func relayTCP(ctx context.Context, ether *loop.Ether) error {
	ln, err := net.Listen("tcp", listenTCP)
	if err != nil {
		return err
	}
	glog.Infof("relay listening on tcp %s", ln.Addr())
	return fx.RunWithContextCloser(ctx, ln, func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			go func() {
				defer conn.Close()
				glog.Infof("station %s joined", conn.RemoteAddr())
				err := ether.Serve(stream.New(conn), backlog)
				glog.Infof("station %s left: %v", conn.RemoteAddr(), err)
			}()
		}
	})
}

func relayWS(ctx context.Context, ether *loop.Ether) error {
	mux := http.NewServeMux()
	mux.Handle("/ether", websocket.Relay(ether, backlog))
	server := &http.Server{Addr: listenWS, Handler: mux}
	glog.Infof("relay listening on ws://%s/ether", listenWS)
	return fx.RunWithContextCloser(ctx, server, server.ListenAndServe)
}

func main() {
	flag.Parse()

	var runnables []fx.Runnable
	if mqttURL != "" {
		runnables = append(runnables, fx.NamedRun("sniff", fx.RunFunc(sniff)))
	}
	if listenTCP != "" || listenWS != "" {
		ether := loop.New()
		runnables = append(runnables, fx.NamedRun("monitor", fx.RunFunc(func(ctx context.Context) error {
			return monitor(ctx, ether)
		})))
		if listenTCP != "" {
			runnables = append(runnables, fx.NamedRun("relay-tcp", fx.RunFunc(func(ctx context.Context) error {
				return relayTCP(ctx, ether)
			})))
		}
		if listenWS != "" {
			runnables = append(runnables, fx.NamedRun("relay-ws", fx.RunFunc(func(ctx context.Context) error {
				return relayWS(ctx, ether)
			})))
		}
	}
	if len(runnables) == 0 {
		glog.Exit("nothing to do, specify -mqtt, -listen-tcp or -listen-ws")
	}
	if err := fx.NewRunner().HandleSignals().Go(runnables...).Wait(); err != nil {
		glog.Exit(err)
	}
}
