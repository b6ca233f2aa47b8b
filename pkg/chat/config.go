package chat

import (
	"flag"
	"fmt"
	"hash/crc32"
	"os"
	"strconv"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	fx "github.com/robotalks/coop.go/pkg/framework"
	"github.com/robotalks/coop.go/pkg/kernel"
	"github.com/robotalks/coop.go/pkg/pool"
	"github.com/robotalks/coop.go/pkg/tcv"
	"github.com/robotalks/coop.go/pkg/tcv/phys/mqtt"
	"github.com/robotalks/coop.go/pkg/tcv/phys/stream"
	"github.com/robotalks/coop.go/pkg/tcv/phys/websocket"
)

// Phys kinds
const (
	PhysMQTT      = "mqtt"
	PhysTCP       = "tcp"
	PhysWebsocket = "ws"
)

// Config provides the options of a chat station.
type Config struct {
	// NodeID is the initial node id, 1..MaxNodeID.
	NodeID int
	// Origin tags the frames of this station on shared media.
	Origin string
	// Phys selects the transport: mqtt, tcp or ws.
	Phys string
	// MQTTURL is the broker, e.g. mqtt://host:port/topic-prefix/
	MQTTURL string
	// StreamAddr is the TCP address of an ether relay.
	StreamAddr string
	// WebsocketURL is the websocket URL of an ether relay.
	WebsocketURL string
	// PoolCapacity is the packet pool size in bytes.
	PoolCapacity int
	// MaxTasks is the task table size.
	MaxTasks int
	// HeaderReserve is the number of bytes ahead of every payload.
	HeaderReserve int
	// TickInterval is the period of one kernel tick.
	TickInterval time.Duration
}

var defaultConfig = Config{
	Phys:          PhysMQTT,
	MQTTURL:       "mqtt://localhost:1883/coop/",
	StreamAddr:    "localhost:7470",
	WebsocketURL:  "ws://localhost:7471/ether",
	PoolCapacity:  pool.DefaultCapacity,
	MaxTasks:      kernel.DefaultMaxTasks,
	HeaderReserve: tcv.DefaultHeaderReserve,
	TickInterval:  fx.DefaultTickInterval,
}

func init() {
	defaultConfig.Origin = MachineOrigin()
	defaultConfig.NodeID = DefaultNodeID(defaultConfig.Origin)
	if val := os.Getenv("COOP_NODE_ID"); val != "" {
		if id, err := strconv.Atoi(val); err == nil {
			defaultConfig.NodeID = id
		}
	}
	if val := os.Getenv("COOP_PHYS"); val != "" {
		defaultConfig.Phys = val
	}
	if val := os.Getenv("COOP_MQTT_URL"); val != "" {
		defaultConfig.MQTTURL = val
	}
	if val := os.Getenv("COOP_STREAM_ADDR"); val != "" {
		defaultConfig.StreamAddr = val
	}
	if val := os.Getenv("COOP_WS_URL"); val != "" {
		defaultConfig.WebsocketURL = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.IntVar(&defaultConfig.NodeID, "node-id", defaultConfig.NodeID, "Initial node ID (1-25).")
	flag.StringVar(&defaultConfig.Origin, "origin", defaultConfig.Origin, "Station tag on shared media.")
	flag.StringVar(&defaultConfig.Phys, "phys", defaultConfig.Phys, "Transport: mqtt, tcp or ws.")
	flag.StringVar(&defaultConfig.MQTTURL, "mqtt", defaultConfig.MQTTURL, "MQTT broker URL.")
	flag.StringVar(&defaultConfig.StreamAddr, "tcp", defaultConfig.StreamAddr, "TCP address of ether relay.")
	flag.StringVar(&defaultConfig.WebsocketURL, "ws", defaultConfig.WebsocketURL, "Websocket URL of ether relay.")
	flag.IntVar(&defaultConfig.PoolCapacity, "pool", defaultConfig.PoolCapacity, "Packet pool size in bytes.")
	flag.IntVar(&defaultConfig.MaxTasks, "tasks", defaultConfig.MaxTasks, "Task table size.")
	flag.IntVar(&defaultConfig.HeaderReserve, "header", defaultConfig.HeaderReserve, "Bytes reserved ahead of payload.")
	flag.DurationVar(&defaultConfig.TickInterval, "tick", defaultConfig.TickInterval, "Kernel tick interval.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Dial connects the configured transport.
func (c *Config) Dial() (tcv.PacketReadWriter, error) {
	switch c.Phys {
	case PhysMQTT:
		return mqtt.Dial(c.MQTTURL, 0, c.Origin)
	case PhysTCP:
		return stream.Dial(c.StreamAddr)
	case PhysWebsocket:
		return websocket.Dial(c.WebsocketURL, "http://"+c.Origin+"/")
	default:
		return nil, fmt.Errorf("unknown phys %q", c.Phys)
	}
}

// MachineOrigin derives a station tag from the machine id, or the host name
// when the machine id is unavailable.
func MachineOrigin() string {
	id, err := machineid.ProtectedID("coop")
	if err == nil && len(id) >= 12 {
		return id[:12]
	}
	glog.V(2).Infof("machine id unavailable: %v", err)
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	return host
}

// DefaultNodeID maps an origin into 1..MaxNodeID.
func DefaultNodeID(origin string) int {
	return int(crc32.ChecksumIEEE([]byte(origin))%MaxNodeID) + 1
}
