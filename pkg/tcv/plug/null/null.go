// Package null implements the null plug-in: one session per channel, no
// framing, every received frame goes to the session of its channel and
// every ended packet is transmitted once.
package null

import (
	"errors"
	"sync"

	"github.com/robotalks/coop.go/pkg/pool"
	"github.com/robotalks/coop.go/pkg/tcv"
)

// Info is the information word of the plug-in.
const Info = 0x0001

// ErrBusy indicates the channel already has a session.
var ErrBusy = errors.New("channel already has a session")

// Plugin is the null plug-in.
type Plugin struct {
	lock     sync.Mutex
	sessions [tcv.MaxPhys]int
}

// New creates a Plugin.
func New() *Plugin {
	p := &Plugin{}
	for n := range p.sessions {
		p.sessions[n] = -1
	}
	return p
}

// Open implements tcv.Plugin.
func (p *Plugin) Open(phys, sid int, args ...interface{}) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.sessions[phys] >= 0 {
		return ErrBusy
	}
	p.sessions[phys] = sid
	return nil
}

// Close implements tcv.Plugin.
func (p *Plugin) Close(phys, sid int) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.sessions[phys] == sid {
		p.sessions[phys] = -1
	}
	return nil
}

// Receive implements tcv.Plugin.
func (p *Plugin) Receive(phys int, frame []byte, bounds *tcv.Bounds) (int, tcv.Disposition) {
	p.lock.Lock()
	defer p.lock.Unlock()
	sid := p.sessions[phys]
	if sid < 0 {
		return sid, tcv.DispDrop
	}
	return sid, tcv.DispReceive
}

// Frame implements tcv.Plugin.
func (p *Plugin) Frame(phys int, bounds *tcv.Bounds) {}

// Output implements tcv.Plugin.
func (p *Plugin) Output(b *pool.Buffer) tcv.Disposition {
	return tcv.DispTransmit
}

// Transmit implements tcv.Plugin.
func (p *Plugin) Transmit(b *pool.Buffer) tcv.Disposition {
	return tcv.DispDrop
}

// TransmitTimeout implements tcv.Plugin.
func (p *Plugin) TransmitTimeout(b *pool.Buffer) tcv.Disposition {
	return tcv.DispDrop
}

// Control implements tcv.Plugin.
func (p *Plugin) Control(driver tcv.Phys, option, arg int) (int, error) {
	if driver == nil {
		return 0, tcv.ErrNoDriver
	}
	return driver.Control(option, arg)
}

// Info implements tcv.Plugin.
func (p *Plugin) Info() int {
	return Info
}
