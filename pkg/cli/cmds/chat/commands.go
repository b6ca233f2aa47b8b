package chat

import (
	"github.com/abiosoft/ishell"

	"github.com/robotalks/coop.go/pkg/cli/sh"
	"github.com/robotalks/coop.go/pkg/tcv"
)

var (
	// ChangeIDCmd changes the node id.
	ChangeIDCmd = ishell.Cmd{
		Name:    "id",
		Aliases: []string{"c"},
		Help:    "[ID]",
		Func: func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			id, _, ok := sh.ReadNodeID(c, c.Args, "New node ID (1-25): ")
			if !ok {
				return
			}
			if err := s.Station.Node.SetID(id); err != nil {
				c.Err(err)
				return
			}
			s.UpdatePrompt()
		},
	}

	// DirectCmd sends a message to one node.
	DirectCmd = ishell.Cmd{
		Name:    "direct",
		Aliases: []string{"d"},
		Help:    "[ID [MESSAGE]]",
		Func: func(c *ishell.Context) {
			id, args, ok := sh.ReadNodeID(c, c.Args, "Receiver node ID (1-25): ")
			if !ok {
				return
			}
			if text, ok := sh.ReadText(c, args); ok {
				sh.ShellFrom(c).Send(c, id, text)
			}
		},
	}

	// BroadcastCmd sends a message to all nodes.
	BroadcastCmd = ishell.Cmd{
		Name:    "broadcast",
		Aliases: []string{"b"},
		Help:    "[MESSAGE]",
		Func: func(c *ishell.Context) {
			if text, ok := sh.ReadText(c, c.Args); ok {
				sh.ShellFrom(c).Send(c, 0, text)
			}
		},
	}

	// StatusCmd shows node, task and buffer usage.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"s"},
		Help:    "",
		Func: func(c *ishell.Context) {
			st := sh.ShellFrom(c).Station
			c.Printf("node #%d seq %d session %d\n", st.Node.ID(), st.Node.Seq(), st.Node.Session())
			c.Printf("tasks %d, buffers %d, free %d/%d bytes\n",
				st.Kernel.Live(), st.Pool.Live(), st.Pool.Free(), st.Pool.Capacity())
			if sid := st.Node.Session(); sid >= 0 {
				rq, _ := st.Registry.QSize(sid, tcv.SideReceive)
				tq, _ := st.Registry.QSize(sid, tcv.SideTransmit)
				c.Printf("queued rx %d, tx %d\n", rq, tq)
			}
			if status, err := st.Driver.Control(tcv.OptStatus, 0); err == nil {
				c.Printf("phys %d rx %v tx %v\n", st.Driver.Phys,
					status&tcv.StatusRxOn != 0, status&tcv.StatusTxOn != 0)
			}
		},
	}
)

func init() {
	sh.AddCmds(
		&ChangeIDCmd,
		&DirectCmd,
		&BroadcastCmd,
		&StatusCmd,
	)
}
