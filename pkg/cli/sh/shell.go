package sh

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/coop.go/pkg/chat"
)

// Shell provides ishell backed interactive shell over a chat station.
type Shell struct {
	Interactive bool
	SendTimeout time.Duration

	Shell   *ishell.Shell
	Config  *chat.Config
	Station *chat.Station

	cancel func()
	exitCh chan error
}

const shellKey = "$shell"

var (
	// flags

	evalOnly    bool
	sendTimeout = time.Second

	commands []*ishell.Cmd
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.DurationVar(&sendTimeout, "send-timeout", sendTimeout, "Time to wait for a message to be sent.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

type shellWriter struct {
	s *ishell.Shell
}

func (w shellWriter) Write(p []byte) (int, error) {
	w.s.Print(string(p))
	return len(p), nil
}

// New creates a new shell.
func New(conf *chat.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		SendTimeout: sendTimeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Start dials the configured transport and runs the station in background.
func (s *Shell) Start() error {
	rw, err := s.Config.Dial()
	if err != nil {
		return err
	}
	station, err := s.Config.NewStation(rw, shellWriter{s: s.Shell})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.Station, s.cancel, s.exitCh = station, cancel, make(chan error, 1)
	go func() {
		err := station.Run(ctx)
		if err != nil {
			glog.Errorf("station stopped: %v", err)
		}
		s.exitCh <- err
	}()
	s.UpdatePrompt()
	return nil
}

// Stop stops the station and waits for it to exit.
func (s *Shell) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	err := <-s.exitCh
	s.cancel = nil
	return err
}

// UpdatePrompt shows the current node id in the prompt.
func (s *Shell) UpdatePrompt() {
	s.Shell.SetPrompt(fmt.Sprintf("[node #%d] > ", s.Station.Node.ID()))
}

// Send sends text to receiver and waits until the send task finishes.
func (s *Shell) Send(c *ishell.Context, receiver int, text string) error {
	done, err := s.Station.Node.Send(receiver, text)
	if err != nil {
		c.Err(err)
		return err
	}
	select {
	case <-done:
		return nil
	case <-time.After(s.SendTimeout):
		c.Err(fmt.Errorf("Send timeout"))
		return context.DeadlineExceeded
	}
}

// ReadNodeID reads a node id from args, or prompts until a valid one is
// entered in interactive mode.
func ReadNodeID(c *ishell.Context, args []string, prompt string) (int, []string, bool) {
	if len(args) > 0 {
		id, err := strconv.Atoi(args[0])
		if err != nil || !chat.ValidNodeID(id) {
			c.Println("Invalid ID")
			return 0, nil, false
		}
		return id, args[1:], true
	}
	if !ShellFrom(c).Interactive {
		c.Err(fmt.Errorf("node id expected"))
		return 0, nil, false
	}
	for {
		c.Print(prompt)
		id, err := strconv.Atoi(strings.TrimSpace(c.ReadLine()))
		if err == nil && chat.ValidNodeID(id) {
			return id, nil, true
		}
		c.Println("Invalid ID")
	}
}

// ReadText joins args into the message text, or prompts for it.
func ReadText(c *ishell.Context, args []string) (string, bool) {
	if len(args) > 0 {
		return strings.Join(args, " "), true
	}
	if !ShellFrom(c).Interactive {
		c.Err(fmt.Errorf("message expected"))
		return "", false
	}
	c.Print("Message: ")
	return c.ReadLine(), true
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if err := s.Start(); err != nil {
		glog.Exitf("start station failed: %v", err)
	}
	defer s.Stop()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			glog.Exit(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Printf("P2P Chat (Node #%d)\n", s.Station.Node.ID())
		s.Shell.Run()
		return
	}
	glog.Exit("command expected")
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(chat.NewConfig()).Run(flag.Args()...)
}
