package main

import (
	"github.com/robotalks/coop.go/pkg/chat"
	"github.com/robotalks/coop.go/pkg/cli/sh"

	_ "github.com/robotalks/coop.go/pkg/cli/cmds/chat"
)

//go-build: CGO_ENABLED=0

func init() {
	chat.SetupFlags()
}

func main() {
	sh.Main()
}
