package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/crewsnap/crewsnap/internal/agent"
	"github.com/crewsnap/crewsnap/internal/daemon"
)

func main() {
	agentFlag := flag.String("agent", "", "agent name (overrides config default)")
	flag.Parse()

	agentName := agent.Resolve(*agentFlag)
	if err := agent.ValidateName(agentName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{AgentName: agentName}),
	)

	app.Run()
}
