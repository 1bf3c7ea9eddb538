package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rajulubheem/thrivix-sub003/client"
	"github.com/rajulubheem/thrivix-sub003/log"
)

// RunCommand returns the run command: start an execution on the backend
// and stream its state until the session ends.
func RunCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "task",
			Usage:    "Task description for the agents",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "mode",
			Usage: "Execution mode hint (e.g. sequential, parallel)",
			Value: "auto",
		},
		&cli.StringSliceFlag{
			Name:  "agents",
			Usage: "Agent name hints (repeatable)",
		},
	}
	flags = append(flags, SessionFlags()...)

	return &cli.Command{
		Name:   "run",
		Usage:  "Start an execution and stream it until completion",
		Flags:  flags,
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	choice, err := resolveSession(c)
	if err != nil {
		return err
	}

	bootLogger := log.NewLogger("")
	cl, err := newClient(choice, bootLogger)
	if err != nil {
		return err
	}

	executionID, err := cl.Execute(c.Context, client.ExecuteRequest{
		Task:          c.String("task"),
		AgentsHint:    c.StringSlice("agents"),
		ExecutionMode: c.String("mode"),
	})
	if err != nil {
		return fmt.Errorf("execute request failed: %w", err)
	}

	if !choice.quiet {
		fmt.Printf("execution started: %s\n", executionID)
	}

	s := newSession(choice, executionID, choice.transport)
	tr := buildTransport(choice, executionID, s.logger, s.collector)
	return s.run(c.Context, tr)
}
