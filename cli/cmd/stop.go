package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rajulubheem/thrivix-sub003/client"
	"github.com/rajulubheem/thrivix-sub003/log"
)

// StopCommand returns the stop command: ask the backend to stop a
// running execution.
func StopCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "id",
			Usage:    "Execution ID to stop",
			Required: true,
		},
	}
	flags = append(flags, ControlFlags()...)

	return &cli.Command{
		Name:   "stop",
		Usage:  "Stop a running execution",
		Flags:  flags,
		Action: stopAction,
	}
}

func stopAction(c *cli.Context) error {
	choice, err := resolveSession(c)
	if err != nil {
		return err
	}

	executionID := c.String("id")
	cl, err := newClient(choice, log.NewLogger(executionID))
	if err != nil {
		return err
	}

	if err := cl.Stop(c.Context, executionID); err != nil {
		if client.IsNotFound(err) {
			return cli.Exit(fmt.Sprintf("execution not found: %s", executionID), exitSessionFailed)
		}
		return fmt.Errorf("stop request failed: %w", err)
	}

	fmt.Printf("stop requested: %s\n", executionID)
	return nil
}
