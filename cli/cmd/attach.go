package cmd

import (
	"github.com/urfave/cli/v2"
)

// AttachCommand returns the attach command: stream an already-running
// execution without starting one.
func AttachCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "id",
			Usage:    "Execution ID to attach to",
			Required: true,
		},
	}
	flags = append(flags, SessionFlags()...)

	return &cli.Command{
		Name:   "attach",
		Usage:  "Attach to a running execution and stream its state",
		Flags:  flags,
		Action: attachAction,
	}
}

func attachAction(c *cli.Context) error {
	choice, err := resolveSession(c)
	if err != nil {
		return err
	}

	executionID := c.String("id")
	s := newSession(choice, executionID, choice.transport)
	tr := buildTransport(choice, executionID, s.logger, s.collector)
	return s.run(c.Context, tr)
}
