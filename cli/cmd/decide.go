package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rajulubheem/thrivix-sub003/log"
)

// DecideCommand returns the decide command: submit a human decision for
// a workflow state that is waiting on one.
func DecideCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "id",
			Usage:    "Execution ID the decision belongs to",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "state",
			Usage:    "Workflow state that requested the decision",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "event",
			Usage:    "Event to resolve the decision with",
			Required: true,
		},
	}
	flags = append(flags, ControlFlags()...)

	return &cli.Command{
		Name:   "decide",
		Usage:  "Submit a decision for a waiting workflow state",
		Flags:  flags,
		Action: decideAction,
	}
}

func decideAction(c *cli.Context) error {
	choice, err := resolveSession(c)
	if err != nil {
		return err
	}

	executionID := c.String("id")
	cl, err := newClient(choice, log.NewLogger(executionID))
	if err != nil {
		return err
	}

	stateID := c.String("state")
	event := c.String("event")
	if err := cl.SubmitDecision(c.Context, executionID, stateID, event); err != nil {
		return fmt.Errorf("decision submit failed: %w", err)
	}

	fmt.Printf("decision submitted: state=%s event=%s\n", stateID, event)
	return nil
}
