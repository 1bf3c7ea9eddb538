package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rajulubheem/thrivix-sub003/record"
	"github.com/rajulubheem/thrivix-sub003/transport/replay"
)

// ReplayCommand returns the replay command: play a recorded session file
// back through the engine as if it were live.
func ReplayCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "file",
			Usage:    "Recording file to play back",
			Required: true,
		},
		&cli.Float64Flag{
			Name:  "speed",
			Usage: "Playback speed multiplier (0 = as fast as possible)",
			Value: 1,
		},
	}
	flags = append(flags, ConfigFlag, WatchFlag, QuietFlag)

	return &cli.Command{
		Name:   "replay",
		Usage:  "Replay a recorded session file",
		Flags:  flags,
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	choice, err := resolveSession(c)
	if err != nil {
		return err
	}
	// Replay never re-records or archives; the source file already exists.
	choice.record = false
	choice.adapter.Type = ""

	// The recording header names the execution the session is built around.
	reader, file, err := record.OpenFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("cannot open recording: %w", err)
	}
	executionID := reader.Header().ExecutionID
	file.Close()

	s := newSession(choice, executionID, "replay")
	tr, err := replay.New(replay.Config{
		Path:  c.String("file"),
		Speed: c.Float64("speed"),
	}, s.logger, s.collector)
	if err != nil {
		return fmt.Errorf("cannot open recording: %w", err)
	}

	return s.run(c.Context, tr)
}
