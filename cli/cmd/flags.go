// Package cmd provides CLI commands for the thrivix binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for commands that consume a session stream.
var (
	// ConfigFlag points at a thrivix.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to thrivix.yaml config file",
	}

	// ServerFlag overrides the backend HTTP base URL.
	ServerFlag = &cli.StringFlag{
		Name:  "server",
		Usage: "Backend base URL (e.g. http://localhost:8000)",
	}

	// TransportFlag selects the frame transport.
	TransportFlag = &cli.StringFlag{
		Name:  "transport",
		Usage: "Frame transport: ws or poll",
	}

	// RecordFlag enables frame capture for the session.
	RecordFlag = &cli.BoolFlag{
		Name:  "record",
		Usage: "Record raw frames to a replayable file",
	}

	// WatchFlag enables the interactive live view.
	WatchFlag = &cli.BoolFlag{
		Name:    "watch",
		Aliases: []string{"w"},
		Usage:   "Show the interactive live session view",
	}

	// QuietFlag suppresses the end-of-session summary.
	QuietFlag = &cli.BoolFlag{
		Name:  "quiet",
		Usage: "Suppress the session summary",
	}
)

// SessionFlags returns the shared flags for commands that stream a session
// (run, attach, replay).
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		ServerFlag,
		TransportFlag,
		RecordFlag,
		WatchFlag,
		QuietFlag,
	}
}

// ControlFlags returns the shared flags for one-shot control commands
// (stop, decide).
func ControlFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		ServerFlag,
	}
}
