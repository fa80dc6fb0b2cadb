package models

import "time"

// State is the control state of the daemon.
type State int

// Daemon states. Listening is initial, ShuttingDown is terminal.
const (
	StateListening State = iota
	StateLaunching
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateLaunching:
		return "launching"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Exit codes reported when no launch status is available.
const (
	ExitNoLaunch     = 1
	ExitLaunchFailed = 1
)

// LaunchRequest describes one container start.
type LaunchRequest struct {
	Name    string
	LXCPath string
	RCFile  string
	Console string
	Command []string
	Defines []string
}

// LaunchResult holds the result of a container run.
type LaunchResult struct {
	ExitCode int
	Reboot   bool // the container asked to be restarted
	Duration time.Duration
	Error    error
}
