// Package models contains the data structures used throughout lxc-wold.
package models

import "time"

// DaemonConfig holds the complete configuration for a daemon run.
type DaemonConfig struct {
	Container ContainerConfig
	Network   NetworkConfig
	Listen    ListenConfig
	Runtime   RuntimeConfig
	Metrics   *MetricsConfig  // nil if not configured
	Telegram  *TelegramConfig // nil if not configured
}

// ContainerConfig identifies the managed container and how to start it.
type ContainerConfig struct {
	Name     string
	LXCPath  string
	RCFile   string   // optional, LXC container config file
	Console  string   // optional, file receiving the container console
	Command  []string // command run inside the container
	Defines  []string // KEY=VAL overrides passed to lxc-start
	OnReboot string   // "relisten" (default) or "relaunch"
}

// NetworkConfig is the ordered list of hardware addresses of the container's
// interfaces. It is read only once loaded.
type NetworkConfig struct {
	HWAddrs []string
}

// ListenConfig holds the magic packet listener settings.
type ListenConfig struct {
	Address    string
	Port       int
	Timeout    time.Duration // bound on each wait for a datagram
	BufferSize int
	StrictBind bool // if true (default), a bind failure aborts the daemon
}

// RuntimeConfig holds container runtime settings.
type RuntimeConfig struct {
	Command        string // lxc-start binary
	RebootExitCode int    // exit code reported as a container reboot; 0 disables
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string
	Path   string
}

// Reboot policies.
const (
	OnRebootRelisten = "relisten"
	OnRebootRelaunch = "relaunch"
)
