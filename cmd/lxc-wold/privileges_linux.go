package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkPrivileges fails when port is privileged and the process lacks
// CAP_NET_BIND_SERVICE.
func checkPrivileges(port int) error {
	if port >= 1024 {
		return nil
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return fmt.Errorf("failed to read capabilities: %w", err)
	}

	if data[0].Effective&(1<<unix.CAP_NET_BIND_SERVICE) == 0 {
		return fmt.Errorf("binding port %d requires CAP_NET_BIND_SERVICE", port)
	}

	return nil
}
