package wol

import "github.com/fgeck/lxc-wold/internal/models"

// Matches reports whether addr is one of the container's hardware addresses.
// The comparison is an exact, case-sensitive string match.
func Matches(network models.NetworkConfig, addr string) bool {
	for _, hw := range network.HWAddrs {
		if hw == addr {
			return true
		}
	}
	return false
}
