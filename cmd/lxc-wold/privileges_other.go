//go:build !linux

package main

func checkPrivileges(port int) error {
	return nil
}
