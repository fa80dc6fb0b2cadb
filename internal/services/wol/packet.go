// Package wol validates, matches and sends Wake-on-LAN magic packets.
package wol

import (
	"bytes"
	"errors"
	"net"
)

const (
	// Port is the well-known Wake-on-LAN UDP port.
	Port = 9
	// PacketSize is the only accepted magic packet length: the sync stream
	// followed by 16 repetitions of the target address.
	PacketSize = syncLen + repeats*addrLen

	syncLen = 6
	addrLen = 6
	repeats = 16
)

// Validation errors.
var (
	ErrWrongLength    = errors.New("magic packet must be exactly 102 bytes")
	ErrBadSync        = errors.New("magic packet does not start with the synchronization stream")
	ErrRepeatMismatch = errors.New("16 repeats of mac address differ")
)

var syncStream = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Validate checks that payload is a magic packet and returns the encoded
// hardware address in lowercase colon-separated form.
func Validate(payload []byte) (string, error) {
	if len(payload) != PacketSize {
		return "", ErrWrongLength
	}
	if !bytes.Equal(payload[:syncLen], syncStream) {
		return "", ErrBadSync
	}

	target := payload[syncLen : syncLen+addrLen]
	for off := syncLen + addrLen; off < PacketSize; off += addrLen {
		if !bytes.Equal(payload[off:off+addrLen], target) {
			return "", ErrRepeatMismatch
		}
	}

	return net.HardwareAddr(target).String(), nil
}

// Reason returns a short label for a validation error.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrWrongLength):
		return "wrong_length"
	case errors.Is(err, ErrBadSync):
		return "bad_sync"
	case errors.Is(err, ErrRepeatMismatch):
		return "repeat_mismatch"
	default:
		return "unknown"
	}
}
