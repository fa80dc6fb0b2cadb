package listener

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Socket errors. ErrSocketCreate is always fatal; ErrBind is fatal unless
// the listener runs with lenient binding.
var (
	ErrSocketCreate = errors.New("cannot create WOL socket")
	ErrBind         = errors.New("cannot bind WOL socket")
)

// SocketFactory opens the UDP socket for one listen cycle.
//
// On a bind failure Open returns a usable but unbound conn together with an
// error wrapping ErrBind, so the caller can decide whether to go on.
type SocketFactory interface {
	Open(address string, port int) (net.PacketConn, error)
}

// DefaultSocketFactory creates IPv4 datagram sockets with SO_REUSEADDR set.
type DefaultSocketFactory struct{}

// Open creates, configures and binds a socket on address:port.
func (f *DefaultSocketFactory) Open(address string, port int) (net.PacketConn, error) {
	ip := net.IPv4zero.To4()
	if address != "" {
		ip = net.ParseIP(address).To4()
		if ip == nil {
			return nil, fmt.Errorf("%w: invalid IPv4 listen address %q", ErrSocketCreate, address)
		}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSocketCreate, err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: setsockopt(SO_REUSEADDR): %w", ErrSocketCreate, err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip)
	bindErr := unix.Bind(fd, sa)

	// FilePacketConn dups the descriptor, so the original is closed either way.
	file := os.NewFile(uintptr(fd), "wol-socket")
	conn, err := net.FilePacketConn(file)
	_ = file.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSocketCreate, err)
	}

	if bindErr != nil {
		return conn, fmt.Errorf("%w to %s:%d: %w", ErrBind, ip, port, bindErr)
	}

	return conn, nil
}
