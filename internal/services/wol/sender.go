package wol

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/fgeck/lxc-wold/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Sender defaults.
const (
	DefaultAddress  = "255.255.255.255"
	DefaultInterval = 100 * time.Millisecond
)

// Sender sends magic packets, for example to an lxc-wold daemon.
type Sender interface {
	Wake(ctx context.Context, cfg models.WakeConfig) (*models.WakeResult, error)
}

// Transport sends the magic packet for target to addr (host:port).
// *wol.Client from github.com/mdlayher/wol implements it.
type Transport interface {
	Wake(addr string, target net.HardwareAddr) error
}

// SenderImpl implements the Sender interface.
type SenderImpl struct {
	transport Transport
	closer    io.Closer
	logger    zerolog.Logger
}

// NewSender creates a sender backed by a UDP wol.Client. Call Close when
// done.
func NewSender(logger zerolog.Logger) (*SenderImpl, error) {
	client, err := wol.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create WOL client: %w", err)
	}

	s := NewSenderWithTransport(logger, client)
	s.closer = client
	return s, nil
}

// NewSenderWithTransport creates a sender with a custom transport (for testing).
func NewSenderWithTransport(logger zerolog.Logger, transport Transport) *SenderImpl {
	return &SenderImpl{
		transport: transport,
		logger:    logger,
	}
}

// Close releases the sender's socket.
func (s *SenderImpl) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Wake builds the magic packet for cfg.MACAddress and sends it cfg.Count
// times. Invalid settings and send failures are reported in the result.
func (s *SenderImpl) Wake(ctx context.Context, cfg models.WakeConfig) (*models.WakeResult, error) {
	result := &models.WakeResult{}

	_, hwaddr, err := Build(cfg.MACAddress)
	if err != nil {
		result.Error = err
		return result, nil
	}
	result.HWAddr = hwaddr
	target, _ := net.ParseMAC(hwaddr)

	addr, err := destination(cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}
	result.Addr = addr

	count := cfg.Count
	if count <= 0 {
		count = 1
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.logger.Info().
		Str("mac", hwaddr).
		Str("addr", addr).
		Int("count", count).
		Msg("sending magic packet")

	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				result.Error = ctx.Err()
				return result, nil
			case <-time.After(interval):
			}
		}

		if err := s.transport.Wake(addr, target); err != nil {
			result.Error = fmt.Errorf("failed to send magic packet to %s: %w", addr, err)
			return result, nil //nolint:nilerr // error is stored in result struct by design
		}
		result.Sent++
		s.logger.Debug().Int("packet", result.Sent).Msg("magic packet sent")
	}

	return result, nil
}

// Build returns the magic packet for mac and the address it encodes. The
// packet is checked with Validate, so an address Build accepts is one an
// lxc-wold listener can match.
func Build(mac string) ([]byte, string, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil, "", fmt.Errorf("invalid MAC address %q: %w", mac, err)
	}
	if len(hw) != addrLen {
		return nil, "", fmt.Errorf("invalid MAC address %q: must be %d bytes", mac, addrLen)
	}

	p := &wol.MagicPacket{Target: hw}
	payload, err := p.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build magic packet: %w", err)
	}

	hwaddr, err := Validate(payload)
	if err != nil {
		return nil, "", fmt.Errorf("built an invalid magic packet (%d bytes, want %d): %w", len(payload), PacketSize, err)
	}

	return payload, hwaddr, nil
}

func destination(cfg models.WakeConfig) (string, error) {
	host := cfg.Address
	if host == "" {
		host = DefaultAddress
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "", fmt.Errorf("invalid destination %q: only IPv4 is supported", host)
	}

	port := cfg.Port
	if port == 0 {
		port = Port
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid destination port %d", port)
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
