// Package listener waits for magic packets addressed to the container.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fgeck/lxc-wold/internal/models"
	"github.com/fgeck/lxc-wold/internal/services/metrics"
	"github.com/fgeck/lxc-wold/internal/services/wol"
	"github.com/rs/zerolog"
)

// Listener defaults.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultBufferSize = 64 * 1024

	// readErrorBackoff is the pause after a failed read.
	readErrorBackoff = 100 * time.Millisecond
)

// RelistenSource reports a pending relisten request.
type RelistenSource interface {
	RelistenRequested() bool
}

// Service defines the interface for one listen cycle.
type Service interface {
	Listen(ctx context.Context, relisten RelistenSource) (*models.ListenResult, error)
}

// Impl implements the listener Service interface.
type Impl struct {
	factory SocketFactory
	cfg     models.ListenConfig
	network models.NetworkConfig
	logger  zerolog.Logger
}

// New creates a new listener.
func New(logger zerolog.Logger, cfg models.ListenConfig, network models.NetworkConfig) *Impl {
	return NewWithFactory(logger, &DefaultSocketFactory{}, cfg, network)
}

// NewWithFactory creates a new listener with a custom socket factory (for testing).
func NewWithFactory(logger zerolog.Logger, factory SocketFactory, cfg models.ListenConfig, network models.NetworkConfig) *Impl {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Impl{
		factory: factory,
		cfg:     cfg,
		network: network,
		logger:  logger,
	}
}

// Listen opens a socket and reads datagrams until one carries a magic packet
// for the container, shutdown is requested (ctx done) or a relisten is
// requested. Flags are checked every cfg.Timeout even without traffic.
// The socket is closed before Listen returns.
func (s *Impl) Listen(ctx context.Context, relisten RelistenSource) (*models.ListenResult, error) {
	conn, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	s.logger.Debug().
		Str("addr", conn.LocalAddr().String()).
		Msg("listening for WOL packets")

	buf := make([]byte, s.cfg.BufferSize)
	result := &models.ListenResult{}
	readErrors := 0

	for {
		if ctx.Err() != nil {
			result.Outcome = models.OutcomeShutdown
			return result, nil
		}
		if relisten != nil && relisten.RelistenRequested() {
			result.Outcome = models.OutcomeRelisten
			return result, nil
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				readErrors = 0
				continue
			}

			// Only the first of a run of failures is logged as an error.
			event := s.logger.Debug()
			if readErrors == 0 {
				event = s.logger.Error()
			}
			readErrors++
			event.Err(err).Int("consecutive", readErrors).Msg("recv failed")
			metrics.RecordListenError("read")

			select {
			case <-ctx.Done():
			case <-time.After(readErrorBackoff):
			}
			continue
		}
		readErrors = 0
		result.Received++

		if hwaddr, ok := s.handle(buf[:n], from); ok {
			result.Outcome = models.OutcomeMatch
			result.HWAddr = hwaddr
			result.Source = from
			return result, nil
		}
	}
}

func (s *Impl) open() (net.PacketConn, error) {
	conn, err := s.factory.Open(s.cfg.Address, s.cfg.Port)
	if err == nil {
		return conn, nil
	}

	if errors.Is(err, ErrBind) && !s.cfg.StrictBind && conn != nil {
		s.logger.Error().Err(err).Msg("bind failed, listening on unbound socket")
		metrics.RecordListenError("bind")
		return conn, nil
	}

	if conn != nil {
		_ = conn.Close()
	}
	return nil, err
}

// handle validates and matches one datagram.
func (s *Impl) handle(payload []byte, from net.Addr) (string, bool) {
	hwaddr, err := wol.Validate(payload)
	metrics.RecordDatagram(wol.Reason(err))
	if err != nil {
		s.logger.Debug().
			Err(err).
			Str("from", addrString(from)).
			Int("size", len(payload)).
			Int("port", s.cfg.Port).
			Msg("non-magic packet received")
		return "", false
	}

	s.logger.Info().
		Str("mac", hwaddr).
		Str("from", addrString(from)).
		Msg("WOL received")

	matched := wol.Matches(s.network, hwaddr)
	metrics.RecordWakeRequest(matched)
	if !matched {
		s.logger.Warn().
			Str("mac", hwaddr).
			Strs("container_hwaddrs", s.network.HWAddrs).
			Msg("WOL packet is not for this container")
		return "", false
	}

	return hwaddr, true
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
