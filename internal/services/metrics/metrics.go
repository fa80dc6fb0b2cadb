// Package metrics exposes daemon counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fgeck/lxc-wold/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	datagrams = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lxc_wold_datagrams_total",
			Help: "Datagrams received on the WOL port by validation result",
		},
		[]string{"result"},
	)

	wakeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lxc_wold_wake_requests_total",
			Help: "Valid magic packets by whether they targeted the container",
		},
		[]string{"matched"},
	)

	listenErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lxc_wold_listen_errors_total",
			Help: "Transient listener errors by kind",
		},
		[]string{"kind"},
	)

	launches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lxc_wold_launches_total",
			Help: "Container launches",
		},
	)

	lastExitCode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lxc_wold_last_exit_code",
			Help: "Exit code of the most recent container run",
		},
	)

	state = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lxc_wold_state",
			Help: "Current daemon state (0 listening, 1 launching, 2 shutting down)",
		},
	)
)

// RecordDatagram counts a received datagram. result is "ok" or a validation
// failure reason.
func RecordDatagram(result string) {
	datagrams.WithLabelValues(result).Inc()
}

// RecordWakeRequest counts a valid magic packet.
func RecordWakeRequest(matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	wakeRequests.WithLabelValues(label).Inc()
}

// RecordListenError counts a transient listener error ("bind", "read").
func RecordListenError(kind string) {
	listenErrors.WithLabelValues(kind).Inc()
}

// RecordLaunch records a finished container run.
func RecordLaunch(exitCode int) {
	launches.Inc()
	lastExitCode.Set(float64(exitCode))
}

// SetState publishes the daemon state.
func SetState(s models.State) {
	state.Set(float64(s))
}

// Server serves the Prometheus handler.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a metrics server for cfg.
func NewServer(cfg models.MetricsConfig, logger zerolog.Logger) *Server {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background until Shutdown is called.
func (s *Server) Start() {
	s.logger.Info().Str("listen", s.srv.Addr).Msg("serving metrics")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
