// Package daemon runs the listen/launch control loop.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fgeck/lxc-wold/internal/models"
	"github.com/fgeck/lxc-wold/internal/services/listener"
	"github.com/fgeck/lxc-wold/internal/services/lxc"
	"github.com/fgeck/lxc-wold/internal/services/metrics"
	"github.com/fgeck/lxc-wold/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Service defines the interface for the daemon.
type Service interface {
	Run(ctx context.Context) (int, error)
}

// Impl implements the daemon Service interface.
//
// Run drives a single goroutine through Listening, Launching and
// ShuttingDown. Shutdown is requested by cancelling the context passed to
// Run; it is observed by the listener within one read timeout and after a
// launch returns, never during a launch.
type Impl struct {
	listenerSvc listener.Service
	runtimeSvc  lxc.Service
	container   models.ContainerConfig
	logger      zerolog.Logger

	notifier    telegram.Service
	telegramCfg models.TelegramConfig
	host        string
	pending     sync.WaitGroup

	state     models.State
	relisten  atomic.Bool
	lastMatch *models.ListenResult
}

// New creates a new daemon for cfg.
func New(logger zerolog.Logger, cfg models.DaemonConfig) *Impl {
	d := NewWithServices(
		logger,
		listener.New(logger, cfg.Listen, cfg.Network),
		lxc.New(logger, cfg.Runtime),
		cfg.Container,
	)
	if cfg.Telegram != nil {
		d.WithNotifier(telegram.New(logger), *cfg.Telegram)
	}
	return d
}

// NewWithServices creates a new daemon with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	listenerSvc listener.Service,
	runtimeSvc lxc.Service,
	container models.ContainerConfig,
) *Impl {
	return &Impl{
		listenerSvc: listenerSvc,
		runtimeSvc:  runtimeSvc,
		container:   container,
		logger:      logger,
	}
}

// WithNotifier enables container start and stop notifications.
func (d *Impl) WithNotifier(notifier telegram.Service, cfg models.TelegramConfig) *Impl {
	d.notifier = notifier
	d.telegramCfg = cfg
	d.host, _ = os.Hostname()
	return d
}

// RequestRelisten asks the current listen cycle to restart. Safe for
// concurrent use.
func (d *Impl) RequestRelisten() {
	d.relisten.Store(true)
}

// RelistenRequested reports whether a relisten request is pending.
func (d *Impl) RelistenRequested() bool {
	return d.relisten.Load()
}

// Run listens for magic packets and starts the container on each match
// until ctx is cancelled. It returns the exit code of the most recent
// container run, or models.ExitNoLaunch if the container never ran. An
// error is returned only for fatal listener failures.
func (d *Impl) Run(ctx context.Context) (int, error) {
	exitCode := models.ExitNoLaunch

	d.logger.Info().
		Str("container", d.container.Name).
		Str("on_reboot", d.container.OnReboot).
		Msg("starting WOL daemon")

	d.setState(models.StateListening)

	for {
		switch d.state {
		case models.StateListening:
			result, err := d.listenerSvc.Listen(ctx, d)
			if err != nil {
				d.pending.Wait()
				return exitCode, fmt.Errorf("listen failed: %w", err)
			}
			d.onListenResult(result)

		case models.StateLaunching:
			exitCode = d.launch(ctx)
			if ctx.Err() != nil {
				d.setState(models.StateShuttingDown)
			} else {
				d.setState(models.StateListening)
			}

		case models.StateShuttingDown:
			d.pending.Wait()
			d.logger.Info().Int("exit_code", exitCode).Msg("shutting down")
			return exitCode, nil
		}
	}
}

func (d *Impl) onListenResult(result *models.ListenResult) {
	switch result.Outcome {
	case models.OutcomeShutdown:
		d.setState(models.StateShuttingDown)

	case models.OutcomeRelisten:
		d.relisten.Store(false)
		d.lastMatch = nil
		if d.container.OnReboot == models.OnRebootRelaunch {
			d.logger.Info().Str("container", d.container.Name).Msg("rebooting container")
			d.setState(models.StateLaunching)
			return
		}
		d.logger.Debug().Msg("relisten requested, reopening socket")

	case models.OutcomeMatch:
		from := ""
		if result.Source != nil {
			from = result.Source.String()
		}
		d.logger.Info().
			Str("mac", result.HWAddr).
			Str("from", from).
			Msg("wake request matches container")
		d.lastMatch = result
		d.setState(models.StateLaunching)
	}
}

// launch runs the container to completion and returns its exit code.
// Shutdown does not interrupt a running container.
func (d *Impl) launch(ctx context.Context) int {
	req := models.LaunchRequest{
		Name:    d.container.Name,
		LXCPath: d.container.LXCPath,
		RCFile:  d.container.RCFile,
		Console: d.container.Console,
		Command: d.container.Command,
		Defines: d.container.Defines,
	}

	started := time.Now()
	msg := models.TelegramMessage{
		Event:     models.EventStarted,
		Host:      d.host,
		Container: d.container.Name,
		StartTime: started,
	}
	if d.lastMatch != nil {
		msg.HWAddr = d.lastMatch.HWAddr
		if d.lastMatch.Source != nil {
			msg.Source = d.lastMatch.Source.String()
		}
	}
	d.notify(ctx, msg)

	msg.Event = models.EventStopped

	result, err := d.runtimeSvc.Start(context.WithoutCancel(ctx), req)
	if err != nil {
		d.logger.Error().Err(err).Msg("container launch failed")
		metrics.RecordLaunch(models.ExitLaunchFailed)

		msg.ExitCode = models.ExitLaunchFailed
		msg.Duration = time.Since(started)
		msg.ErrorMessage = err.Error()
		d.notify(ctx, msg)
		return models.ExitLaunchFailed
	}

	metrics.RecordLaunch(result.ExitCode)

	if result.Reboot {
		d.RequestRelisten()
	}

	msg.ExitCode = result.ExitCode
	msg.Duration = time.Since(started)
	msg.Reboot = result.Reboot
	if result.Error != nil {
		msg.ErrorMessage = result.Error.Error()
	}
	d.notify(ctx, msg)

	return result.ExitCode
}

// notify sends msg in the background. Failures are logged only.
func (d *Impl) notify(ctx context.Context, msg models.TelegramMessage) {
	if d.notifier == nil {
		return
	}

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()

		result, err := d.notifier.SendNotification(context.WithoutCancel(ctx), d.telegramCfg, msg)
		if err != nil {
			d.logger.Warn().Err(err).Str("event", msg.Event).Msg("failed to send notification")
			return
		}
		if result.Error != nil {
			d.logger.Warn().Err(result.Error).Str("event", msg.Event).Msg("failed to send notification")
		}
	}()
}

func (d *Impl) setState(s models.State) {
	if d.state != s {
		d.logger.Debug().
			Str("from", d.state.String()).
			Str("to", s.String()).
			Msg("state transition")
	}
	d.state = s
	metrics.SetState(s)
}
