package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/fgeck/lxc-wold/internal/models"
	"github.com/fgeck/lxc-wold/internal/services/listener"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations.
type mockListener struct {
	listenFunc func(ctx context.Context, relisten listener.RelistenSource) (*models.ListenResult, error)
	calls      int
}

func (m *mockListener) Listen(ctx context.Context, relisten listener.RelistenSource) (*models.ListenResult, error) {
	m.calls++
	if m.listenFunc != nil {
		return m.listenFunc(ctx, relisten)
	}
	return &models.ListenResult{Outcome: models.OutcomeShutdown}, nil
}

type mockRuntime struct {
	startFunc func(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error)
	calls     int
}

func (m *mockRuntime) Start(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
	m.calls++
	if m.startFunc != nil {
		return m.startFunc(ctx, req)
	}
	return &models.LaunchResult{}, nil
}

type mockNotifier struct {
	mu       sync.Mutex
	sendFunc func(msg models.TelegramMessage) (*models.TelegramResult, error)
	messages []models.TelegramMessage
}

func (m *mockNotifier) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(msg)
	}
	return &models.TelegramResult{MessageSent: true}, nil
}

func (m *mockNotifier) sent() []models.TelegramMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TelegramMessage(nil), m.messages...)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testContainer() models.ContainerConfig {
	return models.ContainerConfig{
		Name:     "web",
		RCFile:   "/var/lib/lxc/web/config",
		Command:  []string{"/sbin/init"},
		OnReboot: models.OnRebootRelisten,
	}
}

func match() *models.ListenResult {
	return &models.ListenResult{
		Outcome: models.OutcomeMatch,
		HWAddr:  "aa:bb:cc:dd:ee:ff",
		Source:  &net.UDPAddr{IP: net.IPv4(10, 0, 3, 1), Port: 40000},
	}
}

// scripted returns listen outcomes in order and requests shutdown once the
// script is exhausted.
func scripted(results ...*models.ListenResult) *mockListener {
	i := 0
	return &mockListener{
		listenFunc: func(ctx context.Context, relisten listener.RelistenSource) (*models.ListenResult, error) {
			if ctx.Err() != nil || i >= len(results) {
				return &models.ListenResult{Outcome: models.OutcomeShutdown}, nil
			}
			r := results[i]
			i++
			return r, nil
		},
	}
}

func TestRun_ShutdownBeforeAnyLaunch(t *testing.T) {
	listenerSvc := &mockListener{}
	runtimeSvc := &mockRuntime{}

	d := NewWithServices(testLogger(), listenerSvc, runtimeSvc, testContainer())

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.ExitNoLaunch, code)
	assert.Equal(t, 1, listenerSvc.calls)
	assert.Equal(t, 0, runtimeSvc.calls)
	assert.Equal(t, models.StateShuttingDown, d.state)
}

func TestRun_MatchLaunchesContainer(t *testing.T) {
	var captured models.LaunchRequest
	runtimeSvc := &mockRuntime{
		startFunc: func(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
			captured = req
			return &models.LaunchResult{ExitCode: 0}, nil
		},
	}

	cfg := testContainer()
	cfg.Console = "/var/log/web.console"
	cfg.Defines = []string{"lxc.start.auto=0"}

	d := NewWithServices(testLogger(), scripted(match()), runtimeSvc, cfg)

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, runtimeSvc.calls)
	assert.Equal(t, models.LaunchRequest{
		Name:    "web",
		RCFile:  "/var/lib/lxc/web/config",
		Console: "/var/log/web.console",
		Command: []string{"/sbin/init"},
		Defines: []string{"lxc.start.auto=0"},
	}, captured)
}

func TestRun_RelistensAfterEveryLaunch(t *testing.T) {
	codes := []int{0, 3, 0}
	runtimeSvc := &mockRuntime{}
	runtimeSvc.startFunc = func(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
		return &models.LaunchResult{ExitCode: codes[runtimeSvc.calls-1]}, nil
	}
	listenerSvc := scripted(match(), match(), match())

	d := NewWithServices(testLogger(), listenerSvc, runtimeSvc, testContainer())

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, runtimeSvc.calls)
	// Three launches followed by the listen that observed shutdown.
	assert.Equal(t, 4, listenerSvc.calls)
	assert.Equal(t, 0, code)
}

func TestRun_ExitCodeIsMostRecentLaunch(t *testing.T) {
	runtimeSvc := &mockRuntime{
		startFunc: func(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
			return &models.LaunchResult{ExitCode: 137, Error: errors.New("container exited with status 137")}, nil
		},
	}

	d := NewWithServices(testLogger(), scripted(match()), runtimeSvc, testContainer())

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 137, code)
}

func TestRun_LaunchErrorKeepsListening(t *testing.T) {
	runtimeSvc := &mockRuntime{
		startFunc: func(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
			return nil, errors.New("container name is required")
		},
	}
	listenerSvc := scripted(match())

	d := NewWithServices(testLogger(), listenerSvc, runtimeSvc, testContainer())

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.ExitLaunchFailed, code)
	assert.Equal(t, 2, listenerSvc.calls)
}

func TestRun_ShutdownDuringLaunch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var launchCtxErr error
	runtimeSvc := &mockRuntime{
		startFunc: func(launchCtx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
			cancel()
			launchCtxErr = launchCtx.Err()
			return &models.LaunchResult{ExitCode: 5}, nil
		},
	}
	listenerSvc := scripted(match(), match())

	d := NewWithServices(testLogger(), listenerSvc, runtimeSvc, testContainer())

	code, err := d.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 5, code)
	assert.Equal(t, 1, runtimeSvc.calls)
	assert.Equal(t, 1, listenerSvc.calls, "no socket cycle after shutdown")
	assert.NoError(t, launchCtxErr, "shutdown must not cancel a running container")
	assert.Equal(t, models.StateShuttingDown, d.state)
}

func TestRun_RelistenRequestStaysListening(t *testing.T) {
	var sawFlag []bool
	results := []*models.ListenResult{
		{Outcome: models.OutcomeRelisten},
		{Outcome: models.OutcomeShutdown},
	}
	listenerSvc := &mockListener{}
	listenerSvc.listenFunc = func(ctx context.Context, relisten listener.RelistenSource) (*models.ListenResult, error) {
		sawFlag = append(sawFlag, relisten.RelistenRequested())
		return results[listenerSvc.calls-1], nil
	}
	runtimeSvc := &mockRuntime{}

	d := NewWithServices(testLogger(), listenerSvc, runtimeSvc, testContainer())
	d.RequestRelisten()

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.ExitNoLaunch, code)
	assert.Equal(t, 0, runtimeSvc.calls)
	assert.Equal(t, []bool{true, false}, sawFlag, "flag is cleared before the fresh cycle")
}

func TestRun_RelistenRequestRelaunches(t *testing.T) {
	listenerSvc := scripted(&models.ListenResult{Outcome: models.OutcomeRelisten})
	runtimeSvc := &mockRuntime{}

	cfg := testContainer()
	cfg.OnReboot = models.OnRebootRelaunch
	d := NewWithServices(testLogger(), listenerSvc, runtimeSvc, cfg)

	_, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, runtimeSvc.calls)
	assert.False(t, d.RelistenRequested())
}

func TestRun_RebootResultRequestsRelisten(t *testing.T) {
	var flags []bool
	listenerSvc := &mockListener{}
	listenerSvc.listenFunc = func(ctx context.Context, relisten listener.RelistenSource) (*models.ListenResult, error) {
		flags = append(flags, relisten.RelistenRequested())
		switch listenerSvc.calls {
		case 1:
			return match(), nil
		case 2:
			return &models.ListenResult{Outcome: models.OutcomeRelisten}, nil
		default:
			return &models.ListenResult{Outcome: models.OutcomeShutdown}, nil
		}
	}
	runtimeSvc := &mockRuntime{
		startFunc: func(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
			return &models.LaunchResult{ExitCode: 129, Reboot: true}, nil
		},
	}

	d := NewWithServices(testLogger(), listenerSvc, runtimeSvc, testContainer())

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 129, code)
	assert.Equal(t, []bool{false, true, false}, flags)
	assert.Equal(t, 1, runtimeSvc.calls)
}

func TestRun_FatalListenError(t *testing.T) {
	listenerSvc := &mockListener{
		listenFunc: func(ctx context.Context, relisten listener.RelistenSource) (*models.ListenResult, error) {
			return nil, listener.ErrSocketCreate
		},
	}
	runtimeSvc := &mockRuntime{}

	d := NewWithServices(testLogger(), listenerSvc, runtimeSvc, testContainer())

	code, err := d.Run(context.Background())

	assert.ErrorIs(t, err, listener.ErrSocketCreate)
	assert.Equal(t, models.ExitNoLaunch, code)
	assert.Equal(t, 0, runtimeSvc.calls)
}

func TestRun_FatalListenErrorAfterLaunch(t *testing.T) {
	listenerSvc := &mockListener{}
	listenerSvc.listenFunc = func(ctx context.Context, relisten listener.RelistenSource) (*models.ListenResult, error) {
		if listenerSvc.calls == 1 {
			return match(), nil
		}
		return nil, listener.ErrBind
	}
	runtimeSvc := &mockRuntime{
		startFunc: func(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
			return &models.LaunchResult{ExitCode: 4}, nil
		},
	}

	d := NewWithServices(testLogger(), listenerSvc, runtimeSvc, testContainer())

	code, err := d.Run(context.Background())

	assert.ErrorIs(t, err, listener.ErrBind)
	assert.Equal(t, 4, code)
}

func testTelegram() models.TelegramConfig {
	return models.TelegramConfig{BotToken: "123456:ABC-DEF", ChatID: "-100123456789"}
}

func TestRun_NotifiesStartAndStop(t *testing.T) {
	runtimeSvc := &mockRuntime{
		startFunc: func(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
			return &models.LaunchResult{ExitCode: 2, Error: errors.New("exited with status 2")}, nil
		},
	}
	notifier := &mockNotifier{}

	d := NewWithServices(testLogger(), scripted(match()), runtimeSvc, testContainer()).
		WithNotifier(notifier, testTelegram())

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, code)

	// Run waits for pending notifications before returning.
	msgs := notifier.sent()
	require.Len(t, msgs, 2)

	var started, stopped models.TelegramMessage
	for _, m := range msgs {
		if m.Event == models.EventStarted {
			started = m
		} else {
			stopped = m
		}
	}

	assert.Equal(t, "web", started.Container)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", started.HWAddr)
	assert.Equal(t, "10.0.3.1:40000", started.Source)

	assert.Equal(t, models.EventStopped, stopped.Event)
	assert.Equal(t, 2, stopped.ExitCode)
	assert.Equal(t, "exited with status 2", stopped.ErrorMessage)
}

func TestRun_NotifiesLaunchError(t *testing.T) {
	runtimeSvc := &mockRuntime{
		startFunc: func(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
			return nil, errors.New("lxc-start not found")
		},
	}
	notifier := &mockNotifier{}

	d := NewWithServices(testLogger(), scripted(match()), runtimeSvc, testContainer()).
		WithNotifier(notifier, testTelegram())

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.ExitLaunchFailed, code)

	msgs := notifier.sent()
	require.Len(t, msgs, 2)
	var stopped models.TelegramMessage
	for _, m := range msgs {
		if m.Event == models.EventStopped {
			stopped = m
		}
	}
	assert.Equal(t, models.ExitLaunchFailed, stopped.ExitCode)
	assert.Equal(t, "lxc-start not found", stopped.ErrorMessage)
}

func TestRun_NotificationFailureIgnored(t *testing.T) {
	notifier := &mockNotifier{
		sendFunc: func(msg models.TelegramMessage) (*models.TelegramResult, error) {
			return &models.TelegramResult{Error: errors.New("status 502")}, nil
		},
	}

	d := NewWithServices(testLogger(), scripted(match(), match()), &mockRuntime{}, testContainer()).
		WithNotifier(notifier, testTelegram())

	code, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Len(t, notifier.sent(), 4)
}

func TestRun_RelaunchNotificationHasNoWakeRequest(t *testing.T) {
	cfg := testContainer()
	cfg.OnReboot = models.OnRebootRelaunch
	notifier := &mockNotifier{}

	d := NewWithServices(testLogger(), scripted(&models.ListenResult{Outcome: models.OutcomeRelisten}), &mockRuntime{}, cfg).
		WithNotifier(notifier, testTelegram())

	_, err := d.Run(context.Background())

	require.NoError(t, err)
	for _, m := range notifier.sent() {
		assert.Empty(t, m.HWAddr)
		assert.Empty(t, m.Source)
	}
}
