// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/lxc-wold/internal/models"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultLXCPath    = "/var/lib/lxc"
	DefaultInit       = "/sbin/init"
	DefaultPort       = 9
	DefaultTimeout    = 10 * time.Second
	DefaultBufferSize = 64 * 1024

	// minBufferSize is the size of a magic packet.
	minBufferSize = 102
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("container.lxcpath", DefaultLXCPath)
	v.SetDefault("container.on_reboot", models.OnRebootRelisten)
	v.SetDefault("listen.address", "0.0.0.0")
	v.SetDefault("listen.port", DefaultPort)
	v.SetDefault("listen.timeout", DefaultTimeout)
	v.SetDefault("listen.buffer_size", DefaultBufferSize)
	v.SetDefault("listen.strict_bind", true)
	v.SetDefault("runtime.command", "lxc-start")
	v.SetDefault("metrics.path", "/metrics")

	return &Parser{v: v}
}

// Set overrides a configuration key, typically from a command line flag.
// Overrides win over file values.
func (p *Parser) Set(key string, value any) {
	p.v.Set(key, value)
}

// Load builds the configuration from defaults and overrides only.
func (p *Parser) Load() (*models.DaemonConfig, error) {
	return p.parse()
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.DaemonConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.DaemonConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.DaemonConfig, error) {
	cfg := &models.DaemonConfig{}

	cfg.Container = models.ContainerConfig{
		Name:     p.v.GetString("container.name"),
		LXCPath:  p.expandEnv(p.v.GetString("container.lxcpath")),
		RCFile:   p.expandEnv(p.v.GetString("container.rcfile")),
		Console:  p.expandEnv(p.v.GetString("container.console")),
		Command:  p.v.GetStringSlice("container.command"),
		Defines:  p.v.GetStringSlice("container.defines"),
		OnReboot: p.v.GetString("container.on_reboot"),
	}

	if cfg.Container.Name == "" {
		return nil, fmt.Errorf("container.name is required")
	}
	if len(cfg.Container.Command) == 0 {
		cfg.Container.Command = []string{DefaultInit}
	}
	for _, def := range cfg.Container.Defines {
		if _, _, ok := splitDefine(def); !ok {
			return nil, fmt.Errorf("invalid define %q: expected KEY=VAL", def)
		}
	}

	// Fall back to the container's config under lxcpath, as lxc-start does.
	if cfg.Container.RCFile == "" {
		candidate := filepath.Join(cfg.Container.LXCPath, cfg.Container.Name, "config")
		if _, err := os.Stat(candidate); err == nil {
			cfg.Container.RCFile = candidate
		}
	}

	cfg.Listen = models.ListenConfig{
		Address:    p.v.GetString("listen.address"),
		Port:       p.v.GetInt("listen.port"),
		Timeout:    p.v.GetDuration("listen.timeout"),
		BufferSize: p.v.GetInt("listen.buffer_size"),
		StrictBind: p.v.GetBool("listen.strict_bind"),
	}

	cfg.Runtime = models.RuntimeConfig{
		Command:        p.expandEnv(p.v.GetString("runtime.command")),
		RebootExitCode: p.v.GetInt("runtime.reboot_exit_code"),
	}

	network, err := LoadNetwork(cfg.Container.RCFile, cfg.Container.Defines)
	if err != nil {
		return nil, err
	}
	cfg.Network.HWAddrs = append(p.v.GetStringSlice("network.hwaddrs"), network.HWAddrs...)

	if p.v.IsSet("metrics.listen") {
		cfg.Metrics = &models.MetricsConfig{
			Listen: p.v.GetString("metrics.listen"),
			Path:   p.v.GetString("metrics.path"),
		}
	}

	if p.v.IsSet("telegram.bot_token") || p.v.IsSet("telegram.chat_id") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.DaemonConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Container.Name == "" {
		return fmt.Errorf("container.name is required")
	}

	if cfg.Container.RCFile == "" && len(cfg.Container.Command) > 0 && cfg.Container.Command[0] == DefaultInit {
		return fmt.Errorf("no configuration file for '%s' (may crash the host)", DefaultInit)
	}

	switch cfg.Container.OnReboot {
	case models.OnRebootRelisten, models.OnRebootRelaunch:
	default:
		return fmt.Errorf("container.on_reboot must be one of: %s, %s", models.OnRebootRelisten, models.OnRebootRelaunch)
	}

	if len(cfg.Network.HWAddrs) == 0 {
		return fmt.Errorf("no hardware addresses configured for container %s", cfg.Container.Name)
	}

	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen.port must be between 1 and 65535")
	}
	if cfg.Listen.Timeout <= 0 {
		return fmt.Errorf("listen.timeout must be positive")
	}
	if cfg.Listen.BufferSize < minBufferSize {
		return fmt.Errorf("listen.buffer_size must be at least %d bytes", minBufferSize)
	}

	if cfg.Metrics != nil && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen must not be empty when metrics is configured")
	}

	if cfg.Telegram != nil {
		if cfg.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return nil
}

// ResolveConsole makes sure the console file exists and returns its
// absolute path.
func ResolveConsole(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600) //nolint:gosec // path comes from the operator
	if err != nil {
		return "", fmt.Errorf("failed to touch console file %q: %w", path, err)
	}
	_ = f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get the real path of %q: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to get the real path of %q: %w", path, err)
	}

	return resolved, nil
}
