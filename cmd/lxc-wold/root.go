package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fgeck/lxc-wold/internal/config"
	"github.com/fgeck/lxc-wold/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// exitCode is the process exit status once Execute returns without error.
	exitCode int

	// Logging flags.
	debug      bool
	quiet      bool
	jsonOutput bool
	logFile    string

	// Configuration flags.
	configFile string
	name       string
	rcfile     string
	lxcpath    string
	console    string
	defines    []string
)

var rootCmd = &cobra.Command{
	Use:   "lxc-wold",
	Short: "Start a linux container when a Wake-on-LAN packet arrives",
	Long: `lxc-wold is a Wake-on-LAN daemon for LXC containers. It:
  - listens for magic packets on UDP port 9
  - matches the target address against the container's interfaces
  - starts the container with lxc-start and waits for it to stop
  - goes back to listening once the container is down

Run it under a service manager (systemd, runit, ...); it stays in the foreground.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "o", "", "write logs to FILE instead of stdout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(wakeCmd)
}

// addContainerFlags registers the flags shared by run and validate.
func addContainerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "daemon config file (YAML)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "NAME of the container")
	cmd.Flags().StringVarP(&rcfile, "rcfile", "f", "", "load container configuration FILE")
	cmd.Flags().StringVarP(&lxcpath, "lxcpath", "P", "", "use specified container path")
	cmd.Flags().StringVarP(&console, "console", "c", "", "set the FILE receiving the container console")
	cmd.Flags().StringArrayVarP(&defines, "define", "s", nil, "assign VAL to configuration variable KEY (KEY=VAL)")
}

func setupLogging() error {
	var out io.Writer = os.Stdout
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640) //nolint:gosec // path comes from the operator
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}

	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: logFile != ""}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case debug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	return nil
}

// loadConfig merges the config file, flags and the container command given
// after "--" into a validated daemon configuration.
func loadConfig(cmd *cobra.Command, args []string) (*models.DaemonConfig, error) {
	parser := config.NewParser()

	if cmd.Flags().Changed("name") {
		parser.Set("container.name", name)
	}
	if cmd.Flags().Changed("rcfile") {
		parser.Set("container.rcfile", rcfile)
	}
	if cmd.Flags().Changed("lxcpath") {
		parser.Set("container.lxcpath", lxcpath)
	}
	if cmd.Flags().Changed("console") {
		parser.Set("container.console", console)
	}
	if len(defines) > 0 {
		parser.Set("container.defines", defines)
	}
	if len(args) > 0 {
		parser.Set("container.command", args)
	}

	var (
		cfg *models.DaemonConfig
		err error
	)
	if configFile != "" {
		cfg, err = parser.LoadFile(configFile)
	} else {
		cfg, err = parser.Load()
	}
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
