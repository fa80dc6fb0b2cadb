package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgeck/lxc-wold/internal/config"
	"github.com/fgeck/lxc-wold/internal/services/daemon"
	"github.com/fgeck/lxc-wold/internal/services/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run -n NAME [flags] [-- COMMAND...]",
	Short: "Listen for Wake-on-LAN packets and start the container",
	Long: `Listen for Wake-on-LAN magic packets and start the container:
1. Open UDP port 9 and wait for a magic packet
2. Check the packet targets one of the container's hardware addresses
3. Start the container with lxc-start and wait for it to stop
4. Go back to 1 until SIGINT or SIGTERM

COMMAND is run inside the container (default /sbin/init).
The exit status is the one of the last container run.`,
	RunE: runDaemon,
}

func init() {
	addContainerFlags(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := checkPrivileges(cfg.Listen.Port); err != nil {
		log.Error().Err(err).Msg("not running with sufficient privilege")
		return err
	}

	cfg.Container.Console, err = config.ResolveConsole(cfg.Container.Console)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up console")
		return err
	}

	log.Info().
		Str("container", cfg.Container.Name).
		Str("rcfile", cfg.Container.RCFile).
		Strs("hwaddrs", cfg.Network.HWAddrs).
		Int("port", cfg.Listen.Port).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal.Ignore(syscall.SIGHUP)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Metrics != nil {
		srv := metrics.NewServer(*cfg.Metrics, log.Logger)
		srv.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	d := daemon.New(log.Logger, *cfg)
	code, err := d.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("daemon failed")
		return err
	}

	exitCode = code
	return nil
}
