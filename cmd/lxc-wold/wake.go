package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/lxc-wold/internal/models"
	"github.com/fgeck/lxc-wold/internal/services/wol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var wakeOpts models.WakeConfig

var wakeCmd = &cobra.Command{
	Use:   "wake MAC",
	Short: "Send a Wake-on-LAN magic packet",
	Long: `Send a magic packet for MAC, for example to wake a container managed by
another lxc-wold. UDP gives no delivery guarantee; use --count to send the
packet more than once.`,
	Args: cobra.ExactArgs(1),
	RunE: sendWake,
}

func init() {
	wakeCmd.Flags().StringVarP(&wakeOpts.Address, "address", "a", wol.DefaultAddress, "destination host or IPv4 address (broadcast or unicast)")
	wakeCmd.Flags().IntVarP(&wakeOpts.Port, "port", "p", wol.Port, "destination UDP port")
	wakeCmd.Flags().IntVar(&wakeOpts.Count, "count", 1, "number of packets to send")
	wakeCmd.Flags().DurationVar(&wakeOpts.Interval, "interval", wol.DefaultInterval, "pause between packets")
}

func sendWake(cmd *cobra.Command, args []string) error {
	cfg := wakeOpts
	cfg.MACAddress = args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender, err := wol.NewSender(log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = sender.Close() }()

	result, err := sender.Wake(ctx, cfg)
	if err != nil {
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Int("sent", result.Sent).Msg("wake failed")
		return result.Error
	}

	fmt.Printf("Sent %d magic packet(s) for %s to %s\n", result.Sent, result.HWAddr, result.Addr)
	return nil
}
