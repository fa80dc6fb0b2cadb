package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate -n NAME [flags] [-- COMMAND...]",
	Short: "Validate the configuration",
	Long:  `Validate the daemon and container configuration without listening or starting the container.`,
	RunE:  validateConfig,
}

func init() {
	addContainerFlags(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Container:")
	fmt.Printf("  Name: %s\n", cfg.Container.Name)
	fmt.Printf("  LXC path: %s\n", cfg.Container.LXCPath)
	if cfg.Container.RCFile != "" {
		fmt.Printf("  Config file: %s\n", cfg.Container.RCFile)
	}
	if cfg.Container.Console != "" {
		fmt.Printf("  Console: %s\n", cfg.Container.Console)
	}
	fmt.Printf("  Command: %v\n", cfg.Container.Command)
	fmt.Printf("  Defines: %v\n", cfg.Container.Defines)
	fmt.Printf("  On reboot: %s\n", cfg.Container.OnReboot)
	fmt.Println()
	fmt.Println("Hardware addresses:")
	for _, hw := range cfg.Network.HWAddrs {
		fmt.Printf("  %s\n", hw)
	}
	fmt.Println()
	fmt.Println("Listener:")
	fmt.Printf("  Address: %s:%d\n", cfg.Listen.Address, cfg.Listen.Port)
	fmt.Printf("  Timeout: %s\n", cfg.Listen.Timeout)
	fmt.Printf("  Buffer size: %d\n", cfg.Listen.BufferSize)
	fmt.Printf("  Strict bind: %v\n", cfg.Listen.StrictBind)
	fmt.Println()
	fmt.Println("Runtime:")
	fmt.Printf("  Command: %s\n", cfg.Runtime.Command)
	if cfg.Runtime.RebootExitCode != 0 {
		fmt.Printf("  Reboot exit code: %d\n", cfg.Runtime.RebootExitCode)
	}
	fmt.Println()
	fmt.Printf("Metrics: %v\n", cfg.Metrics != nil)
	if cfg.Metrics != nil {
		fmt.Printf("  Listen: %s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	fmt.Printf("Telegram: %v\n", cfg.Telegram != nil)

	return nil
}
