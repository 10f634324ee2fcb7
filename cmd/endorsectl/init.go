package main

import (
	"fmt"
	"os"
	"path/filepath"

	"skillendorse/config"

	"github.com/spf13/cobra"
)

var (
	initDir      string
	initPeer     string
	initChannel  string
	initOverride bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write config.toml with defaults for a local test network.

Pinning credentials are not written; set PINATA_API_KEY and
PINATA_SECRET_API_KEY in the environment or a .env file.

Example:
  endorsectl init --dir ./deploy --peer peer0.org1.example.com:7051`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "directory for the configuration")
	initCmd.Flags().StringVar(&initPeer, "peer", "", "gateway peer endpoint (host:port)")
	initCmd.Flags().StringVar(&initChannel, "channel", "", "channel name")
	initCmd.Flags().BoolVar(&initOverride, "force", false, "override existing configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := filepath.Join(initDir, "config.toml")
	if _, err := os.Stat(configPath); err == nil && !initOverride {
		return fmt.Errorf("%s already exists; use --force to override", configPath)
	}

	cfg := config.DefaultConfig()
	if initPeer != "" {
		cfg.Ledger.PeerEndpoint = initPeer
	}
	if initChannel != "" {
		cfg.Ledger.Channel = initChannel
	}
	cfg.Dashboard.IdempotencyPath = filepath.Join(initDir, "data", "idempotency.db")

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.WriteConfigFile(configPath, cfg); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Wrote %s\n", configPath)
	fmt.Printf("  Peer:      %s\n", cfg.Ledger.PeerEndpoint)
	fmt.Printf("  Channel:   %s\n", cfg.Ledger.Channel)
	fmt.Printf("  Chaincode: %s\n", cfg.Ledger.Chaincode)
	return nil
}
