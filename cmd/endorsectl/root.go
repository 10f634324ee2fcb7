package main

import (
	"encoding/json"
	"fmt"
	"os"

	"skillendorse/config"
	"skillendorse/gateway"
	"skillendorse/gateway/fabricgw"

	"github.com/hyperledger/fabric/common/flogging"
	"github.com/spf13/cobra"
)

var logger = flogging.MustGetLogger("skillendorse.cli")

var (
	// Version information (set at build time)
	Version   = "dev"
	GitCommit = "unknown"

	// Global flags
	cfgFile  string
	envFiles []string
	asJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "endorsectl",
	Short: "Skill endorsement ledger client",
	Long: `endorsectl files, searches and validates skill endorsements recorded
on the ledger, and serves the endorsement dashboard.

Settings come from the config file, then from .env files, then from the
environment (PINATA_API_KEY, PINATA_SECRET_API_KEY, MANAGER_CONTRACT, ...).`,
	Version:       fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults only when empty)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initLedgerCmd)
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(grantValidatorCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(validatorsCmd)
	rootCmd.AddCommand(balanceCmd)
}

// loadConfig reads dotenv files and the config file and initializes logging.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	flogging.Init(flogging.Config{
		Format:  cfg.Logging.Format,
		LogSpec: cfg.Logging.Spec,
		Writer:  os.Stderr,
	})
	return cfg, nil
}

// runtime is a connected session plus the service built on it.
type runtime struct {
	cfg     *config.Config
	conn    *fabricgw.Connection
	metrics *gateway.Metrics
	svc     *gateway.Service
}

func (r *runtime) session() *gateway.Session { return r.conn.Session }

func (r *runtime) Close() {
	if err := r.conn.Close(); err != nil {
		logger.Warningf("Closing connection: %v", err)
	}
}

// connect loads the configuration and opens the wallet's session.
func connect() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	conn, err := fabricgw.Connect(cfg.ConnectOptions())
	if err != nil {
		return nil, err
	}

	metrics := gateway.NewMetrics(cfg.Metrics.Namespace)
	client := gateway.NewLedgerClient(cfg.Pinning.GatewayHost, metrics)
	uploader := gateway.NewPinataUploader(
		cfg.Pinning.Endpoint,
		cfg.Pinning.APIKey,
		cfg.Pinning.SecretAPIKey,
		cfg.Pinning.Timeout.Duration(),
		metrics,
	)
	return &runtime{
		cfg:     cfg,
		conn:    conn,
		metrics: metrics,
		svc:     gateway.NewService(client, uploader, cfg.Pinning.MaxUploadBytes),
	}, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReceipt(action string, receipt *gateway.Receipt) error {
	if asJSON {
		return printJSON(receipt)
	}
	fmt.Printf("%s\n", action)
	fmt.Printf("  Transaction: %s\n", receipt.TransactionID)
	fmt.Printf("  Block:       %d\n", receipt.BlockNumber)
	fmt.Printf("  Status:      %s\n", receipt.ValidationCode)
	return nil
}
