package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"skillendorse/dashboard"
	"skillendorse/idempotency"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the endorsement dashboard",
	Long: `Serve the JSON dashboard for the connected wallet until interrupted.

Example:
  endorsectl serve --config config.toml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := connect()
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := idempotency.Open(rt.cfg.Dashboard.IdempotencyPath, rt.cfg.Dashboard.IdempotencyTTL.Duration())
	if err != nil {
		return fmt.Errorf("opening idempotency store: %w", err)
	}
	defer store.Close()
	if _, err := store.Purge(); err != nil {
		logger.Warningf("Purging idempotency store: %v", err)
	}

	srv := dashboard.New(dashboard.Options{
		Service:        rt.svc,
		Session:        rt.session(),
		Idempotency:    store,
		Metrics:        rt.metrics,
		MaxUploadBytes: rt.cfg.Pinning.MaxUploadBytes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, rt.cfg.Dashboard.ListenAddr, rt.cfg.Dashboard.ShutdownTimeout.Duration()); err != nil {
		return fmt.Errorf("serving dashboard: %w", err)
	}
	logger.Info("Dashboard stopped")
	return nil
}
