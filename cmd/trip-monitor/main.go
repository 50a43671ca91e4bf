package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trip-monitor/internal/config"
	"trip-monitor/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trip-monitor",
		Short:         "Live monitoring of ongoing student transport trips",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file (overridden by environment)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the hub supervisor, consumer API and metrics server",
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Connect to the hub and log the trip state on every change",
		RunE:  runWatch,
	})
	return root
}

// setup loads configuration and applies logging flags. The returned context
// is cancelled on SIGINT/SIGTERM.
func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config error: %w", err)
	}
	logging.Configure(cfg.LogLevel, cfg.LogFormat)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logging.SetLevel(logrus.DebugLevel)
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	return ctx, cancel, cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	return a.serve(ctx)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, cancel, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	return a.watch(ctx)
}
