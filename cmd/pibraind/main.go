// Command pibraind is the daemon's process entrypoint: start, run until
// signaled, and stop cleanly. Every other surface named in spec.md §6
// (the web UI, the read API, the interactive CLI) is an external
// collaborator this binary never implements. Grounded on the source
// repo's cmd/nerd/main.go rootCmd shape: a persistent --config/--debug
// flag pair, a PersistentPreRunE that initializes zap-backed logging
// before any subcommand runs, and one subcommand per lifecycle verb.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pibrain/internal/config"
	"pibrain/internal/daemon"
	"pibrain/internal/logging"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "pibraind",
	Short: "pibraind watches AI coding sessions and consolidates them into a knowledge graph",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(debug); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the daemon and run until interrupted",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "signal a running daemon to stop",
	RunE:  runStop,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to pibrain.yaml (default: built-in defaults)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level, human-readable logging")

	rootCmd.AddCommand(startCmd, stopCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hub, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-ctx.Done()
	logging.Get(logging.CategoryDaemon).Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.AnalysisTimeout())
	defer shutdownCancel()
	return hub.Shutdown(shutdownCtx)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pid, err := daemon.ReadPIDFile(cfg.Hub.DatabaseDir)
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}

	if err := daemon.Terminate(pid); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	fmt.Printf("stopped pibraind (pid %d)\n", pid)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
