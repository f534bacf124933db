package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"PortfolioAgents/internal/di"
	"PortfolioAgents/pkg/config"

	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operate the portfolio agents pipeline and audit its ledger",
	Long: `ledgerctl runs one-shot pipeline operations against the configured
stores: trigger a run, seed synthetic market data, apply migrations and
verify the hash-chained decision ledger.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "config file path")
	rootCmd.AddCommand(runCmd, verifyCmd, seedCmd, migrateCmd)
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = c
	return nil
}

// toolkit wires the configured stores. The caller must invoke cleanup.
func toolkit() (*di.Toolkit, func(), error) {
	tk, cleanup, err := di.InitializeToolkit(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	return tk, cleanup, nil
}
