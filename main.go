// Package main provides the seoaudit command line.
//
// Usage:
//
//	seoaudit serve
//	seoaudit migrate
//	seoaudit bootstrap-admin
//	seoaudit scan <url> [--format markdown|json]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/config"
	"github.com/seo-optimizer/seoaudit/logging"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seoaudit",
		Short: "On-page SEO audits as a service",
		Long: `seoaudit fetches a page, extracts its on-page SEO signals and scores them.

Run "seoaudit serve" for the metered HTTP API with accounts, plans and billing,
or "seoaudit scan <url>" for a one-off audit printed to the terminal.
Settings are read from the environment, .env.development and .env.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewBootstrapAdminCmd())
	cmd.AddCommand(NewScanCmd())

	return cmd
}

// setup loads configuration and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogStyle)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
