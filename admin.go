package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seo-optimizer/seoaudit/account"
	"github.com/seo-optimizer/seoaudit/app"
	"github.com/seo-optimizer/seoaudit/config"
)

// NewMigrateCmd creates the migrate command.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and seed plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := app.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database migrated (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}

// NewBootstrapAdminCmd creates the bootstrap-admin command.
func NewBootstrapAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create or promote the ADMIN_EMAIL account",
		Long: `Ensures the account named by ADMIN_EMAIL exists, is approved and has the
admin role. A missing account is created with ADMIN_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := app.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}

			svc := account.NewService(st, config.NewSecrets(), account.Options{Logger: logger})
			u, created, err := svc.BootstrapAdmin(cmd.Context())
			if err != nil {
				return err
			}
			verb := "promoted"
			if created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s %s\n", u.Email, verb)
			return nil
		},
	}
}
