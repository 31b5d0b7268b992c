package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fast-fab/Seller-service/internal/config"
	"github.com/fast-fab/Seller-service/internal/db"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect database migrations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back the given number of migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("steps must be a positive number, got %q", args[0])
					}
					steps = n
				}
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if err := db.RollbackMigrations(cfg.DatabaseURL, cfg.MigrationsPath, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s).\n", steps)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				version, dirty, err := db.MigrationVersion(cfg.DatabaseURL, cfg.MigrationsPath)
				if err != nil {
					return err
				}
				state := "clean"
				if dirty {
					state = "dirty"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d (%s)\n", version, state)
				return nil
			},
		},
	)
	return cmd
}
