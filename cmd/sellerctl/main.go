package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fast-fab/Seller-service/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sellerctl",
		Short: "Operate the seller service: migrations, test events and dev tokens",
		Long: `sellerctl reads the same environment (or CONFIG_FILE) as the seller service.
It can migrate the database, publish order and response events to the broker,
and mint bearer tokens for local testing.`,
		Version:       observability.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newMigrateCmd(),
		newPublishOrderCmd(),
		newRespondCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
