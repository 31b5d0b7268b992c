package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fast-fab/Seller-service/internal/observability"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sellerctl version %s\n", observability.Version)
			fmt.Fprintf(out, "  Go:       %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
