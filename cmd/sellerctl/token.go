package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fast-fab/Seller-service/internal/auth"
	"github.com/fast-fab/Seller-service/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		sellerID string
		email    string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a seller, signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.NewJWTService(cfg.JWTSecret).GenerateToken(sellerID, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&sellerID, "seller-id", "", "Seller ID placed in the sub claim")
	cmd.Flags().StringVar(&email, "email", "", "Optional email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
