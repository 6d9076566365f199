package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"projector/internal/auth"
	"projector/internal/config"
)

var tokenTTL string

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a bearer token for the HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.RequireJWT(); err != nil {
			return err
		}
		ttl, err := parseTTL(tokenTTL)
		if err != nil {
			return err
		}

		token, err := auth.NewJWT(cfg.JWTSecret, ttl).Sign(uid)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenTTL, "ttl", "168h", "token lifetime")
}
