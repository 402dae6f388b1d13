package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hrplatform/backend/internal/auth"
	"hrplatform/backend/internal/config"
)

var (
	tokenTenant string
	tokenUser   string
	tokenRole   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development JWT for the given tenant and user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		token, err := auth.SignToken([]byte(cfg.Auth.JWTSecret), auth.Identity{
			TenantID: tokenTenant,
			UserID:   tokenUser,
			Role:     tokenRole,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant id claim")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id claim")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "EMPLOYEE", "role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("tenant")
	tokenCmd.MarkFlagRequired("user")
}
