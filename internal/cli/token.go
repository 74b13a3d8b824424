package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/mltrackr/internal/auth"
	"github.com/emiliopalmerini/mltrackr/internal/infrastructure/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long: `Issue a bearer token for a user, signed with MLTRACKR_JWT_SECRET.

Examples:
  mltrackr token --user alice             # Valid for 24 hours
  mltrackr token --user alice --ttl 720h  # Valid for 30 days`,
	RunE: runToken,
}

var (
	tokenUser string
	tokenTTL  time.Duration
)

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "User id to put in the token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "How long the token stays valid")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(tokenUser, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
