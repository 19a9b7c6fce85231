package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/infra/api"
)

// tokenCmd mints a bearer token for local testing against the API.
func tokenCmd(flags *rootFlags) *cobra.Command {
	var (
		userID string
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			r := model.Role(role)
			if userID == "" || !r.Valid() {
				return fmt.Errorf("token: --user is required and --role must be learner, guru or admin")
			}
			auth := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
			tok, err := auth.Mint(model.Actor{ID: userID, Role: r})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", string(model.RoleLearner), "actor role")
	return cmd
}
