package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncroom/syncroom/hub/internal/auth"
	"github.com/syncroom/syncroom/hub/internal/config"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a development credential signed with the hub's shared secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(cmd, nil, defaultConfigPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Auth.Provider != "hs256" {
				return fmt.Errorf("token minting needs the hs256 provider, config uses %q", cfg.Auth.Provider)
			}

			email, _ := cmd.Flags().GetString("email")
			tok, err := auth.NewService(cfg.Auth).IssueToken(args[0], email)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("email", "", "email claim to embed")
	return cmd
}
