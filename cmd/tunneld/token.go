package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/tunneld/internal/bootstrap"
	"github.com/creamcroissant/tunneld/internal/command"
	"github.com/creamcroissant/tunneld/internal/config"
	"github.com/creamcroissant/tunneld/internal/migrations"
	"github.com/creamcroissant/tunneld/internal/profile"
	"github.com/creamcroissant/tunneld/internal/repository/sqlite"
	"github.com/creamcroissant/tunneld/internal/support/hash"
)

func init() {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage control API tokens",
	}

	setCmd := &cobra.Command{
		Use:   "set <token>",
		Short: "Set the static control token for the TCP listener",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, err := bootstrap.OpenSQLite(cfg.DB.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migrations.Up(db); err != nil {
				return err
			}

			hasher, err := hash.NewBcryptHasher(cfg.Command.Auth.BcryptCost)
			if err != nil {
				return err
			}
			hashed, err := hasher.Hash(args[0])
			if err != nil {
				return err
			}
			settings := profile.NewSettings(sqlite.NewStore(db).Settings())
			if err := settings.SetControlTokenHash(cmd.Context(), hashed); err != nil {
				return err
			}
			fmt.Println("control token updated")
			return nil
		},
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a short-lived session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Command.Auth.SigningKey == "" {
				return fmt.Errorf("command.auth.signing_key is not configured")
			}
			tokens, err := command.NewTokenManager([]byte(cfg.Command.Auth.SigningKey), cfg.Command.Auth.Issuer, cfg.Command.Auth.SessionTTL)
			if err != nil {
				return err
			}
			signed, claims, err := tokens.Issue()
			if err != nil {
				return err
			}
			fmt.Println(signed)
			fmt.Printf("expires %s\n", claims.ExpiresAt.Time)
			return nil
		},
	}

	tokenCmd.AddCommand(setCmd, issueCmd)
	rootCmd.AddCommand(tokenCmd)
}
