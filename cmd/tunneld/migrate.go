package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/tunneld/internal/bootstrap"
	"github.com/creamcroissant/tunneld/internal/config"
	"github.com/creamcroissant/tunneld/internal/migrations"
)

func init() {
	migrateCmd := &cobra.Command{
		Use:   "migrate [up|status]",
		Short: "Database migration management",
		Args:  cobra.MaximumNArgs(1),
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

			action := "up"
			if len(args) > 0 {
				action = args[0]
			}
			switch action {
			case "up":
				if err := migrations.Up(db); err != nil {
					return err
				}
				fmt.Println("migrations applied")
				return nil
			case "status":
				return migrations.Status(db)
			default:
				return fmt.Errorf("unknown action %q", action)
			}
		},
	}
	rootCmd.AddCommand(migrateCmd)
}
