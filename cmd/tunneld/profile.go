package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/tunneld/internal/bootstrap"
	"github.com/creamcroissant/tunneld/internal/config"
	"github.com/creamcroissant/tunneld/internal/migrations"
	"github.com/creamcroissant/tunneld/internal/profile"
	"github.com/creamcroissant/tunneld/internal/repository/sqlite"
)

// openManager gives CLI subcommands direct database access, so profile
// management works whether or not the daemon is running.
func openManager() (*profile.Manager, *sql.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := bootstrap.OpenSQLite(cfg.DB.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	store := sqlite.NewStore(db)
	settings := profile.NewSettings(store.Settings())
	fetcher := profile.NewFetcher(profile.DefaultFetchConfig())
	return profile.NewManager(store, settings, fetcher, nil), db, nil
}

func init() {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage tunnel profiles",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, db, err := openManager()
			if err != nil {
				return err
			}
			defer db.Close()

			profiles, err := manager.List(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := manager.Settings().SelectedProfileID(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tREMOTE\tUPDATED\t")
			for _, p := range profiles {
				marker := ""
				if p.ID == selected {
					marker = " *"
				}
				updated := time.Unix(p.UpdatedAt, 0).Format(time.DateTime)
				fmt.Fprintf(w, "%d%s\t%s\t%s\t%s\t\n", p.ID, marker, p.Name, p.RemoteURL, updated)
			}
			return w.Flush()
		},
	}

	var addRemote string
	var addFile string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a profile from a file or remote URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addRemote == "" && addFile == "" {
				return fmt.Errorf("either --file or --url is required")
			}
			var content string
			if addFile != "" {
				data, err := os.ReadFile(addFile)
				if err != nil {
					return fmt.Errorf("read profile file: %w", err)
				}
				content = string(data)
			}
			manager, db, err := openManager()
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := manager.Create(cmd.Context(), args[0], content, addRemote)
			if err != nil {
				return err
			}
			fmt.Printf("profile %q created with id %d\n", p.Name, p.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&addFile, "file", "", "path to a local configuration file")
	addCmd.Flags().StringVar(&addRemote, "url", "", "remote profile URL")

	selectCmd := &cobra.Command{
		Use:   "select <id>",
		Short: "Select the profile the service starts with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid profile id %q", args[0])
			}
			manager, db, err := openManager()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := manager.Select(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("profile %d selected\n", id)
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid profile id %q", args[0])
			}
			manager, db, err := openManager()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := manager.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("profile %d removed\n", id)
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export all profiles as YAML to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, db, err := openManager()
			if err != nil {
				return err
			}
			defer db.Close()
			return manager.Export(cmd.Context(), os.Stdout)
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import profiles from a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			manager, db, err := openManager()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := manager.Import(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Printf("%d profiles imported\n", n)
			return nil
		},
	}

	profileCmd.AddCommand(listCmd, addCmd, selectCmd, removeCmd, exportCmd, importCmd)
	rootCmd.AddCommand(profileCmd)
}
