package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/tunneld/internal/command"
	"github.com/creamcroissant/tunneld/internal/config"
	"github.com/creamcroissant/tunneld/internal/logring"
)

func controlClient() (*command.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return command.NewClient(cfg.Command.SocketPath), nil
}

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "State:\t%s\n", status.State)
			if status.Profile != "" {
				fmt.Fprintf(w, "Profile:\t%s\n", status.Profile)
			}
			if status.UptimeSec > 0 {
				fmt.Fprintf(w, "Uptime:\t%s\n", (time.Duration(status.UptimeSec) * time.Second).String())
			}
			if status.Alert != nil {
				fmt.Fprintf(w, "Alert:\t%s: %s\n", status.Alert.Kind, status.Alert.Message)
			}
			if status.System != nil {
				fmt.Fprintf(w, "CPU:\t%.1f%%\n", status.System.CPUPercent)
				fmt.Fprintf(w, "Memory:\t%d/%d MB\n", status.System.MemoryUsed>>20, status.System.MemoryTotal>>20)
			}
			return w.Flush()
		},
	}

	var followLogs bool
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show service logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			return client.Logs(cmd.Context(), followLogs, func(entry logring.Entry) error {
				if entry.Reset {
					fmt.Println("--- service restarted, log cleared ---")
					return nil
				}
				fmt.Printf("%s %s\n", entry.Time.Format(time.TimeOnly), entry.Message)
				return nil
			})
		},
	}
	logsCmd.Flags().BoolVarP(&followLogs, "follow", "f", false, "keep streaming new log lines")

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Hot-swap the running service configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			if err := client.Reload(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("service reloaded")
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			if err := client.CloseService(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("stop requested")
			return nil
		},
	}

	rootCmd.AddCommand(statusCmd, logsCmd, reloadCmd, stopCmd)
}
