package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zawalid/watchfolio/internal/app"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the real-time sync status dashboard",
	Long: `Start a WebSocket dashboard server showing the sync status and library
statistics as they change.

WebSocket messages include:
- sync_status: engine status (online, syncing, pending operations, errors)
- library_change: items added, updated or removed
- stats: library statistics

Polling endpoints: /health, /status and /stats.

Example usage:
  watchfolio dashboard                        # Listen on the configured address
  watchfolio dashboard --addr 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, app.Options{Watch: true})
		if err != nil {
			return err
		}
		defer a.Close()

		addr := a.Config.Dashboard.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}
		stop, err := startDashboard(a, addr)
		if err != nil {
			return err
		}
		defer stop()

		fmt.Println("\nPress Ctrl+C to stop...")
		go a.Engine.WatchConnectivity(ctx, a.Config.Sync.ConnectivityInterval.Duration)
		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		return nil
	},
}

func init() {
	dashboardCmd.Flags().String("addr", "", "Address to listen on (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
