package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zawalid/watchfolio/internal/app"
	"github.com/zawalid/watchfolio/internal/cloudsync"
	"github.com/zawalid/watchfolio/internal/dashboard"
	"github.com/zawalid/watchfolio/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Synchronise the library with the cloud",
	Long: `Synchronise the local library with the configured cloud backend.

Without a subcommand, replays queued offline changes, pushes every local
item and pulls the cloud copy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSync(cmd, "Syncing", func(ctx context.Context, a *app.App) error {
			return a.Engine.TriggerSync(ctx)
		})
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload every local item to the cloud",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSync(cmd, "Pushing", func(ctx context.Context, a *app.App) error {
			return a.Engine.SyncToCloud(ctx)
		})
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Merge the cloud copy into the local library",
	Long: `Merge the cloud copy into the local library.

Items missing locally are added. For items on both sides the cloud wins for
status, favourite, rating and notes. Local-only items are kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSync(cmd, "Pulling", func(ctx context.Context, a *app.App) error {
			opts := cloudsync.MergeOptions{KeepExistingFavorites: a.Config.Sync.KeepFavoritesOnPull}
			if cmd.Flags().Changed("keep-favorites") {
				opts.KeepExistingFavorites, _ = cmd.Flags().GetBool("keep-favorites")
			}
			res, err := a.Engine.SyncFromCloud(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Printf("  %d added, %d updated, %d unchanged, %d local only",
				res.Added, res.Updated, res.Unchanged, res.LocalOnly)
			if res.Ignored > 0 {
				fmt.Printf(", %d invalid cloud rows ignored", res.Ignored)
			}
			fmt.Println()
			return nil
		})
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			st := a.Engine.Status()
			if jsonOut {
				return printJSON(st)
			}
			if !a.HasRemote() {
				fmt.Println(ui.RenderMuted("○ Local only (no remote configured)"))
				return nil
			}
			fmt.Println(ui.RenderSyncStatus(st, time.Now()))
			fmt.Printf("  Remote:    %s\n", a.Config.Remote.Type)
			fmt.Printf("  Auto-sync: %s\n", onOff(a.Engine.AutoSyncEnabled()))
			if st.LastSyncTime != nil {
				fmt.Printf("  Last sync: %s\n", st.LastSyncTime.Local().Format("2006-01-02 15:04:05"))
			}
			if st.PendingOperations > 0 {
				fmt.Printf("  Queued:    %d offline changes\n", st.PendingOperations)
			}
			return nil
		})
	},
}

var syncCompareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare the local library with the cloud without changing either",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := requireSync(a); err != nil {
				return err
			}
			c, err := a.Engine.CompareWithCloud(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(c)
			}
			if c.IsInSync {
				fmt.Printf("%s In sync (%d items)\n", ui.RenderPass("✓"), c.LocalItemCount)
				return nil
			}
			fmt.Printf("%s Out of sync: %d local, %d in the cloud\n",
				ui.RenderWarn("●"), c.LocalItemCount, c.CloudItemCount)
			printKeys("Only local", c.NeedsUpload)
			printKeys("Only in the cloud", c.NeedsDownload)
			printKeys("Different", c.Conflicts)
			return nil
		})
	},
}

var syncDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep the library synced until interrupted",
	Long: `Run the sync engine in the foreground.

The daemon probes the cloud periodically and replays offline changes when
it comes back. Auto-sync toggles made by other watchfolio commands are
picked up while it runs.
With --dashboard it also serves the status dashboard.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		ctx := cmd.Context()

		a, err := newApp(ctx, app.Options{Watch: true})
		if err != nil {
			return err
		}
		defer a.Close()
		if !a.HasRemote() {
			return fmt.Errorf("no remote configured: set remote.type in %s", resolveConfigPath())
		}

		unsubscribe := a.Engine.Subscribe(func(st cloudsync.Status) {
			fmt.Printf("%s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), ui.RenderSyncStatus(st, time.Now()))
		})
		defer unsubscribe()

		if withDashboard {
			stop, err := startDashboard(a, a.Config.Dashboard.Addr)
			if err != nil {
				return err
			}
			defer stop()
		}

		if a.Engine.CanSync() {
			if err := a.Engine.TriggerSync(ctx); err != nil {
				fmt.Printf("%s Initial sync failed: %v\n", ui.RenderWarn("!"), err)
			}
		}

		fmt.Println("Sync daemon running. Press Ctrl+C to stop...")
		a.Engine.WatchConnectivity(ctx, a.Config.Sync.ConnectivityInterval.Duration)
		fmt.Println("\nShutting down sync daemon...")
		return nil
	},
}

// startDashboard serves the status dashboard for a until stop is called.
func startDashboard(a *app.App, addr string) (stop func(), err error) {
	server := dashboard.NewServer(&dashboard.Config{
		Addr:   addr,
		Status: a.Engine,
		Stats:  a.Library,
		Logger: a.Logger("dashboard"),
	})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start dashboard: %w", err)
	}
	handler := dashboard.NewHandler(server, a.Library, a.Logger("dashboard"))
	handler.Watch(a.Engine, a.Store)

	fmt.Printf("Dashboard: http://%s\n", server.Addr())
	fmt.Printf("WebSocket: ws://%s/ws\n", server.Addr())
	return func() {
		handler.Close()
		if err := server.Stop(); err != nil {
			fmt.Printf("%s dashboard shutdown: %v\n", ui.RenderWarn("!"), err)
		}
	}, nil
}

// withSync runs a sync operation and reports its outcome.
func withSync(cmd *cobra.Command, verb string, fn func(ctx context.Context, a *app.App) error) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := requireSync(a); err != nil {
			return err
		}
		fmt.Printf("%s %s...\n", ui.RenderAccent("↻"), verb)
		start := time.Now()
		if err := fn(ctx, a); err != nil {
			return err
		}
		fmt.Printf("%s Done in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		return nil
	})
}

// requireSync explains why the gate is closed.
func requireSync(a *app.App) error {
	if !a.HasRemote() {
		return fmt.Errorf("no remote configured: set remote.type in %s", resolveConfigPath())
	}
	if !a.Engine.CanSync() {
		return fmt.Errorf("cloud sync unavailable: %s", a.Engine.Status().Text(time.Now()))
	}
	return nil
}

func printKeys(label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	fmt.Printf("  %s (%d):\n", label, len(keys))
	for _, k := range keys {
		fmt.Printf("    %s\n", k)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func init() {
	syncPullCmd.Flags().Bool("keep-favorites", false, "Keep local favourites the cloud does not have")
	syncStatusCmd.Flags().Bool("json", false, "Output JSON")
	syncCompareCmd.Flags().Bool("json", false, "Output JSON")
	syncDaemonCmd.Flags().Bool("dashboard", false, "Serve the status dashboard")

	syncCmd.AddCommand(syncPushCmd, syncPullCmd, syncStatusCmd, syncCompareCmd, syncDaemonCmd)
	rootCmd.AddCommand(syncCmd)
}
