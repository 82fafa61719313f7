// Command watchfolio manages a local-first movie and TV library that syncs
// with a cloud backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zawalid/watchfolio/internal/app"
	"github.com/zawalid/watchfolio/internal/config"
	"github.com/zawalid/watchfolio/internal/ui"
)

// connectTimeout bounds the reachability probe run before each command.
const connectTimeout = 5 * time.Second

var (
	configPath string
	verbose    bool
	noColor    bool

	overrides = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "watchfolio",
	Short: "Local-first movie and TV library with cloud sync",
	Long: `Watchfolio keeps your movie and TV library in a local database and
syncs it with a cloud backend when one is configured.

Every command works offline. Changes made while offline are queued and
replayed the next time the cloud is reachable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "library", Title: "Library Commands:"},
		&cobra.Group{ID: "transfer", Title: "Import and Export:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default ~/.watchfolio/config.toml)")
	flags.String("data-dir", "", "Directory holding the library database")
	flags.String("user", "", "User id owning the library")
	flags.String("remote", "", "Cloud backend: none, memory, libsql or s3")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Print log output to stderr")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")

	_ = overrides.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = overrides.BindPFlag("user_id", flags.Lookup("user"))
	_ = overrides.BindPFlag("remote.type", flags.Lookup("remote"))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}

// resolveConfigPath returns --config or the default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath(config.DefaultBaseDir())
}

// loadConfig reads the config file, .env files and overrides.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	if err := config.LoadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	return config.Load(path, overrides)
}

// newApp builds the application for a one-shot command and connects to the
// cloud when a backend is configured.
func newApp(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts.Quiet = opts.Quiet || !verbose
	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	a.Connect(ctx, connectTimeout)
	return a, nil
}

// withApp runs fn against a freshly built App and closes it afterwards,
// flushing any pending push.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, app.Options{})
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close: %w", err)
	}
	return runErr
}
