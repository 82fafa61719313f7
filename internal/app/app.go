// Package app wires the watchfolio components together from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/zawalid/watchfolio/internal/applog"
	"github.com/zawalid/watchfolio/internal/cloudsync"
	"github.com/zawalid/watchfolio/internal/config"
	"github.com/zawalid/watchfolio/internal/importer"
	"github.com/zawalid/watchfolio/internal/library"
	"github.com/zawalid/watchfolio/internal/library/store"
	"github.com/zawalid/watchfolio/internal/metadata"
	"github.com/zawalid/watchfolio/internal/persist"
	"github.com/zawalid/watchfolio/internal/remote"
)

// Options tunes how New builds the application.
type Options struct {
	// Watch reloads persisted sync settings written by other processes.
	// Long-running commands enable it.
	Watch bool

	// Quiet keeps log lines off the console.
	Quiet bool

	// ImportWorkers sizes the import parsing pool. Defaults to 2.
	ImportWorkers int

	// Console receives console log output. Defaults to stderr.
	Console io.Writer

	// Backend overrides the backend selected by the config.
	Backend remote.Backend
}

// App holds every long-lived component of a watchfolio process.
// The caller must call Close when done.
type App struct {
	Config   *config.Config
	Store    *store.Store
	Backend  remote.Backend
	Engine   *cloudsync.Engine
	Library  *library.Service
	Importer *importer.Pool
	Media    *metadata.CachedEnricher

	out      *applog.Output
	logger   *log.Logger
	notifier persist.Notifier
	settings *persist.State[cloudsync.Settings]
	closers  []func() error
}

// New creates a fully wired App from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	out, err := applog.Open(applog.Options{
		File:    cfg.LogFile,
		Quiet:   opts.Quiet,
		Console: opts.Console,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	a := &App{
		Config: cfg,
		out:    out,
		logger: out.Logger("app"),
	}
	a.closers = append(a.closers, out.Close)

	if err := a.wire(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config

	st, err := store.Open(cfg.DatabasePath(), store.WithLogger(a.out.Logger("store")))
	if err != nil {
		return fmt.Errorf("failed to open library database: %w", err)
	}
	a.Store = st
	a.pushCloser(st.Close)

	backend := opts.Backend
	if backend == nil {
		backend, err = remote.NewBackendFromConfig(ctx, cfg.Remote)
		if err != nil {
			return fmt.Errorf("failed to create remote backend: %w", err)
		}
	}
	a.Backend = backend
	if c, ok := backend.(io.Closer); ok {
		a.pushCloser(c.Close)
	}

	var adapter *remote.Adapter
	if backend != nil {
		adapter = remote.NewAdapter(backend, a.out.Logger("remote"))
	}

	if opts.Watch {
		n, err := persist.NewFileNotifier(cfg.StateDir(), a.out.Logger("persist"))
		if err != nil {
			return err
		}
		a.notifier = n
	} else {
		a.notifier = persist.NopNotifier{}
	}
	a.pushCloser(a.notifier.Close)

	settings, err := persist.Open(cloudsync.SettingsKey, cloudsync.DefaultSettings(), persist.Options{
		Dir:      cfg.StateDir(),
		Notifier: a.notifier,
		Logger:   a.out.Logger("persist"),
	})
	if err != nil {
		return fmt.Errorf("failed to open sync settings: %w", err)
	}
	a.settings = settings
	a.pushCloser(settings.Close)

	engine, err := cloudsync.New(st, adapter, &cloudsync.Config{
		UserID:           cfg.UserID,
		DebounceInterval: cfg.Sync.DebounceInterval.Duration,
		PushConcurrency:  cfg.Sync.PushConcurrency,
		Settings:         settings,
		Logger:           a.out.Logger("sync"),
	})
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}
	a.Engine = engine
	a.pushCloser(func() error {
		engine.Flush()
		return engine.Close()
	})

	svc, err := library.New(ctx, st, engine, library.Config{
		UserID: cfg.UserID,
		Logger: a.out.Logger("library"),
	})
	if err != nil {
		return fmt.Errorf("failed to create library service: %w", err)
	}
	a.Library = svc
	a.pushCloser(func() error {
		svc.Close()
		return nil
	})

	workers := opts.ImportWorkers
	if workers <= 0 {
		workers = 2
	}
	a.Importer = importer.NewPool(workers, a.out.Logger("import"))
	a.pushCloser(func() error {
		a.Importer.Close()
		return nil
	})

	a.Media = metadata.NewCachedEnricher(st, nil, a.out.Logger("metadata"))
	return nil
}

// pushCloser records fn to run on Close. Closers run in reverse order.
func (a *App) pushCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Logger returns a logger for component sharing the process log output.
func (a *App) Logger(component string) *log.Logger {
	return a.out.Logger(component)
}

// HasRemote reports whether a cloud backend is configured.
func (a *App) HasRemote() bool {
	return a.Backend != nil
}

// Connect probes the configured backend and opens the sync gate when it
// is reachable. A CLI process acts as a signed-in session for its user, so
// it is marked authenticated whenever a backend exists.
func (a *App) Connect(ctx context.Context, timeout time.Duration) bool {
	if !a.HasRemote() {
		return false
	}
	online := a.Engine.CheckConnectivity(ctx, timeout)
	a.Engine.SetAuthenticated(true)
	if !online {
		a.logger.Printf("Cloud unreachable, working offline")
	}
	return online
}

// Close flushes pending sync work and releases every component.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
