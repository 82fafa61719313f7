package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/zawalid/watchfolio/internal/debounce"
	"github.com/zawalid/watchfolio/internal/library/schema"
	"github.com/zawalid/watchfolio/internal/library/store"
	"github.com/zawalid/watchfolio/internal/persist"
	"github.com/zawalid/watchfolio/internal/remote"
)

// SettingsKey names the persisted engine settings file.
const SettingsKey = "sync-settings"

// Settings is the part of the engine state that survives restarts.
type Settings struct {
	AutoSyncEnabled bool       `json:"autoSyncEnabled"`
	LastSyncTime    *time.Time `json:"lastSyncTime"`
}

// DefaultSettings enables auto-sync.
func DefaultSettings() Settings {
	return Settings{AutoSyncEnabled: true}
}

// Config holds configuration for the engine.
type Config struct {
	// UserID owns the library being synced.
	UserID string

	// DebounceInterval is how long local writes are collected before an
	// automatic push. A burst of writes results in a single push.
	DebounceInterval time.Duration

	// PushConcurrency bounds the number of concurrent item uploads.
	PushConcurrency int

	// Settings persists AutoSyncEnabled and LastSyncTime. When nil an
	// in-memory state is used.
	Settings *persist.State[Settings]

	// Logger for engine activity
	Logger *log.Logger

	// Now is the time source. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		PushConcurrency:  4,
		Logger:           log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Now:              time.Now,
	}
}

// Engine synchronises one user's library with the cloud.
type Engine struct {
	store    *store.Store
	adapter  *remote.Adapter
	cfg      Config
	settings *persist.State[Settings]
	logger   *log.Logger
	auto     *debounce.Debouncer

	// cycleMu serialises sync cycles.
	cycleMu sync.Mutex

	mu            sync.RWMutex
	status        Status
	authenticated bool
	libraryID     string
	closed        bool

	subMu  sync.Mutex
	subs   map[int]func(Status)
	nextID int

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	removeListener func()
}

// New creates an engine for st. adapter may be nil, in which case the
// library is local-only and the gate never opens.
//
// The engine starts online and unauthenticated.
func New(st *store.Store, adapter *remote.Adapter, config *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.UserID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	defaults := DefaultConfig()
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = defaults.DebounceInterval
	}
	if cfg.PushConcurrency <= 0 {
		cfg.PushConcurrency = defaults.PushConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	settings := cfg.Settings
	if settings == nil {
		var err error
		settings, err = persist.Open(SettingsKey, DefaultSettings(), persist.Options{
			Fs:     afero.NewMemMapFs(),
			Dir:    "/",
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sync settings: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    st,
		adapter:  adapter,
		cfg:      cfg,
		settings: settings,
		logger:   cfg.Logger,
		auto:     debounce.New(),
		status: Status{
			IsOnline:     true,
			LastSyncTime: settings.Get().LastSyncTime,
		},
		subs:   make(map[int]func(Status)),
		ctx:    ctx,
		cancel: cancel,
	}

	if n, err := st.CountPendingOperations(ctx); err == nil {
		e.status.PendingOperations = n
	}
	e.removeListener = st.OnChange(e.handleChange)
	return e, nil
}

// Close stops background work. A pending debounced push is dropped; call
// Flush first to run it.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.removeListener()
	e.auto.Cancel()
	e.cancel()
	e.wg.Wait()

	if err := e.settings.Flush(); err != nil {
		return fmt.Errorf("failed to persist sync settings: %w", err)
	}
	return nil
}

// Status returns a snapshot of the current status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Subscribe registers fn to receive every status change. The returned
// function removes the subscription.
func (e *Engine) Subscribe(fn func(Status)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

// updateStatus applies fn under the lock and publishes the result.
func (e *Engine) updateStatus(fn func(*Status)) {
	e.mu.Lock()
	fn(&e.status)
	snapshot := e.status
	e.mu.Unlock()

	e.subMu.Lock()
	fns := make([]func(Status), 0, len(e.subs))
	for _, f := range e.subs {
		fns = append(fns, f)
	}
	e.subMu.Unlock()

	for _, f := range fns {
		f(snapshot)
	}
}

// CanSync reports whether the gate is open.
func (e *Engine) CanSync() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.canSyncLocked()
}

// IsAuthenticated reports whether a user session exists for a configured
// backend, whether or not the gate is currently open.
func (e *Engine) IsAuthenticated() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapter != nil && e.authenticated
}

func (e *Engine) canSyncLocked() bool {
	return e.adapter != nil && e.status.IsOnline && e.authenticated && !e.status.AuthRequired
}

// SetOnline records a connectivity change. Coming back online drains the
// offline queue when auto-sync is enabled.
func (e *Engine) SetOnline(online bool) {
	e.setGate(func(s *Status) { s.IsOnline = online })
}

// SetAuthenticated records whether a user session exists. Authenticating
// clears a previous authRequired state and the error that caused it.
func (e *Engine) SetAuthenticated(authenticated bool) {
	e.setGate(func(s *Status) {
		e.authenticated = authenticated
		if authenticated && s.AuthRequired {
			s.AuthRequired = false
			s.Error = ""
		}
	})
}

func (e *Engine) setGate(fn func(*Status)) {
	var opened bool
	e.updateStatus(func(s *Status) {
		before := e.canSyncLocked()
		fn(s)
		opened = !before && e.canSyncLocked()
	})

	if opened && e.AutoSyncEnabled() {
		e.background(func(ctx context.Context) {
			if err := e.runCycle(ctx, "Queue drain", true, e.drainQueue); err != nil {
				e.logger.Printf("Queue drain failed: %v", err)
			}
		})
	}
}

// acquire registers a unit of background work unless the engine is closed.
// The caller must call e.wg.Done when acquire returns true.
func (e *Engine) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

// background runs fn on a tracked goroutine unless the engine is closed.
func (e *Engine) background(fn func(ctx context.Context)) bool {
	if !e.acquire() {
		return false
	}
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
	return true
}

// AutoSyncEnabled reports the persisted auto-sync toggle.
func (e *Engine) AutoSyncEnabled() bool {
	return e.settings.Get().AutoSyncEnabled
}

// SetAutoSync changes the persisted auto-sync toggle. Disabling it drops a
// pending debounced push.
func (e *Engine) SetAutoSync(enabled bool) {
	e.settings.Update(func(s Settings) Settings {
		s.AutoSyncEnabled = enabled
		return s
	})
	if !enabled {
		e.auto.Cancel()
	}
}

// Flush runs a pending debounced push immediately on the calling goroutine.
// It reports whether a push was pending.
func (e *Engine) Flush() bool {
	return e.auto.Flush()
}

func (e *Engine) now() time.Time {
	return e.cfg.Now()
}

// handleChange reacts to committed local writes. It runs on the writer's
// goroutine.
func (e *Engine) handleChange(ev store.ChangeEvent) {
	switch ev.Kind {
	case store.ChangeMerge:
		return
	case store.ChangeRecreate:
		e.mu.Lock()
		e.libraryID = ""
		e.mu.Unlock()
		e.refreshPending(context.Background())
		return
	}
	if e.adapter == nil {
		return
	}

	if !e.CanSync() {
		e.enqueue(context.Background(), ev)
		return
	}
	// Online deletes are pushed explicitly through RemoveFromCloud.
	if ev.Kind == store.ChangeDelete {
		return
	}
	if e.AutoSyncEnabled() {
		e.auto.Schedule(e.autoPush, e.cfg.DebounceInterval)
	}
}

func (e *Engine) autoPush() {
	if !e.acquire() {
		return
	}
	defer e.wg.Done()

	if !e.AutoSyncEnabled() {
		return
	}
	if err := e.SyncToCloud(e.ctx); err != nil {
		e.logger.Printf("Auto-sync failed: %v", err)
	}
}

// enqueue records the changes of ev in the offline queue.
func (e *Engine) enqueue(ctx context.Context, ev store.ChangeEvent) {
	for _, id := range ev.IDs {
		op := schema.SyncOperation{Key: id, Type: schema.OpDelete}

		if ev.Kind != store.ChangeDelete {
			item, err := e.store.GetItem(ctx, id)
			switch {
			case err == nil:
				data, err := json.Marshal(item)
				if err != nil {
					e.logger.Printf("Warning: failed to encode queued item %s: %v", id, err)
					continue
				}
				op.Data = data
				op.Type = schema.OpUpdate
				if ev.Kind == store.ChangeCreate {
					op.Type = schema.OpCreate
				}
			case errors.Is(err, store.ErrNotFound):
				// removed by the same batch
			default:
				e.logger.Printf("Warning: failed to read item %s for queue: %v", id, err)
				continue
			}
		}

		if err := e.store.EnqueueOperation(ctx, op); err != nil {
			e.logger.Printf("Warning: failed to queue %s %s: %v", op.Type, id, err)
		}
	}
	e.refreshPending(ctx)
}

func (e *Engine) refreshPending(ctx context.Context) {
	n, err := e.store.CountPendingOperations(ctx)
	if err != nil {
		e.logger.Printf("Warning: failed to count pending operations: %v", err)
		return
	}
	e.updateStatus(func(s *Status) { s.PendingOperations = n })
}

// runCycle executes fn as one sync cycle when the gate is open. record
// controls whether success stamps lastSyncTime.
func (e *Engine) runCycle(ctx context.Context, name string, record bool, fn func(context.Context) error) error {
	if !e.CanSync() {
		return nil
	}
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if !e.CanSync() {
		return nil
	}

	e.updateStatus(func(s *Status) { s.IsSyncing = true })
	err := fn(ctx)
	now := e.now()

	e.updateStatus(func(s *Status) {
		s.IsSyncing = false
		if err != nil {
			s.Error = err.Error()
			if remote.IsAuth(err) {
				s.AuthRequired = true
			}
			return
		}
		s.Error = ""
		if record {
			s.LastSyncTime = &now
		}
	})

	if err != nil {
		if remote.IsAuth(err) {
			e.auto.Cancel()
			e.logger.Printf("%s failed, sign-in required: %v", name, err)
		}
		return err
	}
	if record {
		e.settings.Update(func(s Settings) Settings {
			s.LastSyncTime = &now
			return s
		})
	}
	e.logger.Printf("%s complete", name)
	return nil
}

// ensureLibrary returns the cloud library id, adopting it locally on first
// use.
func (e *Engine) ensureLibrary(ctx context.Context) (string, error) {
	e.mu.RLock()
	id := e.libraryID
	e.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	cloud, err := e.adapter.LibraryForUser(ctx, e.cfg.UserID)
	if err != nil {
		return "", err
	}
	local, err := e.store.EnsureLibrary(ctx, e.cfg.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load local library: %w", err)
	}
	if local.ID != cloud.ID {
		adopted := schema.Library{
			ID:            cloud.ID,
			UserID:        e.cfg.UserID,
			AverageRating: local.AverageRating,
			CreatedAt:     local.CreatedAt,
		}
		if err := e.store.SetLibrary(ctx, adopted); err != nil {
			return "", fmt.Errorf("failed to adopt cloud library: %w", err)
		}
	}

	e.mu.Lock()
	e.libraryID = cloud.ID
	e.mu.Unlock()
	return cloud.ID, nil
}
