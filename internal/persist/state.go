// Package persist mirrors small pieces of application state to JSON files.
//
// A State keeps its value in memory, coalesces writes with a trailing
// debounce and reloads the value when another process rewrites the file.
// It is meant for preferences and sync bookkeeping, not for library data.
// Persistence is eventually consistent: a rapid series of Set calls may only
// write the final value.
package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/zawalid/watchfolio/internal/debounce"
)

// DefaultDebounce is the write delay used when Options.Debounce is zero.
const DefaultDebounce = 30 * time.Millisecond

// Options configures Open.
type Options struct {
	// Fs is the filesystem holding state files. Defaults to the OS filesystem.
	Fs afero.Fs
	// Dir is the directory state files are written to.
	Dir string
	// Debounce is the trailing delay before a Set is written.
	Debounce time.Duration
	// Notifier reports changes written by other processes. Defaults to NopNotifier.
	Notifier Notifier
	Logger   *log.Logger
}

// State is a value of type T mirrored to "<Dir>/<key>.json".
type State[T any] struct {
	key      string
	path     string
	fs       afero.Fs
	delay    time.Duration
	logger   *log.Logger
	debounce *debounce.Debouncer

	mu      sync.RWMutex
	value   T
	written []byte
	lastErr error

	subMu  sync.Mutex
	subs   map[int]func(T)
	nextID int

	stopWatch func()
}

// Open loads the state named key, falling back to def when no file exists
// or the file cannot be decoded.
func Open[T any](key string, def T, opts Options) (*State[T], error) {
	if key == "" {
		return nil, fmt.Errorf("state key cannot be empty")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[persist] ", log.LstdFlags)
	}

	if err := opts.Fs.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &State[T]{
		key:      key,
		path:     filepath.Join(opts.Dir, key+".json"),
		fs:       opts.Fs,
		delay:    opts.Debounce,
		logger:   opts.Logger,
		debounce: debounce.New(),
		value:    def,
		subs:     make(map[int]func(T)),
	}

	data, err := afero.ReadFile(s.fs, s.path)
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			s.logger.Printf("Warning: ignoring unreadable state %s: %v", s.path, err)
		} else {
			s.value = v
			s.written = data
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read state %s: %w", s.path, err)
	}

	s.stopWatch = opts.Notifier.OnExternalChange(key, s.reload)
	return s, nil
}

// Get returns the current in-memory value.
func (s *State[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the value, notifies subscribers and schedules a write.
func (s *State[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()

	s.publish(v)
	s.debounce.Schedule(func() { _ = s.write() }, s.delay)
}

// Update applies fn to the current value and stores the result.
func (s *State[T]) Update(fn func(T) T) {
	s.mu.Lock()
	v := fn(s.value)
	s.value = v
	s.mu.Unlock()

	s.publish(v)
	s.debounce.Schedule(func() { _ = s.write() }, s.delay)
}

// Subscribe calls fn with every new value, including values loaded from
// changes made by other processes.
func (s *State[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Flush writes a pending value immediately.
func (s *State[T]) Flush() error {
	if !s.debounce.Flush() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Err returns the error from the most recent write, if any.
func (s *State[T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Close flushes pending writes and stops listening for external changes.
func (s *State[T]) Close() error {
	s.stopWatch()
	return s.Flush()
}

func (s *State[T]) publish(v T) {
	s.subMu.Lock()
	fns := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (s *State[T]) write() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.value, "", "  ")
	if err != nil {
		s.lastErr = fmt.Errorf("failed to marshal state %s: %w", s.key, err)
		s.logger.Printf("Error: %v", s.lastErr)
		return s.lastErr
	}

	unlock, err := lockFile(s.fs, s.path+".lock")
	if err != nil {
		s.lastErr = err
		s.logger.Printf("Error: %v", err)
		return err
	}
	defer unlock()

	tmp := filepath.Join(filepath.Dir(s.path), "."+s.key+".json.tmp")
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		s.lastErr = fmt.Errorf("failed to write state %s: %w", s.path, err)
		s.logger.Printf("Error: %v", s.lastErr)
		return s.lastErr
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		s.lastErr = fmt.Errorf("failed to replace state %s: %w", s.path, err)
		s.logger.Printf("Error: %v", s.lastErr)
		return s.lastErr
	}

	s.written = data
	s.lastErr = nil
	return nil
}

// reload picks up a value written by another process.
func (s *State[T]) reload() {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return
	}

	s.mu.Lock()
	if bytes.Equal(data, s.written) {
		s.mu.Unlock()
		return
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		s.mu.Unlock()
		s.logger.Printf("Warning: ignoring unreadable state %s: %v", s.path, err)
		return
	}
	s.value = v
	s.written = data
	s.mu.Unlock()

	s.publish(v)
}
