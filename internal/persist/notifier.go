package persist

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Notifier delivers changes made to persisted state by another process.
// Keys are state names as passed to Open.
type Notifier interface {
	OnExternalChange(key string, cb func()) (cancel func())
	Close() error
}

// NopNotifier never reports external changes. It suits single-process use.
type NopNotifier struct{}

// OnExternalChange implements Notifier.
func (NopNotifier) OnExternalChange(string, func()) func() { return func() {} }

// Close implements Notifier.
func (NopNotifier) Close() error { return nil }

var _ Notifier = NopNotifier{}
var _ Notifier = (*FileNotifier)(nil)

// FileNotifier watches a state directory with fsnotify and calls the
// callbacks registered for the file that changed.
type FileNotifier struct {
	watcher *fsnotify.Watcher
	dir     string
	logger  *log.Logger
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	callbacks map[string]map[int]func()
	nextID    int
	closed    bool
}

// NewFileNotifier starts watching dir. The directory is created if needed.
func NewFileNotifier(dir string, logger *log.Logger) (*FileNotifier, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[persist] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch state directory %s: %w", dir, err)
	}

	n := &FileNotifier{
		watcher:   watcher,
		dir:       dir,
		logger:    logger,
		done:      make(chan struct{}),
		callbacks: make(map[string]map[int]func()),
	}
	n.wg.Add(1)
	go n.processEvents()
	return n, nil
}

// OnExternalChange registers cb for changes to the state named key.
func (n *FileNotifier) OnExternalChange(key string, cb func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.callbacks[key] == nil {
		n.callbacks[key] = make(map[int]func())
	}
	id := n.nextID
	n.nextID++
	n.callbacks[key][id] = cb

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.callbacks[key], id)
	}
}

// Close stops watching and waits for the event loop to exit.
func (n *FileNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	err := n.watcher.Close()
	n.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (n *FileNotifier) processEvents() {
	defer n.wg.Done()

	for {
		select {
		case <-n.done:
			return

		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			// State files are replaced by rename, so Create covers most writes.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			key, ok := keyFromPath(event.Name)
			if !ok {
				continue
			}
			n.dispatch(key)

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (n *FileNotifier) dispatch(key string) {
	n.mu.Lock()
	cbs := make([]func(), 0, len(n.callbacks[key]))
	for _, cb := range n.callbacks[key] {
		cbs = append(cbs, cb)
	}
	n.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// keyFromPath maps "<dir>/<key>.json" to key, ignoring temp and lock files.
func keyFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".json") || strings.HasPrefix(base, ".") {
		return "", false
	}
	return strings.TrimSuffix(base, ".json"), true
}
