package dashboard

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zawalid/watchfolio/internal/cloudsync"
	"github.com/zawalid/watchfolio/internal/library/store"
)

// StatusPublisher is implemented by *cloudsync.Engine.
type StatusPublisher interface {
	Subscribe(fn func(cloudsync.Status)) (unsubscribe func())
}

// ChangeSource is implemented by *store.Store.
type ChangeSource interface {
	OnChange(fn func(store.ChangeEvent)) (remove func())
}

// Handler turns engine and store events into dashboard messages.
type Handler struct {
	server *Server
	stats  StatsSource
	logger *log.Logger

	mu     sync.Mutex
	unsubs []func()
}

// NewHandler creates a handler broadcasting on server. stats may be nil.
func NewHandler(server *Server, stats StatsSource, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{
		server: server,
		stats:  stats,
		logger: logger,
	}
}

// Watch subscribes to status and library changes. Either source may be nil.
func (h *Handler) Watch(status StatusPublisher, changes ChangeSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status != nil {
		h.unsubs = append(h.unsubs, status.Subscribe(h.OnStatus))
	}
	if changes != nil {
		h.unsubs = append(h.unsubs, changes.OnChange(h.OnLibraryChange))
	}
}

// Close removes every subscription made by Watch.
func (h *Handler) Close() {
	h.mu.Lock()
	unsubs := h.unsubs
	h.unsubs = nil
	h.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
}

// OnStatus broadcasts a status change.
func (h *Handler) OnStatus(st cloudsync.Status) {
	msg, err := NewMessage(MessageTypeStatus, st)
	if err != nil {
		h.logger.Printf("Failed to encode status: %v", err)
		return
	}
	h.server.Broadcast(msg)
}

// OnLibraryChange broadcasts a local write followed by fresh statistics.
func (h *Handler) OnLibraryChange(ev store.ChangeEvent) {
	msg, err := NewMessage(MessageTypeLibraryChange, LibraryChangeData{
		Action: string(ev.Kind),
		IDs:    ev.IDs,
	})
	if err != nil {
		h.logger.Printf("Failed to encode library change: %v", err)
		return
	}
	h.server.Broadcast(msg)
	h.broadcastStats()
}

func (h *Handler) broadcastStats() {
	if h.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := h.stats.Stats(ctx)
	if err != nil {
		h.logger.Printf("Failed to compute stats: %v", err)
		return
	}
	msg, err := NewMessage(MessageTypeStats, stats)
	if err != nil {
		h.logger.Printf("Failed to encode stats: %v", err)
		return
	}
	h.server.Broadcast(msg)
}
