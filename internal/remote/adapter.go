// Package remote talks to the cloud copy of a user's library.
//
// A Backend is a table-like store of library rows keyed by library id. The
// Adapter wraps a Backend with pagination and error classification: every
// failure it returns is a *NetworkError, *AuthError or *QuotaError, so the
// sync engine can decide what to do without knowing the transport.
//
// The adapter holds no state between calls.
package remote

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// DefaultPageSize is the number of rows fetched per ListItems page.
const DefaultPageSize = 100

// Backend is the cloud storage collaborator.
//
// ListItems must return rows in a stable order so that limit/offset pages do
// not overlap. DeleteItem must not fail when the row does not exist.
type Backend interface {
	ListItems(ctx context.Context, libraryID string, limit, offset int) ([]*schema.LibraryItem, error)
	UpsertItem(ctx context.Context, libraryID string, item *schema.LibraryItem) error
	DeleteItem(ctx context.Context, libraryID, id string) error
	// LibraryForUser returns the user's library container, creating it on first use.
	LibraryForUser(ctx context.Context, userID string) (*schema.Library, error)
	Ping(ctx context.Context) error
}

// Adapter exposes library operations against a Backend.
type Adapter struct {
	backend  Backend
	pageSize int
	logger   *log.Logger
}

// NewAdapter wraps backend. If logger is nil, a default logger writing to
// stderr is used.
func NewAdapter(backend Backend, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Adapter{
		backend:  backend,
		pageSize: DefaultPageSize,
		logger:   logger,
	}
}

// WithPageSize returns a copy of the adapter using n rows per page.
func (a *Adapter) WithPageSize(n int) *Adapter {
	c := *a
	if n > 0 {
		c.pageSize = n
	}
	return &c
}

// ListItems fetches every row of the library, page by page, until a short
// page signals the end.
func (a *Adapter) ListItems(ctx context.Context, libraryID string) ([]*schema.LibraryItem, error) {
	var all []*schema.LibraryItem
	for offset := 0; ; offset += a.pageSize {
		page, err := a.backend.ListItems(ctx, libraryID, a.pageSize, offset)
		if err != nil {
			return nil, classify("list", err)
		}
		all = append(all, page...)
		if len(page) < a.pageSize {
			break
		}
	}
	return all, nil
}

// UpsertItem creates or replaces one row.
func (a *Adapter) UpsertItem(ctx context.Context, libraryID string, item *schema.LibraryItem) error {
	if err := a.backend.UpsertItem(ctx, libraryID, item); err != nil {
		return classify("upsert", err)
	}
	return nil
}

// DeleteItem removes one row. Missing rows are not an error.
func (a *Adapter) DeleteItem(ctx context.Context, libraryID, id string) error {
	if err := a.backend.DeleteItem(ctx, libraryID, id); err != nil {
		return classify("delete", err)
	}
	return nil
}

// ClearLibrary deletes every row of the library. Rows are deleted one page at
// a time until the library is empty; a failure part-way leaves the remaining
// rows in place and returns the classified error. A page made only of rows
// already deleted once means the backend cannot remove them and fails with
// ErrRowsRemain.
func (a *Adapter) ClearLibrary(ctx context.Context, libraryID string) (deleted int, err error) {
	tried := make(map[string]bool)
	for {
		page, err := a.backend.ListItems(ctx, libraryID, a.pageSize, 0)
		if err != nil {
			return deleted, classify("clear", err)
		}
		if len(page) == 0 {
			break
		}
		progress := false
		for _, item := range page {
			if tried[item.ID] {
				continue
			}
			tried[item.ID] = true
			progress = true
			if err := a.backend.DeleteItem(ctx, libraryID, item.ID); err != nil {
				return deleted, classify("clear", err)
			}
			deleted++
		}
		if !progress {
			return deleted, classify("clear", fmt.Errorf("library %s: %d rows: %w", libraryID, len(page), ErrRowsRemain))
		}
	}
	a.logger.Printf("Cleared library %s (%d rows)", libraryID, deleted)
	return deleted, nil
}

// LibraryForUser returns the user's container, creating it on first use.
func (a *Adapter) LibraryForUser(ctx context.Context, userID string) (*schema.Library, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	lib, err := a.backend.LibraryForUser(ctx, userID)
	if err != nil {
		return nil, classify("library", err)
	}
	return lib, nil
}

// Ping checks that the backend is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.backend.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}
