package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// MemoryBackend is an in-memory Backend for tests and offline demos.
// Fail lets tests inject errors per operation. It is safe for concurrent use.
type MemoryBackend struct {
	mu        sync.RWMutex
	libraries map[string]*schema.Library                // userID -> container
	items     map[string]map[string]*schema.LibraryItem // libraryID -> id -> row
	calls     map[string]int

	// Fail, when set, is consulted before every operation ("list", "upsert",
	// "delete", "library", "ping"); a non-nil result is returned as the error.
	Fail func(op string) error
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		libraries: make(map[string]*schema.Library),
		items:     make(map[string]map[string]*schema.LibraryItem),
		calls:     make(map[string]int),
	}
}

func (m *MemoryBackend) enter(op string) error {
	m.mu.Lock()
	m.calls[op]++
	fail := m.Fail
	m.mu.Unlock()

	if fail != nil {
		return fail(op)
	}
	return nil
}

// Calls returns how many times op was invoked.
func (m *MemoryBackend) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// TotalCalls returns the number of operations invoked so far.
func (m *MemoryBackend) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// ListItems implements Backend. Rows are ordered by id.
func (m *MemoryBackend) ListItems(ctx context.Context, libraryID string, limit, offset int) ([]*schema.LibraryItem, error) {
	if err := m.enter("list"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.items[libraryID]
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]*schema.LibraryItem, 0, end-offset)
	for _, id := range ids[offset:end] {
		page = append(page, rows[id].Clone())
	}
	return page, nil
}

// UpsertItem implements Backend.
func (m *MemoryBackend) UpsertItem(ctx context.Context, libraryID string, item *schema.LibraryItem) error {
	if err := m.enter("upsert"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.items[libraryID] == nil {
		m.items[libraryID] = make(map[string]*schema.LibraryItem)
	}
	m.items[libraryID][item.ID] = item.Clone()
	return nil
}

// DeleteItem implements Backend.
func (m *MemoryBackend) DeleteItem(ctx context.Context, libraryID, id string) error {
	if err := m.enter("delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items[libraryID], id)
	return nil
}

// LibraryForUser implements Backend.
func (m *MemoryBackend) LibraryForUser(ctx context.Context, userID string) (*schema.Library, error) {
	if err := m.enter("library"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lib, ok := m.libraries[userID]
	if !ok {
		lib = &schema.Library{ID: uuid.NewString(), UserID: userID}
		m.libraries[userID] = lib
	}
	c := *lib
	return &c, nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	return m.enter("ping")
}

// Put seeds a row directly, bypassing call counting and fault injection.
func (m *MemoryBackend) Put(libraryID string, item *schema.LibraryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[libraryID] == nil {
		m.items[libraryID] = make(map[string]*schema.LibraryItem)
	}
	m.items[libraryID][item.ID] = item.Clone()
}

// Get returns a copy of a stored row, or nil.
func (m *MemoryBackend) Get(libraryID, id string) *schema.LibraryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if item, ok := m.items[libraryID][id]; ok {
		return item.Clone()
	}
	return nil
}

// Len returns the number of rows stored for a library.
func (m *MemoryBackend) Len(libraryID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items[libraryID])
}

// String describes the backend for logs.
func (m *MemoryBackend) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("memory(%d libraries)", len(m.libraries))
}

var _ Backend = (*MemoryBackend)(nil)
