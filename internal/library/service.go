// Package library is the mutation API used by the CLI and the dashboard.
//
// Every write goes through the Local Store, which enforces the empty-row
// invariant and notifies the sync engine. The service adds the parts that
// need more than one collaborator: metadata snapshots, the user's default
// status, remote removals and clearing the library on both sides.
package library

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/zawalid/watchfolio/internal/importer"
	"github.com/zawalid/watchfolio/internal/library/schema"
	"github.com/zawalid/watchfolio/internal/library/store"
	"github.com/zawalid/watchfolio/internal/metadata"
)

var (
	// ErrInvalidID is returned for library keys that are not "{mediaType}-{tmdbId}".
	ErrInvalidID = errors.New("invalid library item id")

	// ErrCloudUnavailable is returned by Clear when the user is signed in but
	// the cloud library cannot be reached.
	ErrCloudUnavailable = errors.New("cloud library unavailable")
)

// Syncer is the part of the sync engine the service drives directly.
// A nil Syncer means the library is local only.
type Syncer interface {
	CanSync() bool
	IsAuthenticated() bool
	SyncItem(ctx context.Context, item *schema.LibraryItem) error
	RemoveFromCloud(ctx context.Context, mediaType schema.MediaType, tmdbID int) error
	ClearRemote(ctx context.Context) (int, error)
	AutoSyncEnabled() bool
	SetAutoSync(enabled bool)
}

// Mutation is one user action on a library item. Media, when set, is the
// TMDB document the action was taken on; its snapshot is stored with the item.
type Mutation struct {
	Item  schema.ItemPatch
	Media *metadata.Media
}

// Config configures a Service.
type Config struct {
	UserID string
	Logger *log.Logger
	Now    func() time.Time
}

// Service implements the library mutation API.
type Service struct {
	store  *store.Store
	sync   Syncer
	userID string
	logger *log.Logger
	now    func() time.Time

	removeListener func()
}

// New creates a service for cfg.UserID. syncer may be nil. The stored
// autoSync preference is pushed to the syncer.
func New(ctx context.Context, st *store.Store, syncer Syncer, cfg Config) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[library] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Service{
		store:  st,
		sync:   syncer,
		userID: cfg.UserID,
		logger: cfg.Logger,
		now:    cfg.Now,
	}

	if syncer != nil {
		prefs, err := st.GetPreferences(ctx, cfg.UserID)
		if err != nil {
			return nil, err
		}
		if syncer.AutoSyncEnabled() != prefs.AutoSync {
			syncer.SetAutoSync(prefs.AutoSync)
		}
	}

	s.removeListener = st.OnChange(s.handleChange)
	return s, nil
}

// Close detaches the service from the store.
func (s *Service) Close() {
	s.removeListener()
}

// UserID returns the user the service acts for.
func (s *Service) UserID() string {
	return s.userID
}

// AddOrUpdate merge-patches one item. It returns nil when the result carried
// no user state and the row was deleted (or never created).
func (s *Service) AddOrUpdate(ctx context.Context, m Mutation) (*schema.LibraryItem, error) {
	patch := m.Item
	if m.Media != nil {
		if patch.MediaType == "" {
			patch.MediaType = m.Media.MediaType
		}
		if patch.TMDBID == 0 {
			patch.TMDBID = m.Media.ID
		}
		if m.Media.Key() != patch.Key() {
			return nil, fmt.Errorf("media %s does not match item %s", m.Media.Key(), patch.Key())
		}
		m.Media.Snapshot().ApplyTo(&patch)
		if err := s.store.PutMedia(ctx, m.Media.ToRecord()); err != nil {
			s.logger.Printf("Warning: failed to cache metadata for %s: %v", patch.Key(), err)
		}
	}

	existing, err := s.store.GetItem(ctx, patch.Key())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if existing == nil && patch.Status == nil && addsState(patch) {
		prefs, err := s.store.GetPreferences(ctx, s.userID)
		if err != nil {
			return nil, err
		}
		if prefs.DefaultMediaStatus != "" && prefs.DefaultMediaStatus != schema.StatusNone {
			patch.Status = schema.Ptr(prefs.DefaultMediaStatus)
		}
	}

	item, err := s.store.AddOrUpdateItem(ctx, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", patch.Key(), err)
	}

	switch {
	case item == nil && existing != nil:
		s.logger.Printf("Removed %s (no status, favorite or rating left)", patch.Key())
		s.removeRemote(ctx, patch.MediaType, patch.TMDBID)
	case item != nil && immediate(patch):
		s.pushNow(ctx, item)
	}
	return item, nil
}

// immediate reports whether a patch changes a field the user expects to see
// on other devices right away.
func immediate(p schema.ItemPatch) bool {
	return p.UserRating != nil || p.ClearUserRating || p.IsFavorite != nil
}

func (s *Service) pushNow(ctx context.Context, item *schema.LibraryItem) {
	if s.sync == nil || !s.sync.CanSync() {
		return
	}
	if err := s.sync.SyncItem(ctx, item); err != nil {
		s.logger.Printf("Warning: failed to push %s: %v", item.ID, err)
	}
}

// addsState reports whether a patch for a new item is more than a clear.
// Only such patches pick up the default status.
func addsState(p schema.ItemPatch) bool {
	if p.IsFavorite != nil && *p.IsFavorite {
		return true
	}
	if p.UserRating != nil && !p.ClearUserRating {
		return true
	}
	return p.IsFavorite == nil && !p.ClearUserRating
}

// Remove deletes an item unconditionally. Removing a missing item succeeds.
func (s *Service) Remove(ctx context.Context, id string) error {
	mediaType, tmdbID, err := schema.ParseItemID(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.removeRemote(ctx, mediaType, tmdbID)
	return nil
}

func (s *Service) removeRemote(ctx context.Context, mediaType schema.MediaType, tmdbID int) {
	if s.sync == nil {
		return
	}
	if err := s.sync.RemoveFromCloud(ctx, mediaType, tmdbID); err != nil {
		s.logger.Printf("Warning: failed to remove %s from cloud: %v", schema.ItemID(mediaType, tmdbID), err)
	}
}

// Import merges parsed items into the library in one transaction. Empty
// values in an item leave the stored value untouched; rows that fail
// validation are counted as skipped.
func (s *Service) Import(ctx context.Context, items []*schema.LibraryItem) (store.BulkResult, error) {
	patches := make([]schema.ItemPatch, 0, len(items))
	for _, item := range items {
		patches = append(patches, importPatch(item))
	}

	result, err := s.store.BulkAddOrUpdate(ctx, patches)
	if err != nil {
		return result, fmt.Errorf("failed to import items: %w", err)
	}
	s.logger.Printf("Imported %d items (%d removed, %d skipped)", result.Applied, result.Deleted, result.Skipped)
	return result, nil
}

func importPatch(item *schema.LibraryItem) schema.ItemPatch {
	c := item.Clone()
	p := schema.ItemPatch{
		MediaType:  c.MediaType,
		TMDBID:     c.TMDBID,
		UserRating: c.UserRating,
		Genres:     c.Genres,
		Rating:     c.Rating,
		Networks:   c.Networks,
	}
	if c.Status != "" && c.Status != schema.StatusNone {
		p.Status = &c.Status
	}
	if c.IsFavorite {
		p.IsFavorite = &c.IsFavorite
	}
	strs := []struct {
		src string
		dst **string
	}{
		{c.Notes, &p.Notes},
		{c.Title, &p.Title},
		{c.PosterPath, &p.PosterPath},
		{c.ReleaseDate, &p.ReleaseDate},
		{c.Overview, &p.Overview},
	}
	for _, f := range strs {
		if f.src != "" {
			*f.dst = schema.Ptr(f.src)
		}
	}
	if c.TotalMinutesRuntime > 0 {
		p.TotalMinutesRuntime = &c.TotalMinutesRuntime
	}
	if !c.AddedAt.IsZero() {
		p.AddedAt = &c.AddedAt
	}
	if !c.LastUpdatedAt.IsZero() {
		p.LastUpdatedAt = &c.LastUpdatedAt
	}
	return p
}

// Clear empties the library. A signed-in user's cloud rows are cleared first;
// when the cloud is unreachable or the remote clear fails the local library
// is left intact, so a later pull cannot bring the items back. Preferences
// survive the clear.
func (s *Service) Clear(ctx context.Context) error {
	if s.sync != nil && s.sync.IsAuthenticated() {
		if !s.sync.CanSync() {
			return fmt.Errorf("failed to clear cloud library: %w", ErrCloudUnavailable)
		}
		n, err := s.sync.ClearRemote(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear cloud library (%d rows removed): %w", n, err)
		}
		s.logger.Printf("Cleared %d cloud rows", n)
	}

	prefs, err := s.store.GetPreferences(ctx, s.userID)
	if err != nil {
		return err
	}
	if err := s.store.Recreate(ctx); err != nil {
		return fmt.Errorf("failed to clear local library: %w", err)
	}
	if err := s.store.SavePreferences(ctx, prefs); err != nil {
		return fmt.Errorf("failed to restore preferences: %w", err)
	}
	return nil
}

// Get returns one item by key.
func (s *Service) Get(ctx context.Context, id string) (*schema.LibraryItem, error) {
	if _, _, err := schema.ParseItemID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return s.store.GetItem(ctx, id)
}

// List returns the items matching filter.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*schema.LibraryItem, error) {
	return s.store.ListItems(ctx, filter)
}

// Stats aggregates the library.
func (s *Service) Stats(ctx context.Context) (store.LibraryStats, error) {
	return s.store.Stats(ctx)
}

// Export serialises the whole library.
func (s *Service) Export(ctx context.Context, format importer.Format) ([]byte, error) {
	items, err := s.store.AllItems(ctx)
	if err != nil {
		return nil, err
	}
	return importer.Export(items, format)
}

// Library returns the user's library container.
func (s *Service) Library(ctx context.Context) (*schema.Library, error) {
	return s.store.EnsureLibrary(ctx, s.userID)
}

// handleChange keeps the container's average rating current.
func (s *Service) handleChange(ev store.ChangeEvent) {
	if ev.Kind == store.ChangeRecreate {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.refreshAverageRating(ctx); err != nil {
		s.logger.Printf("Warning: failed to refresh average rating: %v", err)
	}
}

func (s *Service) refreshAverageRating(ctx context.Context) error {
	lib, err := s.store.EnsureLibrary(ctx, s.userID)
	if err != nil {
		return err
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return err
	}
	if lib.AverageRating == stats.AverageRating {
		return nil
	}
	return s.store.UpdateAverageRating(ctx, lib.ID, stats.AverageRating)
}
