package cloudsync

import (
	"context"
	"fmt"
	"sort"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// MergeOptions tunes SyncFromCloud.
type MergeOptions struct {
	// KeepExistingFavorites keeps a local isFavorite=true even when the
	// cloud row is not a favourite.
	KeepExistingFavorites bool
}

// MergeResult summarises a pull.
type MergeResult struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	// Ignored counts remote rows that are empty or fail validation.
	Ignored int `json:"ignored"`
	// LocalOnly counts local items absent from the cloud; they are untouched.
	LocalOnly int `json:"localOnly"`
}

// SyncFromCloud pulls every remote row and smart-merges it into the local
// store: missing items are inserted and on conflict the cloud wins for user
// fields and for non-empty metadata.
func (e *Engine) SyncFromCloud(ctx context.Context, opts MergeOptions) (MergeResult, error) {
	var result MergeResult
	err := e.runCycle(ctx, "Pull", true, func(ctx context.Context) error {
		var err error
		result, err = e.pull(ctx, opts)
		return err
	})
	return result, err
}

func (e *Engine) pull(ctx context.Context, opts MergeOptions) (MergeResult, error) {
	var result MergeResult

	libraryID, err := e.ensureLibrary(ctx)
	if err != nil {
		return result, err
	}
	cloud, err := e.adapter.ListItems(ctx, libraryID)
	if err != nil {
		return result, err
	}
	items, err := e.store.AllItems(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read local library: %w", err)
	}

	local := make(map[string]*schema.LibraryItem, len(items))
	for _, item := range items {
		local[item.ID] = item
	}

	seen := make(map[string]bool, len(cloud))
	var changed []*schema.LibraryItem
	for _, r := range cloud {
		seen[r.ID] = true
		if r.IsEmpty() {
			result.Ignored++
			continue
		}

		existing, ok := local[r.ID]
		var merged *schema.LibraryItem
		if ok {
			merged = mergeItem(existing, r, opts)
		} else {
			merged = r.Clone()
			if merged.Title == "" {
				merged.Title = schema.DefaultTitle(merged.MediaType, merged.TMDBID)
			}
			if merged.AddedAt.IsZero() {
				merged.AddedAt = e.now()
			}
			if merged.LastUpdatedAt.IsZero() {
				merged.LastUpdatedAt = merged.AddedAt
			}
		}
		merged.LibraryID = libraryID

		if err := merged.Validate(); err != nil {
			e.logger.Printf("Warning: ignoring remote row %s: %v", r.ID, err)
			result.Ignored++
			continue
		}

		switch {
		case !ok:
			result.Added++
		case sameItem(existing, merged):
			result.Unchanged++
			continue
		default:
			result.Updated++
		}
		changed = append(changed, merged)
	}

	for id := range local {
		if !seen[id] {
			result.LocalOnly++
		}
	}

	if err := e.store.ReplaceItems(ctx, changed); err != nil {
		return result, fmt.Errorf("failed to apply merge: %w", err)
	}
	e.logger.Printf("Pulled %d rows: %d added, %d updated, %d unchanged, %d ignored",
		len(cloud), result.Added, result.Updated, result.Unchanged, result.Ignored)
	return result, nil
}

// mergeItem overlays the cloud row onto the local one.
func mergeItem(local, cloud *schema.LibraryItem, opts MergeOptions) *schema.LibraryItem {
	m := local.Clone()
	c := cloud.Clone()

	m.Status = c.Status
	m.IsFavorite = c.IsFavorite || (opts.KeepExistingFavorites && local.IsFavorite)
	m.UserRating = c.UserRating
	m.Notes = c.Notes

	if c.Title != "" {
		m.Title = c.Title
	}
	if c.PosterPath != "" {
		m.PosterPath = c.PosterPath
	}
	if c.ReleaseDate != "" {
		m.ReleaseDate = c.ReleaseDate
	}
	if len(c.Genres) > 0 {
		m.Genres = c.Genres
	}
	if c.Rating != nil {
		m.Rating = c.Rating
	}
	if c.TotalMinutesRuntime > 0 {
		m.TotalMinutesRuntime = c.TotalMinutesRuntime
	}
	if len(c.Networks) > 0 {
		m.Networks = c.Networks
	}
	if c.Overview != "" {
		m.Overview = c.Overview
	}

	if !c.AddedAt.IsZero() && c.AddedAt.Before(m.AddedAt) {
		m.AddedAt = c.AddedAt
	}
	if !c.LastUpdatedAt.IsZero() {
		m.LastUpdatedAt = c.LastUpdatedAt
	}
	return m
}

func sameItem(a, b *schema.LibraryItem) bool {
	if a.Status != b.Status || a.IsFavorite != b.IsFavorite || a.Notes != b.Notes ||
		a.LibraryID != b.LibraryID || a.Title != b.Title || a.PosterPath != b.PosterPath ||
		a.ReleaseDate != b.ReleaseDate || a.TotalMinutesRuntime != b.TotalMinutesRuntime ||
		a.Overview != b.Overview {
		return false
	}
	if !a.AddedAt.Equal(b.AddedAt) || !a.LastUpdatedAt.Equal(b.LastUpdatedAt) {
		return false
	}
	if !equalIntPtr(a.UserRating, b.UserRating) || !equalFloatPtr(a.Rating, b.Rating) {
		return false
	}
	return equalSlices(a.Genres, b.Genres) && equalSlices(a.Networks, b.Networks)
}

// sameUserState compares the fields a user edits.
func sameUserState(a, b *schema.LibraryItem) bool {
	return a.Status == b.Status && a.IsFavorite == b.IsFavorite &&
		equalIntPtr(a.UserRating, b.UserRating) && a.Notes == b.Notes
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalSlices[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Comparison describes how the local library differs from the cloud.
type Comparison struct {
	IsInSync       bool     `json:"isInSync"`
	CloudItemCount int      `json:"cloudItemCount"`
	LocalItemCount int      `json:"localItemCount"`
	NeedsUpload    []string `json:"needsUpload"`
	NeedsDownload  []string `json:"needsDownload"`
	Conflicts      []string `json:"conflicts"`
}

// CompareWithCloud lists the items that exist on only one side and the items
// whose user state differs. It does not modify either side.
func (e *Engine) CompareWithCloud(ctx context.Context) (Comparison, error) {
	var cmp Comparison
	err := e.runCycle(ctx, "Compare", false, func(ctx context.Context) error {
		libraryID, err := e.ensureLibrary(ctx)
		if err != nil {
			return err
		}
		cloud, err := e.adapter.ListItems(ctx, libraryID)
		if err != nil {
			return err
		}
		items, err := e.store.AllItems(ctx)
		if err != nil {
			return fmt.Errorf("failed to read local library: %w", err)
		}
		cmp = compare(items, cloud)
		return nil
	})
	return cmp, err
}

func compare(local, cloud []*schema.LibraryItem) Comparison {
	cmp := Comparison{
		CloudItemCount: len(cloud),
		LocalItemCount: len(local),
		NeedsUpload:    []string{},
		NeedsDownload:  []string{},
		Conflicts:      []string{},
	}

	remote := make(map[string]*schema.LibraryItem, len(cloud))
	for _, r := range cloud {
		remote[r.ID] = r
	}
	for _, l := range local {
		r, ok := remote[l.ID]
		switch {
		case !ok:
			cmp.NeedsUpload = append(cmp.NeedsUpload, l.ID)
		case !sameUserState(l, r):
			cmp.Conflicts = append(cmp.Conflicts, l.ID)
		}
		delete(remote, l.ID)
	}
	for id := range remote {
		cmp.NeedsDownload = append(cmp.NeedsDownload, id)
	}

	sort.Strings(cmp.NeedsUpload)
	sort.Strings(cmp.NeedsDownload)
	sort.Strings(cmp.Conflicts)
	cmp.IsInSync = len(cmp.NeedsUpload) == 0 && len(cmp.NeedsDownload) == 0 && len(cmp.Conflicts) == 0
	return cmp
}
