package schema

import "time"

// ItemPatch is a partial update of a library item. Nil fields are left
// untouched; slices replace the stored value wholesale when non-nil.
type ItemPatch struct {
	MediaType MediaType
	TMDBID    int

	Status          *Status
	IsFavorite      *bool
	UserRating      *int
	ClearUserRating bool // removes the rating; takes precedence over UserRating
	Notes           *string
	LibraryID       *string

	// Timestamps are normally stamped by Apply; imports may carry their own.
	AddedAt       *time.Time
	LastUpdatedAt *time.Time

	Title               *string
	PosterPath          *string
	ReleaseDate         *string
	Genres              []string
	Rating              *float64
	TotalMinutesRuntime *int
	Networks            []int
	Overview            *string
}

// Key returns the normalised library key the patch targets.
func (p *ItemPatch) Key() string {
	return ItemID(p.MediaType, p.TMDBID)
}

// Apply merges the patch onto existing (which may be nil for a new item) and
// returns the resulting item. existing is not modified.
func (p *ItemPatch) Apply(existing *LibraryItem, now time.Time) LibraryItem {
	var item LibraryItem
	if existing != nil {
		item = *existing.Clone()
	} else {
		item = LibraryItem{
			ID:        p.Key(),
			TMDBID:    p.TMDBID,
			MediaType: p.MediaType,
			Status:    StatusNone,
			AddedAt:   now,
		}
	}

	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.IsFavorite != nil {
		item.IsFavorite = *p.IsFavorite
	}
	if p.ClearUserRating {
		item.UserRating = nil
	} else if p.UserRating != nil {
		r := *p.UserRating
		item.UserRating = &r
	}
	if p.Notes != nil {
		item.Notes = *p.Notes
	}
	if p.LibraryID != nil {
		item.LibraryID = *p.LibraryID
	}
	if p.Title != nil {
		item.Title = *p.Title
	}
	if p.PosterPath != nil {
		item.PosterPath = *p.PosterPath
	}
	if p.ReleaseDate != nil {
		item.ReleaseDate = *p.ReleaseDate
	}
	if p.Genres != nil {
		item.Genres = append([]string(nil), p.Genres...)
	}
	if p.Rating != nil {
		r := *p.Rating
		item.Rating = &r
	}
	if p.TotalMinutesRuntime != nil {
		item.TotalMinutesRuntime = *p.TotalMinutesRuntime
	}
	if p.Networks != nil {
		item.Networks = append([]int(nil), p.Networks...)
	}
	if p.Overview != nil {
		item.Overview = *p.Overview
	}

	if p.AddedAt != nil && existing == nil {
		item.AddedAt = *p.AddedAt
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	item.LastUpdatedAt = now
	if p.LastUpdatedAt != nil {
		item.LastUpdatedAt = *p.LastUpdatedAt
	}

	if item.Status == "" {
		item.Status = StatusNone
	}
	if item.Title == "" {
		item.Title = DefaultTitle(item.MediaType, item.TMDBID)
	}
	return item
}

// PatchFromItem builds a patch that sets every field of item.
func PatchFromItem(item *LibraryItem) ItemPatch {
	c := item.Clone()
	p := ItemPatch{
		MediaType:           c.MediaType,
		TMDBID:              c.TMDBID,
		Status:              &c.Status,
		IsFavorite:          &c.IsFavorite,
		UserRating:          c.UserRating,
		ClearUserRating:     c.UserRating == nil,
		Notes:               &c.Notes,
		LibraryID:           &c.LibraryID,
		Title:               &c.Title,
		PosterPath:          &c.PosterPath,
		ReleaseDate:         &c.ReleaseDate,
		Genres:              c.Genres,
		Rating:              c.Rating,
		TotalMinutesRuntime: &c.TotalMinutesRuntime,
		Networks:            c.Networks,
		Overview:            &c.Overview,
	}
	if !c.AddedAt.IsZero() {
		p.AddedAt = &c.AddedAt
	}
	if !c.LastUpdatedAt.IsZero() {
		p.LastUpdatedAt = &c.LastUpdatedAt
	}
	return p
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}
