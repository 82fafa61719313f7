package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MediaType distinguishes movies from TV shows.
type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

// IsValid reports whether m is a known media type.
func (m MediaType) IsValid() bool {
	return m == MediaMovie || m == MediaTV
}

// Status is the watch status of a library item.
type Status string

const (
	StatusNone      Status = "none"
	StatusWillWatch Status = "willWatch"
	StatusWatching  Status = "watching"
	StatusOnHold    Status = "onHold"
	StatusDropped   Status = "dropped"
	StatusCompleted Status = "completed"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusNone,
	StatusWillWatch,
	StatusWatching,
	StatusOnHold,
	StatusDropped,
	StatusCompleted,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Limits enforced by LibraryItem.Validate.
const (
	MaxIDLength          = 100
	MaxTMDBID            = 999999999
	MaxTitleLength       = 255
	MaxPosterPathLength  = 200
	MaxReleaseDateLength = 50
	MaxGenreLength       = 50
	MaxNotesLength       = 2000
	MaxOverviewLength    = 1000
	MaxRuntimeMinutes    = 99999
	MaxNetworkID         = 2147483647
	MinUserRating        = 1
	MaxUserRating        = 10
)

// LibraryItem is a user's tracking record for one movie or TV show.
type LibraryItem struct {
	// ===== Identity =====
	ID        string    `json:"id" yaml:"id"`
	TMDBID    int       `json:"tmdbId" yaml:"tmdbId"`
	MediaType MediaType `json:"media_type" yaml:"media_type"`

	// ===== Tracking state =====
	Status     Status `json:"status" yaml:"status"`
	IsFavorite bool   `json:"isFavorite" yaml:"isFavorite"`
	UserRating *int   `json:"userRating,omitempty" yaml:"userRating,omitempty"` // 1-10
	Notes      string `json:"notes,omitempty" yaml:"notes,omitempty"`

	// ===== Timestamps =====
	AddedAt       time.Time `json:"addedAt" yaml:"addedAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt" yaml:"lastUpdatedAt"`

	LibraryID string `json:"libraryId,omitempty" yaml:"libraryId,omitempty"`

	// ===== Denormalised metadata snapshot =====
	Title               string   `json:"title" yaml:"title"`
	PosterPath          string   `json:"posterPath,omitempty" yaml:"posterPath,omitempty"`
	ReleaseDate         string   `json:"releaseDate,omitempty" yaml:"releaseDate,omitempty"`
	Genres              []string `json:"genres,omitempty" yaml:"genres,omitempty"`
	Rating              *float64 `json:"rating,omitempty" yaml:"rating,omitempty"`
	TotalMinutesRuntime int      `json:"totalMinutesRuntime,omitempty" yaml:"totalMinutesRuntime,omitempty"`
	Networks            []int    `json:"networks,omitempty" yaml:"networks,omitempty"`
	Overview            string   `json:"overview,omitempty" yaml:"overview,omitempty"`
}

// ItemID builds the normalised library key for a media type and TMDB id.
func ItemID(mediaType MediaType, tmdbID int) string {
	return fmt.Sprintf("%s-%d", mediaType, tmdbID)
}

// ParseItemID splits a normalised key such as "tv-1396" into its parts.
func ParseItemID(id string) (MediaType, int, error) {
	typ, num, ok := strings.Cut(id, "-")
	if !ok {
		return "", 0, fmt.Errorf("invalid item id %q: expected {mediaType}-{tmdbId}", id)
	}
	mediaType := MediaType(typ)
	if !mediaType.IsValid() {
		return "", 0, fmt.Errorf("invalid item id %q: unknown media type %q", id, typ)
	}
	tmdbID, err := strconv.Atoi(num)
	if err != nil || tmdbID <= 0 {
		return "", 0, fmt.Errorf("invalid item id %q: tmdb id must be a positive integer", id)
	}
	return mediaType, tmdbID, nil
}

// DefaultTitle is used when an item is created without a metadata snapshot.
func DefaultTitle(mediaType MediaType, tmdbID int) string {
	return fmt.Sprintf("%s %d", mediaType, tmdbID)
}

// IsEmpty reports whether the item carries no user state at all: no status,
// no favourite flag and no rating. Empty items must be deleted, not stored.
func (i *LibraryItem) IsEmpty() bool {
	return (i.Status == "" || i.Status == StatusNone) && !i.IsFavorite && i.UserRating == nil
}

// Validate checks the item against the library item schema.
func (i *LibraryItem) Validate() error {
	const kind = "library item"

	if i.ID == "" {
		return invalid(kind, "id", "is required")
	}
	if len(i.ID) > MaxIDLength {
		return invalid(kind, "id", "must be %d characters or less (got %d)", MaxIDLength, len(i.ID))
	}
	if !i.MediaType.IsValid() {
		return invalid(kind, "media_type", "must be movie or tv (got %q)", i.MediaType)
	}
	if i.TMDBID < 1 || i.TMDBID > MaxTMDBID {
		return invalid(kind, "tmdbId", "must be between 1 and %d (got %d)", MaxTMDBID, i.TMDBID)
	}
	if want := ItemID(i.MediaType, i.TMDBID); i.ID != want {
		return invalid(kind, "id", "must be %q for this media (got %q)", want, i.ID)
	}
	if !i.Status.IsValid() {
		return invalid(kind, "status", "unknown value %q", i.Status)
	}
	if i.UserRating != nil && (*i.UserRating < MinUserRating || *i.UserRating > MaxUserRating) {
		return invalid(kind, "userRating", "must be between %d and %d (got %d)", MinUserRating, MaxUserRating, *i.UserRating)
	}
	if len(i.Notes) > MaxNotesLength {
		return invalid(kind, "notes", "must be %d characters or less (got %d)", MaxNotesLength, len(i.Notes))
	}
	if i.AddedAt.IsZero() {
		return invalid(kind, "addedAt", "is required")
	}
	if len(i.LibraryID) > MaxIDLength {
		return invalid(kind, "libraryId", "must be %d characters or less", MaxIDLength)
	}
	if i.Title == "" {
		return invalid(kind, "title", "is required")
	}
	if len(i.Title) > MaxTitleLength {
		return invalid(kind, "title", "must be %d characters or less (got %d)", MaxTitleLength, len(i.Title))
	}
	if len(i.PosterPath) > MaxPosterPathLength {
		return invalid(kind, "posterPath", "must be %d characters or less", MaxPosterPathLength)
	}
	if len(i.ReleaseDate) > MaxReleaseDateLength {
		return invalid(kind, "releaseDate", "must be %d characters or less", MaxReleaseDateLength)
	}
	for _, g := range i.Genres {
		if len(g) > MaxGenreLength {
			return invalid(kind, "genres", "entry %q exceeds %d characters", g, MaxGenreLength)
		}
	}
	if i.Rating != nil && (*i.Rating < 0 || *i.Rating > 10) {
		return invalid(kind, "rating", "must be between 0 and 10 (got %g)", *i.Rating)
	}
	if i.TotalMinutesRuntime < 0 || i.TotalMinutesRuntime > MaxRuntimeMinutes {
		return invalid(kind, "totalMinutesRuntime", "must be between 0 and %d (got %d)", MaxRuntimeMinutes, i.TotalMinutesRuntime)
	}
	for _, n := range i.Networks {
		if n < 0 || n > MaxNetworkID {
			return invalid(kind, "networks", "entry %d out of range", n)
		}
	}
	if len(i.Overview) > MaxOverviewLength {
		return invalid(kind, "overview", "must be %d characters or less", MaxOverviewLength)
	}
	return nil
}

// Clone returns a deep copy of the item.
func (i *LibraryItem) Clone() *LibraryItem {
	c := *i
	if i.UserRating != nil {
		r := *i.UserRating
		c.UserRating = &r
	}
	if i.Rating != nil {
		r := *i.Rating
		c.Rating = &r
	}
	if i.Genres != nil {
		c.Genres = append([]string(nil), i.Genres...)
	}
	if i.Networks != nil {
		c.Networks = append([]int(nil), i.Networks...)
	}
	return &c
}
