package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Toggle is an enabled/disabled preference switch.
type Toggle string

const (
	Enabled  Toggle = "enabled"
	Disabled Toggle = "disabled"
)

// On reports whether the toggle is enabled. Unset counts as enabled.
func (t Toggle) On() bool {
	return t != Disabled
}

// Theme is the UI colour scheme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// UserPreferences is the single preferences row kept per user.
type UserPreferences struct {
	UserID                        string `json:"userId" yaml:"userId"`
	SignOutConfirmation           Toggle `json:"signOutConfirmation" yaml:"signOutConfirmation"`
	ClearLibraryConfirmation      Toggle `json:"clearLibraryConfirmation" yaml:"clearLibraryConfirmation"`
	RemoveFromLibraryConfirmation Toggle `json:"removeFromLibraryConfirmation" yaml:"removeFromLibraryConfirmation"`
	Theme                         Theme  `json:"theme" yaml:"theme"`
	Language                      string `json:"language" yaml:"language"`
	EnableAnimations              Toggle `json:"enableAnimations" yaml:"enableAnimations"`
	DefaultMediaStatus            Status `json:"defaultMediaStatus" yaml:"defaultMediaStatus"`
	AutoSync                      bool   `json:"autoSync" yaml:"autoSync"`

	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// DefaultPreferences returns the preferences used when none are stored.
func DefaultPreferences(userID string) UserPreferences {
	return UserPreferences{
		UserID:                        userID,
		SignOutConfirmation:           Enabled,
		ClearLibraryConfirmation:      Enabled,
		RemoveFromLibraryConfirmation: Enabled,
		Theme:                         ThemeSystem,
		Language:                      "en",
		EnableAnimations:              Enabled,
		DefaultMediaStatus:            StatusNone,
		AutoSync:                      true,
	}
}

func validToggle(t Toggle) bool {
	return t == Enabled || t == Disabled
}

// Validate checks the preferences against the user preferences schema.
func (p *UserPreferences) Validate() error {
	const kind = "user preferences"

	if p.UserID == "" {
		return invalid(kind, "userId", "is required")
	}
	if len(p.UserID) > MaxIDLength {
		return invalid(kind, "userId", "must be %d characters or less", MaxIDLength)
	}
	toggles := []struct {
		field string
		value Toggle
	}{
		{"signOutConfirmation", p.SignOutConfirmation},
		{"clearLibraryConfirmation", p.ClearLibraryConfirmation},
		{"removeFromLibraryConfirmation", p.RemoveFromLibraryConfirmation},
		{"enableAnimations", p.EnableAnimations},
	}
	for _, tg := range toggles {
		if !validToggle(tg.value) {
			return invalid(kind, tg.field, "must be enabled or disabled (got %q)", tg.value)
		}
	}
	switch p.Theme {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return invalid(kind, "theme", "must be light, dark or system (got %q)", p.Theme)
	}
	if len(p.Language) > 10 {
		return invalid(kind, "language", "must be 10 characters or less")
	}
	if !p.DefaultMediaStatus.IsValid() {
		return invalid(kind, "defaultMediaStatus", "unknown value %q", p.DefaultMediaStatus)
	}
	return nil
}

// Set assigns a preference by its JSON field name. Values are given as
// strings the way they arrive from the command line.
func (p *UserPreferences) Set(field, value string) error {
	switch field {
	case "signOutConfirmation":
		p.SignOutConfirmation = Toggle(value)
	case "clearLibraryConfirmation":
		p.ClearLibraryConfirmation = Toggle(value)
	case "removeFromLibraryConfirmation":
		p.RemoveFromLibraryConfirmation = Toggle(value)
	case "enableAnimations":
		p.EnableAnimations = Toggle(value)
	case "theme":
		p.Theme = Theme(value)
	case "language":
		p.Language = value
	case "defaultMediaStatus":
		p.DefaultMediaStatus = Status(value)
	case "autoSync":
		switch value {
		case "true":
			p.AutoSync = true
		case "false":
			p.AutoSync = false
		default:
			return invalid("user preferences", field, "must be true or false (got %q)", value)
		}
	default:
		return fmt.Errorf("unknown preference %q", field)
	}
	return p.Validate()
}

// Library is the per-user container that library items belong to.
type Library struct {
	ID            string    `json:"id" yaml:"id"`
	UserID        string    `json:"userId" yaml:"userId"`
	AverageRating float64   `json:"averageRating" yaml:"averageRating"`
	CreatedAt     time.Time `json:"createdAt" yaml:"createdAt"`
}

// Validate checks the container against the library schema.
func (l *Library) Validate() error {
	const kind = "library"

	if l.ID == "" {
		return invalid(kind, "id", "is required")
	}
	if len(l.ID) > MaxIDLength {
		return invalid(kind, "id", "must be %d characters or less", MaxIDLength)
	}
	if l.AverageRating < 0 || l.AverageRating > 10 {
		return invalid(kind, "averageRating", "must be between 0 and 10 (got %g)", l.AverageRating)
	}
	return nil
}

// Media is a cached metadata record for one movie or TV show.
type Media struct {
	ID                  string    `json:"id"`
	MediaType           MediaType `json:"media_type"`
	TMDBID              int       `json:"tmdbId"`
	Title               string    `json:"title"`
	Overview            string    `json:"overview,omitempty"`
	ReleaseDate         string    `json:"releaseDate,omitempty"`
	Genres              []string  `json:"genres,omitempty"`
	Rating              *float64  `json:"rating,omitempty"`
	PosterPath          string    `json:"posterPath,omitempty"`
	TotalMinutesRuntime int       `json:"totalMinutesRuntime,omitempty"`
	Networks            []int     `json:"networks,omitempty"`
	CachedAt            time.Time `json:"cachedAt"`
}

// Validate checks the cache row against the media schema.
func (m *Media) Validate() error {
	const kind = "media"

	if !m.MediaType.IsValid() {
		return invalid(kind, "media_type", "must be movie or tv (got %q)", m.MediaType)
	}
	if m.TMDBID < 1 || m.TMDBID > MaxTMDBID {
		return invalid(kind, "tmdbId", "must be between 1 and %d (got %d)", MaxTMDBID, m.TMDBID)
	}
	if m.ID != ItemID(m.MediaType, m.TMDBID) {
		return invalid(kind, "id", "must be %q (got %q)", ItemID(m.MediaType, m.TMDBID), m.ID)
	}
	if m.Title == "" {
		return invalid(kind, "title", "is required")
	}
	if len(m.Title) > MaxTitleLength {
		return invalid(kind, "title", "must be %d characters or less", MaxTitleLength)
	}
	if len(m.Overview) > MaxOverviewLength {
		return invalid(kind, "overview", "must be %d characters or less", MaxOverviewLength)
	}
	if m.Rating != nil && (*m.Rating < 0 || *m.Rating > 10) {
		return invalid(kind, "rating", "must be between 0 and 10 (got %g)", *m.Rating)
	}
	return nil
}

// OperationType is the kind of change recorded in the offline queue.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// SyncOperation is a change queued while the cloud was unreachable.
// Operations are coalesced per item key: only the latest one survives.
type SyncOperation struct {
	ID       string          `json:"id"`
	Type     OperationType   `json:"type"`
	Key      string          `json:"key"`
	Data     json.RawMessage `json:"data,omitempty"`
	QueuedAt time.Time       `json:"timestamp"`
}

// Validate checks the operation before it is queued.
func (o *SyncOperation) Validate() error {
	const kind = "sync operation"

	if o.ID == "" {
		return invalid(kind, "id", "is required")
	}
	switch o.Type {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return invalid(kind, "type", "must be create, update or delete (got %q)", o.Type)
	}
	if _, _, err := ParseItemID(o.Key); err != nil {
		return invalid(kind, "key", "%v", err)
	}
	if o.Type != OpDelete && len(o.Data) == 0 {
		return invalid(kind, "data", "is required for %s", o.Type)
	}
	return nil
}

// Item decodes the item carried by a create or update operation.
func (o *SyncOperation) Item() (*LibraryItem, error) {
	var item LibraryItem
	if err := json.Unmarshal(o.Data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode queued item %s: %w", o.Key, err)
	}
	return &item, nil
}
