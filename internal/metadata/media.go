// Package metadata turns TMDB media documents into the snapshot stored on
// library items and caches them locally.
package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// Genre is a TMDB genre reference.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Network is a TMDB network reference.
type Network struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// Media is a movie or TV show document as returned by TMDB. Movies carry
// Title/ReleaseDate/Runtime, shows carry Name/FirstAirDate/EpisodeRunTime.
// Search results carry GenreIDs instead of Genres.
type Media struct {
	ID             int              `json:"id"`
	MediaType      schema.MediaType `json:"media_type"`
	Title          string           `json:"title,omitempty"`
	Name           string           `json:"name,omitempty"`
	Overview       string           `json:"overview,omitempty"`
	PosterPath     string           `json:"poster_path,omitempty"`
	ReleaseDate    string           `json:"release_date,omitempty"`
	FirstAirDate   string           `json:"first_air_date,omitempty"`
	Genres         []Genre          `json:"genres,omitempty"`
	GenreIDs       []int            `json:"genre_ids,omitempty"`
	VoteAverage    float64          `json:"vote_average,omitempty"`
	Runtime        int              `json:"runtime,omitempty"`
	EpisodeRunTime []int            `json:"episode_run_time,omitempty"`
	Networks       []Network        `json:"networks,omitempty"`
}

// Decode reads a single media document.
func Decode(r io.Reader) (*Media, error) {
	var m Media
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode media: %w", err)
	}
	if !m.MediaType.IsValid() {
		// Detail endpoints omit media_type; shows are recognisable by name.
		if m.Name != "" && m.Title == "" {
			m.MediaType = schema.MediaTV
		} else {
			m.MediaType = schema.MediaMovie
		}
	}
	if m.ID <= 0 {
		return nil, fmt.Errorf("media document has no id")
	}
	return &m, nil
}

// Key returns the library key of the media.
func (m *Media) Key() string {
	return schema.ItemID(m.MediaType, m.ID)
}

// Snapshot is the denormalised metadata copied onto a library item.
type Snapshot struct {
	Title               string
	PosterPath          string
	ReleaseDate         string
	Genres              []string
	Rating              *float64
	TotalMinutesRuntime int
	Networks            []int
	Overview            string
}

// Snapshot extracts the library snapshot from m. A nil m yields an empty
// snapshot.
func (m *Media) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	s := Snapshot{
		Title:       truncate(firstNonEmpty(m.Title, m.Name), schema.MaxTitleLength),
		PosterPath:  m.PosterPath,
		ReleaseDate: firstNonEmpty(m.ReleaseDate, m.FirstAirDate),
		Rating:      Rating(m.VoteAverage),
		Overview:    truncate(m.Overview, schema.MaxOverviewLength),
	}

	if len(m.Genres) > 0 {
		for _, g := range m.Genres {
			s.Genres = append(s.Genres, g.Name)
		}
	} else {
		for _, id := range m.GenreIDs {
			if name, ok := GenreName(id); ok {
				s.Genres = append(s.Genres, name)
			}
		}
	}

	switch {
	case m.Runtime > 0:
		s.TotalMinutesRuntime = m.Runtime
	case len(m.EpisodeRunTime) > 0:
		s.TotalMinutesRuntime = m.EpisodeRunTime[0]
	}
	if s.TotalMinutesRuntime > schema.MaxRuntimeMinutes {
		s.TotalMinutesRuntime = schema.MaxRuntimeMinutes
	}

	for _, n := range m.Networks {
		s.Networks = append(s.Networks, n.ID)
	}
	return s
}

// ApplyTo copies the non-empty snapshot fields onto p. Fields the snapshot
// lacks leave whatever the item already stores.
func (s Snapshot) ApplyTo(p *schema.ItemPatch) {
	if s.Title != "" {
		p.Title = schema.Ptr(s.Title)
	}
	if s.PosterPath != "" {
		p.PosterPath = schema.Ptr(s.PosterPath)
	}
	if s.ReleaseDate != "" {
		p.ReleaseDate = schema.Ptr(s.ReleaseDate)
	}
	if len(s.Genres) > 0 {
		p.Genres = s.Genres
	}
	if s.Rating != nil {
		p.Rating = s.Rating
	}
	if s.TotalMinutesRuntime > 0 {
		p.TotalMinutesRuntime = schema.Ptr(s.TotalMinutesRuntime)
	}
	if len(s.Networks) > 0 {
		p.Networks = s.Networks
	}
	if s.Overview != "" {
		p.Overview = schema.Ptr(s.Overview)
	}
}

// Rating converts a TMDB vote average into the stored rating: whole numbers
// are kept, anything else is rounded to one decimal. Zero means unrated.
func Rating(voteAverage float64) *float64 {
	if voteAverage <= 0 {
		return nil
	}
	r := voteAverage
	if r != math.Trunc(r) {
		r = math.Round(r*10) / 10
	}
	if r > 10 {
		r = 10
	}
	return &r
}

// ToRecord converts m into a cache row.
func (m *Media) ToRecord() *schema.Media {
	s := m.Snapshot()
	title := s.Title
	if title == "" {
		title = schema.DefaultTitle(m.MediaType, m.ID)
	}
	return &schema.Media{
		ID:                  m.Key(),
		MediaType:           m.MediaType,
		TMDBID:              m.ID,
		Title:               title,
		Overview:            s.Overview,
		ReleaseDate:         s.ReleaseDate,
		Genres:              s.Genres,
		Rating:              s.Rating,
		PosterPath:          s.PosterPath,
		TotalMinutesRuntime: s.TotalMinutesRuntime,
		Networks:            s.Networks,
	}
}

// FromRecord rebuilds a Media from a cache row.
func FromRecord(r *schema.Media) *Media {
	m := &Media{
		ID:          r.TMDBID,
		MediaType:   r.MediaType,
		Overview:    r.Overview,
		PosterPath:  r.PosterPath,
		Runtime:     r.TotalMinutesRuntime,
		ReleaseDate: r.ReleaseDate,
		Title:       r.Title,
	}
	if r.Rating != nil {
		m.VoteAverage = *r.Rating
	}
	for _, g := range r.Genres {
		m.Genres = append(m.Genres, Genre{Name: g})
	}
	for _, n := range r.Networks {
		m.Networks = append(m.Networks, Network{ID: n})
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
