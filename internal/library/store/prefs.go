package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// GetPreferences returns the stored preferences for userID, or the defaults
// when none have been saved yet.
func (s *Store) GetPreferences(ctx context.Context, userID string) (schema.UserPreferences, error) {
	var p schema.UserPreferences
	var signOut, clearLib, removeItem, theme, animations, defStatus, updatedAt string
	var autoSync int

	err := s.conn.QueryRowContext(ctx, `
	SELECT user_id, sign_out_confirmation, clear_library_confirmation,
	       remove_from_library_confirmation, theme, language, enable_animations,
	       default_media_status, auto_sync, updated_at
	FROM user_preferences
	WHERE user_id = ?
	`, userID).Scan(
		&p.UserID, &signOut, &clearLib, &removeItem, &theme, &p.Language,
		&animations, &defStatus, &autoSync, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.DefaultPreferences(userID), nil
	}
	if err != nil {
		return schema.UserPreferences{}, fmt.Errorf("failed to get preferences: %w", err)
	}

	p.SignOutConfirmation = schema.Toggle(signOut)
	p.ClearLibraryConfirmation = schema.Toggle(clearLib)
	p.RemoveFromLibraryConfirmation = schema.Toggle(removeItem)
	p.Theme = schema.Theme(theme)
	p.EnableAnimations = schema.Toggle(animations)
	p.DefaultMediaStatus = schema.Status(defStatus)
	p.AutoSync = autoSync != 0
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// SavePreferences validates and stores the preferences row.
func (s *Store) SavePreferences(ctx context.Context, p schema.UserPreferences) error {
	if err := p.Validate(); err != nil {
		return err
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO user_preferences (
		user_id, sign_out_confirmation, clear_library_confirmation,
		remove_from_library_confirmation, theme, language, enable_animations,
		default_media_status, auto_sync, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		sign_out_confirmation = excluded.sign_out_confirmation,
		clear_library_confirmation = excluded.clear_library_confirmation,
		remove_from_library_confirmation = excluded.remove_from_library_confirmation,
		theme = excluded.theme,
		language = excluded.language,
		enable_animations = excluded.enable_animations,
		default_media_status = excluded.default_media_status,
		auto_sync = excluded.auto_sync,
		updated_at = excluded.updated_at
	`,
		p.UserID,
		string(p.SignOutConfirmation),
		string(p.ClearLibraryConfirmation),
		string(p.RemoveFromLibraryConfirmation),
		string(p.Theme),
		p.Language,
		string(p.EnableAnimations),
		string(p.DefaultMediaStatus),
		boolToInt(p.AutoSync),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// EnsureLibrary returns the library container for userID, creating it on
// first use.
func (s *Store) EnsureLibrary(ctx context.Context, userID string) (*schema.Library, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	lib, err := s.getLibrary(ctx, userID)
	if err == nil {
		return lib, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO libraries (id, user_id, average_rating, created_at)
	VALUES (?, ?, 0, ?)
	ON CONFLICT(user_id) DO NOTHING
	`, uuid.NewString(), userID, formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create library: %w", err)
	}

	return s.getLibrary(ctx, userID)
}

// SetLibrary stores a container as-is. It is used to adopt the cloud's
// library id for a user.
func (s *Store) SetLibrary(ctx context.Context, lib schema.Library) error {
	if err := lib.Validate(); err != nil {
		return err
	}
	created := lib.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO libraries (id, user_id, average_rating, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		id = excluded.id,
		average_rating = excluded.average_rating
	`, lib.ID, lib.UserID, lib.AverageRating, formatTime(created))
	if err != nil {
		return fmt.Errorf("failed to save library: %w", err)
	}
	return nil
}

func (s *Store) getLibrary(ctx context.Context, userID string) (*schema.Library, error) {
	var lib schema.Library
	var createdAt string
	err := s.conn.QueryRowContext(ctx, `
	SELECT id, user_id, average_rating, created_at FROM libraries WHERE user_id = ?
	`, userID).Scan(&lib.ID, &lib.UserID, &lib.AverageRating, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("library for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}
	lib.CreatedAt = parseTime(createdAt)
	return &lib, nil
}

// UpdateAverageRating stores the recomputed average rating of a container.
func (s *Store) UpdateAverageRating(ctx context.Context, libraryID string, avg float64) error {
	lib := schema.Library{ID: libraryID, AverageRating: avg}
	if err := lib.Validate(); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, `UPDATE libraries SET average_rating = ? WHERE id = ?`, avg, libraryID); err != nil {
		return fmt.Errorf("failed to update average rating: %w", err)
	}
	return nil
}

// PutMedia stores or refreshes a metadata cache row.
func (s *Store) PutMedia(ctx context.Context, m *schema.Media) error {
	if m.CachedAt.IsZero() {
		m.CachedAt = s.now()
	}
	if err := m.Validate(); err != nil {
		return err
	}

	genres, err := json.Marshal(nonNilStrings(m.Genres))
	if err != nil {
		return fmt.Errorf("failed to marshal genres: %w", err)
	}
	networks, err := json.Marshal(nonNilInts(m.Networks))
	if err != nil {
		return fmt.Errorf("failed to marshal networks: %w", err)
	}
	var rating sql.NullFloat64
	if m.Rating != nil {
		rating = sql.NullFloat64{Float64: *m.Rating, Valid: true}
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO tmdb_media (
		id, media_type, tmdb_id, title, overview, release_date, genres,
		rating, poster_path, total_minutes_runtime, networks, cached_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		overview = excluded.overview,
		release_date = excluded.release_date,
		genres = excluded.genres,
		rating = excluded.rating,
		poster_path = excluded.poster_path,
		total_minutes_runtime = excluded.total_minutes_runtime,
		networks = excluded.networks,
		cached_at = excluded.cached_at
	`,
		m.ID, string(m.MediaType), m.TMDBID, m.Title, m.Overview, m.ReleaseDate,
		string(genres), rating, m.PosterPath, m.TotalMinutesRuntime, string(networks),
		formatTime(m.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to cache media %s: %w", m.ID, err)
	}
	return nil
}

// GetMedia returns a cached metadata row or ErrNotFound.
func (s *Store) GetMedia(ctx context.Context, id string) (*schema.Media, error) {
	var m schema.Media
	var mediaType, genres, networks, cachedAt string
	var rating sql.NullFloat64

	err := s.conn.QueryRowContext(ctx, `
	SELECT id, media_type, tmdb_id, title, overview, release_date, genres,
	       rating, poster_path, total_minutes_runtime, networks, cached_at
	FROM tmdb_media WHERE id = ?
	`, id).Scan(
		&m.ID, &mediaType, &m.TMDBID, &m.Title, &m.Overview, &m.ReleaseDate, &genres,
		&rating, &m.PosterPath, &m.TotalMinutesRuntime, &networks, &cachedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media %s: %w", id, err)
	}

	m.MediaType = schema.MediaType(mediaType)
	m.CachedAt = parseTime(cachedAt)
	if rating.Valid {
		r := rating.Float64
		m.Rating = &r
	}
	if err := decodeJSONList(genres, &m.Genres); err != nil {
		return nil, fmt.Errorf("failed to unmarshal genres: %w", err)
	}
	if err := decodeJSONList(networks, &m.Networks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal networks: %w", err)
	}
	return &m, nil
}
