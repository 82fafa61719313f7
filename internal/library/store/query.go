package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// ListFilter configures ListItems. Zero values mean "no filter".
type ListFilter struct {
	Status    schema.Status
	Favorites bool
	MediaType schema.MediaType
	Genre     string
	// AddedSince keeps items added at or after this instant.
	AddedSince time.Time
	// Search matches titles case- and accent-insensitively.
	Search string
	Limit  int
	Offset int
}

// ListItems returns the items matching filter, newest first.
func (s *Store) ListItems(ctx context.Context, filter ListFilter) ([]*schema.LibraryItem, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "i.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Favorites {
		conditions = append(conditions, "i.is_favorite = 1")
	}
	if filter.MediaType != "" {
		conditions = append(conditions, "i.media_type = ?")
		args = append(args, string(filter.MediaType))
	}
	if !filter.AddedSince.IsZero() {
		conditions = append(conditions, "i.added_at >= ?")
		args = append(args, formatTime(filter.AddedSince))
	}
	if filter.Search != "" {
		conditions = append(conditions, "i.search_title LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(foldTitle(filter.Search))+"%")
	}
	if filter.Genre != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(i.genres) WHERE json_each.value = ?)")
		args = append(args, filter.Genre)
	}

	query := `SELECT ` + prefixColumns("i.") + ` FROM library_items i`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY i.added_at DESC, i.id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// AllItems returns every item in the library.
func (s *Store) AllItems(ctx context.Context) ([]*schema.LibraryItem, error) {
	return s.ListItems(ctx, ListFilter{})
}

func prefixColumns(prefix string) string {
	cols := strings.Split(itemColumns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// GenreCount is one entry of LibraryStats.TopGenres.
type GenreCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LibraryStats aggregates the library for the profile overview.
type LibraryStats struct {
	All               int          `json:"all"`
	Watching          int          `json:"watching"`
	Completed         int          `json:"completed"`
	WillWatch         int          `json:"willWatch"`
	OnHold            int          `json:"onHold"`
	Dropped           int          `json:"dropped"`
	Favorites         int          `json:"favorites"`
	Movies            int          `json:"movies"`
	TVShows           int          `json:"tvShows"`
	TotalHoursWatched int          `json:"totalHoursWatched"`
	AverageRating     float64      `json:"averageRating"`
	TopGenres         []GenreCount `json:"topGenres"`
}

const maxTopGenres = 6

// Stats computes LibraryStats over every item.
func (s *Store) Stats(ctx context.Context) (LibraryStats, error) {
	var st LibraryStats
	var totalMinutes int
	var avg sql.NullFloat64

	err := s.conn.QueryRowContext(ctx, `
	SELECT
		COUNT(*),
		COALESCE(SUM(status = 'watching'), 0),
		COALESCE(SUM(status = 'completed'), 0),
		COALESCE(SUM(status = 'willWatch'), 0),
		COALESCE(SUM(status = 'onHold'), 0),
		COALESCE(SUM(status = 'dropped'), 0),
		COALESCE(SUM(is_favorite), 0),
		COALESCE(SUM(media_type = 'movie'), 0),
		COALESCE(SUM(media_type = 'tv'), 0),
		COALESCE(SUM(total_minutes_runtime), 0),
		AVG(user_rating)
	FROM library_items
	`).Scan(
		&st.All, &st.Watching, &st.Completed, &st.WillWatch, &st.OnHold, &st.Dropped,
		&st.Favorites, &st.Movies, &st.TVShows, &totalMinutes, &avg,
	)
	if err != nil {
		return LibraryStats{}, fmt.Errorf("failed to compute stats: %w", err)
	}

	st.TotalHoursWatched = int(math.Round(float64(totalMinutes) / 60))
	if avg.Valid {
		st.AverageRating = math.Round(avg.Float64*10) / 10
	}

	rows, err := s.conn.QueryContext(ctx, `
	SELECT json_each.value, COUNT(*)
	FROM library_items, json_each(library_items.genres)
	GROUP BY json_each.value
	`)
	if err != nil {
		return LibraryStats{}, fmt.Errorf("failed to count genres: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g GenreCount
		if err := rows.Scan(&g.Name, &g.Count); err != nil {
			return LibraryStats{}, fmt.Errorf("failed to scan genre count: %w", err)
		}
		st.TopGenres = append(st.TopGenres, g)
	}
	if err := rows.Err(); err != nil {
		return LibraryStats{}, fmt.Errorf("error iterating genres: %w", err)
	}

	sort.SliceStable(st.TopGenres, func(i, j int) bool {
		if st.TopGenres[i].Count != st.TopGenres[j].Count {
			return st.TopGenres[i].Count > st.TopGenres[j].Count
		}
		return st.TopGenres[i].Name < st.TopGenres[j].Name
	})
	if len(st.TopGenres) > maxTopGenres {
		st.TopGenres = st.TopGenres[:maxTopGenres]
	}

	return st, nil
}
