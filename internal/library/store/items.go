package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mozillazg/go-unidecode"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const itemColumns = `id, tmdb_id, media_type, status, is_favorite, user_rating, notes,
	added_at, last_updated_at, library_id, title, poster_path, release_date,
	genres, rating, total_minutes_runtime, networks, overview`

// BulkResult summarises a bulk write.
type BulkResult struct {
	Applied int     // rows inserted or updated
	Deleted int     // rows removed because the merge left them empty
	Skipped int     // rows rejected by validation
	Errors  []error // one entry per skipped row
}

// GetItem returns the item with the given id or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, id string) (*schema.LibraryItem, error) {
	return getItem(ctx, s.conn, id)
}

func getItem(ctx context.Context, q querier, id string) (*schema.LibraryItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM library_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

// AddOrUpdateItem merge-patches the item addressed by patch, creating it if
// absent. When the merged row carries no user state it is deleted instead and
// (nil, nil) is returned. Validation failures return a *schema.ValidationError
// and leave the store unchanged.
func (s *Store) AddOrUpdateItem(ctx context.Context, patch schema.ItemPatch) (*schema.LibraryItem, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, kind, err := s.mergePatch(ctx, tx, patch)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if kind != "" {
		s.notify(ChangeEvent{Kind: kind, IDs: []string{patch.Key()}})
	}
	return item, nil
}

// mergePatch applies one patch inside tx. The returned kind is empty when
// nothing was written.
func (s *Store) mergePatch(ctx context.Context, tx *sql.Tx, patch schema.ItemPatch) (*schema.LibraryItem, ChangeKind, error) {
	if err := validateKey(patch); err != nil {
		return nil, "", err
	}

	existing, err := getItem(ctx, tx, patch.Key())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}

	merged := patch.Apply(existing, s.now())
	if merged.IsEmpty() {
		if existing == nil {
			return nil, "", nil
		}
		if err := deleteItem(ctx, tx, merged.ID); err != nil {
			return nil, "", err
		}
		return nil, ChangeDelete, nil
	}

	if err := merged.Validate(); err != nil {
		return nil, "", err
	}
	if err := upsertItem(ctx, tx, &merged); err != nil {
		return nil, "", err
	}

	if existing == nil {
		return &merged, ChangeCreate, nil
	}
	return &merged, ChangeUpdate, nil
}

func validateKey(p schema.ItemPatch) error {
	if !p.MediaType.IsValid() {
		return &schema.ValidationError{Kind: "library item", Field: "media_type", Msg: fmt.Sprintf("must be movie or tv (got %q)", p.MediaType)}
	}
	if p.TMDBID < 1 || p.TMDBID > schema.MaxTMDBID {
		return &schema.ValidationError{Kind: "library item", Field: "tmdbId", Msg: fmt.Sprintf("must be between 1 and %d (got %d)", schema.MaxTMDBID, p.TMDBID)}
	}
	return nil
}

// DeleteItem removes an item. Deleting a missing item is not an error.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM library_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify(ChangeEvent{Kind: ChangeDelete, IDs: []string{id}})
	}
	return nil
}

func deleteItem(ctx context.Context, q querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM library_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

// BulkAddOrUpdate merge-patches every entry in one transaction. Entries that
// fail validation are skipped and reported in the result; readers never
// observe a partially applied batch.
func (s *Store) BulkAddOrUpdate(ctx context.Context, patches []schema.ItemPatch) (BulkResult, error) {
	var result BulkResult
	if len(patches) == 0 {
		return result, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var touched []string
	for _, p := range patches {
		_, kind, err := s.mergePatch(ctx, tx, p)
		if err != nil {
			var verr *schema.ValidationError
			if !errors.As(err, &verr) {
				return BulkResult{}, err
			}
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", p.Key(), err))
			continue
		}
		switch kind {
		case ChangeDelete:
			result.Deleted++
			touched = append(touched, p.Key())
		case ChangeCreate, ChangeUpdate:
			result.Applied++
			touched = append(touched, p.Key())
		}
	}

	if err := tx.Commit(); err != nil {
		return BulkResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if len(touched) > 0 {
		s.notify(ChangeEvent{Kind: ChangeBulk, IDs: touched})
	}
	return result, nil
}

// ReplaceItems writes complete rows in one transaction. It is reserved for the
// sync engine's pull-merge and emits a ChangeMerge event.
func (s *Store) ReplaceItems(ctx context.Context, items []*schema.LibraryItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if err := upsertItem(ctx, tx, item); err != nil {
			return err
		}
		ids = append(ids, item.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notify(ChangeEvent{Kind: ChangeMerge, IDs: ids})
	return nil
}

// CountItems returns the number of items in the library.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM library_items").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

func upsertItem(ctx context.Context, q querier, item *schema.LibraryItem) error {
	genres, err := json.Marshal(nonNilStrings(item.Genres))
	if err != nil {
		return fmt.Errorf("failed to marshal genres: %w", err)
	}
	networks, err := json.Marshal(nonNilInts(item.Networks))
	if err != nil {
		return fmt.Errorf("failed to marshal networks: %w", err)
	}

	query := `
	INSERT INTO library_items (` + itemColumns + `, search_title)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		tmdb_id = excluded.tmdb_id,
		media_type = excluded.media_type,
		status = excluded.status,
		is_favorite = excluded.is_favorite,
		user_rating = excluded.user_rating,
		notes = excluded.notes,
		added_at = excluded.added_at,
		last_updated_at = excluded.last_updated_at,
		library_id = excluded.library_id,
		title = excluded.title,
		poster_path = excluded.poster_path,
		release_date = excluded.release_date,
		genres = excluded.genres,
		rating = excluded.rating,
		total_minutes_runtime = excluded.total_minutes_runtime,
		networks = excluded.networks,
		overview = excluded.overview,
		search_title = excluded.search_title
	`

	var userRating sql.NullInt64
	if item.UserRating != nil {
		userRating = sql.NullInt64{Int64: int64(*item.UserRating), Valid: true}
	}
	var rating sql.NullFloat64
	if item.Rating != nil {
		rating = sql.NullFloat64{Float64: *item.Rating, Valid: true}
	}

	_, err = q.ExecContext(ctx, query,
		item.ID,
		item.TMDBID,
		string(item.MediaType),
		string(item.Status),
		boolToInt(item.IsFavorite),
		userRating,
		item.Notes,
		formatTime(item.AddedAt),
		formatTime(item.LastUpdatedAt),
		item.LibraryID,
		item.Title,
		item.PosterPath,
		item.ReleaseDate,
		string(genres),
		rating,
		item.TotalMinutesRuntime,
		string(networks),
		item.Overview,
		foldTitle(item.Title),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*schema.LibraryItem, error) {
	var item schema.LibraryItem
	var mediaType, status, addedAt, updatedAt, genres, networks string
	var favorite int
	var userRating sql.NullInt64
	var rating sql.NullFloat64

	err := row.Scan(
		&item.ID,
		&item.TMDBID,
		&mediaType,
		&status,
		&favorite,
		&userRating,
		&item.Notes,
		&addedAt,
		&updatedAt,
		&item.LibraryID,
		&item.Title,
		&item.PosterPath,
		&item.ReleaseDate,
		&genres,
		&rating,
		&item.TotalMinutesRuntime,
		&networks,
		&item.Overview,
	)
	if err != nil {
		return nil, err
	}

	item.MediaType = schema.MediaType(mediaType)
	item.Status = schema.Status(status)
	item.IsFavorite = favorite != 0
	item.AddedAt = parseTime(addedAt)
	item.LastUpdatedAt = parseTime(updatedAt)
	if userRating.Valid {
		r := int(userRating.Int64)
		item.UserRating = &r
	}
	if rating.Valid {
		r := rating.Float64
		item.Rating = &r
	}
	if err := decodeJSONList(genres, &item.Genres); err != nil {
		return nil, fmt.Errorf("failed to unmarshal genres: %w", err)
	}
	if err := decodeJSONList(networks, &item.Networks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal networks: %w", err)
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*schema.LibraryItem, error) {
	var items []*schema.LibraryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

// decodeJSONList leaves dst nil for empty arrays so that round-tripped items
// compare equal to freshly built ones.
func decodeJSONList[T any](raw string, dst *[]T) error {
	if raw == "" || raw == "null" || raw == "[]" {
		*dst = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

// foldTitle produces the accent-insensitive lower-case form used by search.
func foldTitle(title string) string {
	return strings.ToLower(unidecode.Unidecode(title))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
