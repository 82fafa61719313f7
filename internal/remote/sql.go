package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// SQLBackend stores the cloud library in two tables of a SQL database,
// normally a Turso/libSQL primary opened with OpenLibSQL. Rows are stored as
// JSON documents next to the columns used for filtering and paging.
type SQLBackend struct {
	db *sql.DB
}

// OpenLibSQL connects to a libSQL server, e.g.
// "libsql://my-db.turso.io?authToken=...". The schema is created if missing.
func OpenLibSQL(ctx context.Context, dsn string) (*SQLBackend, error) {
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	b := NewSQLBackend(db)
	if err := b.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, classify("init", err)
	}
	return b, nil
}

// NewSQLBackend wraps an already opened database. Call InitSchema before use.
func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

// InitSchema creates the remote tables if they don't exist.
func (b *SQLBackend) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS remote_libraries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			average_rating REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS remote_library_items (
			library_id TEXT NOT NULL,
			id TEXT NOT NULL,
			document TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (library_id, id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize remote schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}

// ListItems implements Backend.
func (b *SQLBackend) ListItems(ctx context.Context, libraryID string, limit, offset int) ([]*schema.LibraryItem, error) {
	rows, err := b.db.QueryContext(ctx, `
	SELECT document FROM remote_library_items
	WHERE library_id = ?
	ORDER BY id ASC
	LIMIT ? OFFSET ?
	`, libraryID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote items: %w", err)
	}
	defer rows.Close()

	var items []*schema.LibraryItem
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan remote item: %w", err)
		}
		var item schema.LibraryItem
		if err := json.Unmarshal([]byte(doc), &item); err != nil {
			return nil, fmt.Errorf("failed to decode remote item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote items: %w", err)
	}
	return items, nil
}

// UpsertItem implements Backend.
func (b *SQLBackend) UpsertItem(ctx context.Context, libraryID string, item *schema.LibraryItem) error {
	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode item %s: %w", item.ID, err)
	}
	_, err = b.db.ExecContext(ctx, `
	INSERT INTO remote_library_items (library_id, id, document, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(library_id, id) DO UPDATE SET
		document = excluded.document,
		updated_at = excluded.updated_at
	`, libraryID, item.ID, string(doc), item.LastUpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert remote item %s: %w", item.ID, err)
	}
	return nil
}

// DeleteItem implements Backend.
func (b *SQLBackend) DeleteItem(ctx context.Context, libraryID, id string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM remote_library_items WHERE library_id = ? AND id = ?`, libraryID, id); err != nil {
		return fmt.Errorf("failed to delete remote item %s: %w", id, err)
	}
	return nil
}

// LibraryForUser implements Backend.
func (b *SQLBackend) LibraryForUser(ctx context.Context, userID string) (*schema.Library, error) {
	lib, err := b.getLibrary(ctx, userID)
	if err == nil {
		return lib, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get remote library: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
	INSERT INTO remote_libraries (id, user_id, average_rating, created_at)
	VALUES (?, ?, 0, ?)
	ON CONFLICT(user_id) DO NOTHING
	`, uuid.NewString(), userID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to create remote library: %w", err)
	}

	lib, err = b.getLibrary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get remote library: %w", err)
	}
	return lib, nil
}

func (b *SQLBackend) getLibrary(ctx context.Context, userID string) (*schema.Library, error) {
	var lib schema.Library
	var createdAt string
	err := b.db.QueryRowContext(ctx, `
	SELECT id, user_id, average_rating, created_at FROM remote_libraries WHERE user_id = ?
	`, userID).Scan(&lib.ID, &lib.UserID, &lib.AverageRating, &createdAt)
	if err != nil {
		return nil, err
	}
	lib.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &lib, nil
}

// Ping implements Backend.
func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

var _ Backend = (*SQLBackend)(nil)
