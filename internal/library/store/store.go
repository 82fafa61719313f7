// Package store is the local-first library database.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3) opened in WAL
// mode so several processes can share one file: SQLite serialises writers and
// readers keep reading during a write. It is the single source of truth for
// the library; the sync engine only writes to it when applying a pull-merge.
//
// Tables:
//   - library_items: one row per tracked movie or show, keyed "{type}-{tmdbId}"
//   - user_preferences: one row per user
//   - libraries: per-user container with the cached average rating
//   - tmdb_media: metadata cache used to build item snapshots
//   - sync_queue: durable offline queue, coalesced per item key
//   - schema_meta: schema version bookkeeping
//
// Every committed write notifies the listeners registered with OnChange.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"golang.org/x/mod/semver"
)

// SchemaVersion is the version of the table layout created by InitSchema.
// Databases written by a different major version are refused.
const SchemaVersion = "v1.1.0"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSchemaVersion is returned when the database was created by an
	// incompatible schema version.
	ErrSchemaVersion = errors.New("incompatible schema version")
)

// ChangeKind describes what a committed write did.
type ChangeKind string

const (
	ChangeCreate   ChangeKind = "create"
	ChangeUpdate   ChangeKind = "update"
	ChangeDelete   ChangeKind = "delete"
	ChangeBulk     ChangeKind = "bulk"
	ChangeMerge    ChangeKind = "merge"
	ChangeRecreate ChangeKind = "recreate"
)

// ChangeEvent is delivered to listeners after a write commits.
type ChangeEvent struct {
	Kind ChangeKind
	IDs  []string
}

// Store wraps the SQLite connection with library-specific queries.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
	now    func() time.Time

	mu        sync.RWMutex
	listeners map[int]func(ChangeEvent)
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for warnings. Defaults to stderr.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the library database at path and makes
// sure the schema exists.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open("~/.watchfolio/library.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:      conn,
		path:      path,
		now:       time.Now,
		listeners: make(map[int]func(ChangeEvent)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := s.conn.Exec(p.stmt); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS libraries (
	id TEXT PRIMARY KEY CHECK (length(id) <= 100),
	user_id TEXT NOT NULL UNIQUE,
	average_rating REAL NOT NULL DEFAULT 0 CHECK (average_rating BETWEEN 0 AND 10),
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS library_items (
	id TEXT PRIMARY KEY CHECK (length(id) <= 100),
	tmdb_id INTEGER NOT NULL CHECK (tmdb_id BETWEEN 1 AND 999999999),
	media_type TEXT NOT NULL CHECK (media_type IN ('movie', 'tv')),
	status TEXT NOT NULL DEFAULT 'none',
	is_favorite INTEGER NOT NULL DEFAULT 0,
	user_rating INTEGER CHECK (user_rating IS NULL OR user_rating BETWEEN 1 AND 10),
	notes TEXT NOT NULL DEFAULT '',
	added_at TEXT NOT NULL,
	last_updated_at TEXT NOT NULL,
	library_id TEXT NOT NULL DEFAULT '',

	-- Metadata snapshot
	title TEXT NOT NULL,
	search_title TEXT NOT NULL DEFAULT '',
	poster_path TEXT NOT NULL DEFAULT '',
	release_date TEXT NOT NULL DEFAULT '',
	genres TEXT NOT NULL DEFAULT '[]',  -- JSON array
	rating REAL,
	total_minutes_runtime INTEGER NOT NULL DEFAULT 0,
	networks TEXT NOT NULL DEFAULT '[]',  -- JSON array
	overview TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_preferences (
	user_id TEXT PRIMARY KEY,
	sign_out_confirmation TEXT NOT NULL,
	clear_library_confirmation TEXT NOT NULL,
	remove_from_library_confirmation TEXT NOT NULL,
	theme TEXT NOT NULL,
	language TEXT NOT NULL,
	enable_animations TEXT NOT NULL,
	default_media_status TEXT NOT NULL,
	auto_sync INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tmdb_media (
	id TEXT PRIMARY KEY,
	media_type TEXT NOT NULL,
	tmdb_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	overview TEXT NOT NULL DEFAULT '',
	release_date TEXT NOT NULL DEFAULT '',
	genres TEXT NOT NULL DEFAULT '[]',
	rating REAL,
	poster_path TEXT NOT NULL DEFAULT '',
	total_minutes_runtime INTEGER NOT NULL DEFAULT 0,
	networks TEXT NOT NULL DEFAULT '[]',
	cached_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
	key TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	type TEXT NOT NULL,
	data TEXT,
	queued_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_status ON library_items(status);
CREATE INDEX IF NOT EXISTS idx_items_media_type ON library_items(media_type);
CREATE INDEX IF NOT EXISTS idx_items_added ON library_items(added_at);
CREATE INDEX IF NOT EXISTS idx_items_favorite ON library_items(is_favorite) WHERE is_favorite = 1;
CREATE INDEX IF NOT EXISTS idx_queue_queued ON sync_queue(queued_at);
`

var tables = []string{"library_items", "user_preferences", "libraries", "tmdb_media", "sync_queue", "schema_meta"}

// InitSchema creates the tables if they don't exist and checks the stored
// schema version. It is idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var stored string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'version'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stored = ""
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if stored != "" {
		if !semver.IsValid(stored) || semver.Major(stored) != semver.Major(SchemaVersion) {
			return fmt.Errorf("%w: database is %s, this build uses %s", ErrSchemaVersion, stored, SchemaVersion)
		}
		if semver.Compare(stored, SchemaVersion) >= 0 {
			return nil
		}
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO schema_meta (key, value) VALUES ('version', ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// Recreate drops every table and creates an empty schema. It is used when
// the user clears the library.
func (s *Store) Recreate(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if err := s.InitSchema(ctx); err != nil {
		return err
	}

	s.notify(ChangeEvent{Kind: ChangeRecreate})
	return nil
}

// OnChange registers fn to be called after every committed write. Listeners
// run synchronously on the writing goroutine and must not block. The
// returned function removes the listener.
func (s *Store) OnChange(fn func(ChangeEvent)) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(ev ChangeEvent) {
	s.mu.RLock()
	fns := make([]func(ChangeEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
