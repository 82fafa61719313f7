package metadata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zawalid/watchfolio/internal/library/schema"
	"github.com/zawalid/watchfolio/internal/library/store"
)

// DefaultTTL is how long a cached media row is served without refreshing.
const DefaultTTL = 7 * 24 * time.Hour

// ErrNotFound is returned when no source knows the requested media.
var ErrNotFound = errors.New("media not found")

// Enricher resolves a media id to its metadata.
type Enricher interface {
	Resolve(ctx context.Context, mediaType schema.MediaType, tmdbID int) (*Media, error)
}

// Cache is the persistent media cache, normally *store.Store.
type Cache interface {
	GetMedia(ctx context.Context, id string) (*schema.Media, error)
	PutMedia(ctx context.Context, m *schema.Media) error
}

// CachedEnricher serves media from the local cache and falls back to an
// upstream Enricher for misses and stale rows. A stale row is still returned
// when the upstream fails.
type CachedEnricher struct {
	cache    Cache
	upstream Enricher
	ttl      time.Duration
	now      func() time.Time
	logger   *log.Logger
}

// NewCachedEnricher creates a CachedEnricher. upstream may be nil, in which
// case only cached rows are served.
func NewCachedEnricher(cache Cache, upstream Enricher, logger *log.Logger) *CachedEnricher {
	if logger == nil {
		logger = log.New(os.Stderr, "[metadata] ", log.LstdFlags)
	}
	return &CachedEnricher{
		cache:    cache,
		upstream: upstream,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   logger,
	}
}

// SetTTL changes the freshness window.
func (e *CachedEnricher) SetTTL(ttl time.Duration) {
	e.ttl = ttl
}

// Resolve implements Enricher.
func (e *CachedEnricher) Resolve(ctx context.Context, mediaType schema.MediaType, tmdbID int) (*Media, error) {
	key := schema.ItemID(mediaType, tmdbID)

	cached, err := e.cache.GetMedia(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to read media cache: %w", err)
	}
	if cached != nil && e.now().Sub(cached.CachedAt) < e.ttl {
		return FromRecord(cached), nil
	}

	if e.upstream == nil {
		if cached != nil {
			return FromRecord(cached), nil
		}
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	m, err := e.upstream.Resolve(ctx, mediaType, tmdbID)
	if err != nil {
		if cached != nil {
			e.logger.Printf("Upstream lookup of %s failed, serving stale cache: %v", key, err)
			return FromRecord(cached), nil
		}
		return nil, err
	}

	if err := e.Remember(ctx, m); err != nil {
		e.logger.Printf("Warning: failed to cache %s: %v", key, err)
	}
	return m, nil
}

// Remember stores m in the cache.
func (e *CachedEnricher) Remember(ctx context.Context, m *Media) error {
	rec := m.ToRecord()
	rec.CachedAt = e.now()
	return e.cache.PutMedia(ctx, rec)
}

// Static is an in-memory Enricher keyed by library key. It is safe for
// concurrent use.
type Static struct {
	mu    sync.RWMutex
	media map[string]*Media
}

// NewStatic creates a Static enricher seeded with media.
func NewStatic(media ...*Media) *Static {
	s := &Static{media: make(map[string]*Media)}
	for _, m := range media {
		s.Add(m)
	}
	return s
}

// Add registers m.
func (s *Static) Add(m *Media) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[m.Key()] = m
}

// Resolve implements Enricher.
func (s *Static) Resolve(_ context.Context, mediaType schema.MediaType, tmdbID int) (*Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := schema.ItemID(mediaType, tmdbID)
	if m, ok := s.media[key]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
}

var (
	_ Enricher = (*CachedEnricher)(nil)
	_ Enricher = (*Static)(nil)
	_ Cache    = (*store.Store)(nil)
)
