package metadata

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/zawalid/watchfolio/internal/library/schema"
	"github.com/zawalid/watchfolio/internal/library/store"
)

type countingSource struct {
	*Static
	calls int
	err   error
}

func (c *countingSource) Resolve(ctx context.Context, mt schema.MediaType, id int) (*Media, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.Static.Resolve(ctx, mt, id)
}

func newTestEnricher(t *testing.T, upstream Enricher) (*CachedEnricher, *time.Time) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := NewCachedEnricher(s, upstream, log.New(io.Discard, "", 0))
	e.now = func() time.Time { return clock }
	return e, &clock
}

func TestCachedEnricher_CachesUpstream(t *testing.T) {
	src := &countingSource{Static: NewStatic(&Media{ID: 603, MediaType: schema.MediaMovie, Title: "The Matrix"})}
	e, _ := newTestEnricher(t, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := e.Resolve(ctx, schema.MediaMovie, 603)
		if err != nil {
			t.Fatalf("Resolve() failed: %v", err)
		}
		if m.Snapshot().Title != "The Matrix" {
			t.Errorf("Title = %q", m.Snapshot().Title)
		}
	}
	if src.calls != 1 {
		t.Errorf("upstream called %d times, want 1", src.calls)
	}
}

func TestCachedEnricher_StaleRefreshAndFallback(t *testing.T) {
	src := &countingSource{Static: NewStatic(&Media{ID: 603, MediaType: schema.MediaMovie, Title: "The Matrix"})}
	e, clock := newTestEnricher(t, src)
	ctx := context.Background()

	if _, err := e.Resolve(ctx, schema.MediaMovie, 603); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	*clock = clock.Add(DefaultTTL + time.Hour)
	if _, err := e.Resolve(ctx, schema.MediaMovie, 603); err != nil {
		t.Fatalf("Resolve() stale failed: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("stale row should refresh, upstream calls = %d", src.calls)
	}

	*clock = clock.Add(DefaultTTL + time.Hour)
	src.err = errors.New("tmdb down")
	m, err := e.Resolve(ctx, schema.MediaMovie, 603)
	if err != nil {
		t.Fatalf("stale cache should be served on upstream failure: %v", err)
	}
	if m.Title != "The Matrix" {
		t.Errorf("Title = %q", m.Title)
	}
}

func TestCachedEnricher_Miss(t *testing.T) {
	e, _ := newTestEnricher(t, nil)
	_, err := e.Resolve(context.Background(), schema.MediaTV, 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotFound", err)
	}

	if err := e.Remember(context.Background(), &Media{ID: 1, MediaType: schema.MediaTV, Name: "Show"}); err != nil {
		t.Fatalf("Remember() failed: %v", err)
	}
	m, err := e.Resolve(context.Background(), schema.MediaTV, 1)
	if err != nil {
		t.Fatalf("Resolve() after Remember failed: %v", err)
	}
	if m.Snapshot().Title != "Show" {
		t.Errorf("Title = %q", m.Snapshot().Title)
	}
}
