package app

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zawalid/watchfolio/internal/config"
	"github.com/zawalid/watchfolio/internal/library"
	"github.com/zawalid/watchfolio/internal/library/schema"
	"github.com/zawalid/watchfolio/internal/remote"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return config.DefaultConfig(t.TempDir())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.UserID = ""

	_, err := New(context.Background(), cfg, Options{Quiet: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_id")

	_, err = New(context.Background(), nil, Options{})
	require.Error(t, err)
}

func TestNew_LocalOnly(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, Options{Quiet: true})
	require.NoError(t, err)

	assert.False(t, a.HasRemote())
	assert.False(t, a.Connect(ctx, time.Second))
	assert.False(t, a.Engine.CanSync())

	item, err := a.Library.AddOrUpdate(ctx, library.Mutation{Item: schema.ItemPatch{
		MediaType:  schema.MediaMovie,
		TMDBID:     603,
		IsFavorite: schema.Ptr(true),
	}})
	require.NoError(t, err)
	assert.Equal(t, "movie-603", item.ID)
	a.Logger("test").Printf("closing")
	require.NoError(t, a.Close())

	_, err = os.Stat(cfg.DatabasePath())
	require.NoError(t, err)
	_, err = os.Stat(cfg.LogFile)
	require.NoError(t, err, "log file should be created")
}

func TestClose_FlushesPendingPush(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Sync.DebounceInterval = config.Duration{Duration: time.Hour}
	mem := remote.NewMemoryBackend()

	a, err := New(ctx, cfg, Options{Quiet: true, Backend: mem})
	require.NoError(t, err)
	require.True(t, a.HasRemote())
	require.True(t, a.Connect(ctx, time.Second))
	require.True(t, a.Engine.CanSync())

	_, err = a.Library.AddOrUpdate(ctx, library.Mutation{Item: schema.ItemPatch{
		MediaType: schema.MediaTV,
		TMDBID:    1396,
		Status:    schema.Ptr(schema.StatusWatching),
		Notes:     schema.Ptr("season 2"),
	}})
	require.NoError(t, err)
	assert.Zero(t, mem.Calls("upsert"), "push should still be debounced")

	require.NoError(t, a.Close())

	lib, err := mem.LibraryForUser(ctx, cfg.UserID)
	require.NoError(t, err)
	got := mem.Get(lib.ID, "tv-1396")
	require.NotNil(t, got, "Close should run the pending push")
	assert.Equal(t, schema.StatusWatching, got.Status)
}

func TestRating_PushedBeforeClose(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Sync.DebounceInterval = config.Duration{Duration: time.Hour}
	mem := remote.NewMemoryBackend()

	a, err := New(ctx, cfg, Options{Quiet: true, Backend: mem})
	require.NoError(t, err)
	defer a.Close()
	require.True(t, a.Connect(ctx, time.Second))

	_, err = a.Library.AddOrUpdate(ctx, library.Mutation{Item: schema.ItemPatch{
		MediaType:  schema.MediaMovie,
		TMDBID:     27205,
		UserRating: schema.Ptr(9),
	}})
	require.NoError(t, err)

	lib, err := mem.LibraryForUser(ctx, cfg.UserID)
	require.NoError(t, err)
	got := mem.Get(lib.ID, "movie-27205")
	require.NotNil(t, got, "rating should not wait for the debounce")
	require.NotNil(t, got.UserRating)
	assert.Equal(t, 9, *got.UserRating)
}

func TestSettings_SurviveRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	mem := remote.NewMemoryBackend()

	a, err := New(ctx, cfg, Options{Quiet: true, Backend: mem})
	require.NoError(t, err)
	_, err = a.Library.UpdatePreferences(ctx, func(p *schema.UserPreferences) {
		p.AutoSync = false
	})
	require.NoError(t, err)
	assert.False(t, a.Engine.AutoSyncEnabled())
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg, Options{Quiet: true, Backend: mem, Watch: true, Console: io.Discard})
	require.NoError(t, err)
	defer b.Close()
	assert.False(t, b.Engine.AutoSyncEnabled())

	prefs, err := b.Library.Preferences(ctx)
	require.NoError(t, err)
	assert.False(t, prefs.AutoSync)
}

func TestUnknownRemoteType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Type = "ftp"

	_, err := New(context.Background(), cfg, Options{Quiet: true})
	require.Error(t, err)
}
