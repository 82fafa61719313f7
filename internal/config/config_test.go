package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/tmp/wf")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "local", cfg.UserID)
	assert.Equal(t, "/tmp/wf/library.db", cfg.DatabasePath())
	assert.Equal(t, "/tmp/wf/state", cfg.StateDir())
	assert.Equal(t, 2*time.Second, cfg.Sync.DebounceInterval.Duration)
	assert.Equal(t, "none", cfg.Remote.Type)
}

func TestManagerRoundTrip(t *testing.T) {
	cfg := DefaultConfig("/data")
	cfg.UserID = "alice"
	cfg.Remote = RemoteConfig{Type: "s3", S3Bucket: "shelf", S3Prefix: "wf/", S3Region: "eu-west-1"}
	cfg.Sync.DebounceInterval = Duration{1500 * time.Millisecond}
	cfg.Sync.KeepFavoritesOnPull = true

	var buf bytes.Buffer
	m := &Manager{}
	require.NoError(t, m.Write(&buf, cfg))
	assert.Contains(t, buf.String(), `debounce_interval = "1.5s"`)

	got, err := m.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestManagerReadPartial(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(`
user_id = "bob"

[remote]
type = "memory"
`))
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.UserID)
	assert.Equal(t, "memory", cfg.Remote.Type)
	assert.Equal(t, 4, cfg.Sync.PushConcurrency, "unset keys keep defaults")

	_, err = m.Read(strings.NewReader(`[sync]
debounce_interval = "soon"`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing user", func(c *Config) { c.UserID = "" }, "user_id"},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"libsql without url", func(c *Config) { c.Remote.Type = "libsql" }, "libsql_url"},
		{"s3 without bucket", func(c *Config) { c.Remote.Type = "s3" }, "s3_bucket"},
		{"unknown remote", func(c *Config) { c.Remote.Type = "ftp" }, "unknown remote type"},
		{"negative concurrency", func(c *Config) { c.Sync.PushConcurrency = -1 }, "push_concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("/data")
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig(filepath.Dir(path))

	require.NoError(t, Init(path, cfg))
	err := Init(path, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	got, err := ReadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, dir, cfg.DataDir)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		require.NoError(t, Init(path, DefaultConfig(dir)))

		t.Setenv("WATCHFOLIO_USER_ID", "carol")
		t.Setenv("WATCHFOLIO_REMOTE_TYPE", "libsql")
		t.Setenv("WATCHFOLIO_REMOTE_LIBSQL_URL", "libsql://shelf.turso.io")
		t.Setenv("WATCHFOLIO_SYNC_DEBOUNCE_INTERVAL", "500ms")
		t.Setenv("WATCHFOLIO_SYNC_PUSH_CONCURRENCY", "8")
		t.Setenv("WATCHFOLIO_SYNC_KEEP_FAVORITES_ON_PULL", "true")

		cfg, err := Load(path, NewViper())
		require.NoError(t, err)
		assert.Equal(t, "carol", cfg.UserID)
		assert.Equal(t, "libsql", cfg.Remote.Type)
		assert.Equal(t, "libsql://shelf.turso.io", cfg.Remote.LibSQLURL)
		assert.Equal(t, 500*time.Millisecond, cfg.Sync.DebounceInterval.Duration)
		assert.Equal(t, 8, cfg.Sync.PushConcurrency)
		assert.True(t, cfg.Sync.KeepFavoritesOnPull)
	})

	t.Run("invalid override", func(t *testing.T) {
		t.Setenv("WATCHFOLIO_SYNC_CONNECTIVITY_INTERVAL", "often")
		_, err := Load(path, NewViper())
		assert.Error(t, err)
	})

	t.Run("flag overrides", func(t *testing.T) {
		v := viper.New()
		v.Set("remote.type", "ftp")
		_, err := Load(path, v)
		assert.ErrorContains(t, err, "invalid config")
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("WATCHFOLIO_TEST_DOTENV=from-file\n"), 0644))

	t.Setenv("WATCHFOLIO_TEST_DOTENV", "")
	os.Unsetenv("WATCHFOLIO_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("WATCHFOLIO_TEST_DOTENV"))
}
