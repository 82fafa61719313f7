// Package config reads and writes the watchfolio configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable that overrides the file,
// e.g. WATCHFOLIO_REMOTE_TYPE for remote.type.
const EnvPrefix = "WATCHFOLIO"

// Config represents the main configuration for watchfolio.
type Config struct {
	UserID    string          `toml:"user_id"`
	DataDir   string          `toml:"data_dir"`
	LogFile   string          `toml:"log_file,omitempty"`
	Remote    RemoteConfig    `toml:"remote"`
	Sync      SyncConfig      `toml:"sync"`
	Dashboard DashboardConfig `toml:"dashboard"`
}

// RemoteConfig selects the cloud backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "none", "memory", "libsql" or "s3"

	// libSQL-specific fields (only used when Type == "libsql")
	LibSQLURL       string `toml:"libsql_url,omitempty"`
	LibSQLAuthToken string `toml:"libsql_auth_token,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	DebounceInterval     Duration `toml:"debounce_interval"`
	ConnectivityInterval Duration `toml:"connectivity_interval"`
	PushConcurrency      int      `toml:"push_concurrency"`
	KeepFavoritesOnPull  bool     `toml:"keep_favorites_on_pull"`
}

// DashboardConfig configures the status dashboard server.
type DashboardConfig struct {
	Addr string `toml:"addr"`
}

// Duration is a time.Duration written as a string such as "2s".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns a config rooted at baseDir with the defaults used by
// `watchfolio config init`.
func DefaultConfig(baseDir string) *Config {
	return &Config{
		UserID:  "local",
		DataDir: baseDir,
		LogFile: filepath.Join(baseDir, "log", "watchfolio.log"),
		Remote:  RemoteConfig{Type: "none"},
		Sync: SyncConfig{
			DebounceInterval:     Duration{2 * time.Second},
			ConnectivityInterval: Duration{30 * time.Second},
			PushConcurrency:      4,
		},
		Dashboard: DashboardConfig{Addr: "127.0.0.1:8477"},
	}
}

// DefaultBaseDir returns ~/.watchfolio.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".watchfolio"
	}
	return filepath.Join(home, ".watchfolio")
}

// DefaultPath returns the config file location inside baseDir.
func DefaultPath(baseDir string) string {
	return filepath.Join(baseDir, "config.toml")
}

// DatabasePath returns the local library database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "library.db")
}

// StateDir returns the directory holding persisted sync state.
func (c *Config) StateDir() string {
	return filepath.Join(c.DataDir, "state")
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Remote.Type {
	case "", "none", "memory":
	case "libsql":
		if c.Remote.LibSQLURL == "" {
			return fmt.Errorf("libsql remote requires libsql_url to be set")
		}
	case "s3":
		if c.Remote.S3Bucket == "" {
			return fmt.Errorf("s3 remote requires s3_bucket to be set")
		}
	default:
		return fmt.Errorf("unknown remote type: %s", c.Remote.Type)
	}
	if c.Sync.PushConcurrency < 0 {
		return fmt.Errorf("sync.push_concurrency must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader, starting from defaults
// rooted at the default base directory.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := DefaultConfig(DefaultBaseDir())
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// NewViper returns a viper instance that resolves keys such as
// "remote.type" from WATCHFOLIO_REMOTE_TYPE.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key set in v (environment or bound flags) over
// the file values.
func ApplyOverrides(cfg *Config, v *viper.Viper) error {
	strs := map[string]*string{
		"user_id":                  &cfg.UserID,
		"data_dir":                 &cfg.DataDir,
		"log_file":                 &cfg.LogFile,
		"remote.type":              &cfg.Remote.Type,
		"remote.libsql_url":        &cfg.Remote.LibSQLURL,
		"remote.libsql_auth_token": &cfg.Remote.LibSQLAuthToken,
		"remote.s3_bucket":         &cfg.Remote.S3Bucket,
		"remote.s3_prefix":         &cfg.Remote.S3Prefix,
		"remote.s3_region":         &cfg.Remote.S3Region,
		"remote.s3_endpoint":       &cfg.Remote.S3Endpoint,
		"dashboard.addr":           &cfg.Dashboard.Addr,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	durations := map[string]*Duration{
		"sync.debounce_interval":     &cfg.Sync.DebounceInterval,
		"sync.connectivity_interval": &cfg.Sync.ConnectivityInterval,
	}
	for key, dst := range durations {
		if !v.IsSet(key) {
			continue
		}
		if err := dst.UnmarshalText([]byte(v.GetString(key))); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if v.IsSet("sync.push_concurrency") {
		cfg.Sync.PushConcurrency = v.GetInt("sync.push_concurrency")
	}
	if v.IsSet("sync.keep_favorites_on_pull") {
		cfg.Sync.KeepFavoritesOnPull = v.GetBool("sync.keep_favorites_on_pull")
	}
	return nil
}

// Load reads the config file at path (defaults when it does not exist),
// applies overrides from v and validates the result.
func Load(path string, v *viper.Viper) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = DefaultConfig(filepath.Dir(path))
	}

	if v != nil {
		if err := ApplyOverrides(cfg, v); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
