// Package config loads the typed application configuration from the
// config file, environment, and defaults. The struct is unmarshaled once
// in main and passed to constructors; nothing reads viper afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shelfmark/shelfmark/internal/mirror/index"
)

// Config is the application configuration tree.
type Config struct {
	Library   LibraryConfig   `mapstructure:"library" json:"library" yaml:"library"`
	Catalog   CatalogConfig   `mapstructure:"catalog" json:"catalog" yaml:"catalog"`
	Ephemera  EphemeraConfig  `mapstructure:"ephemera" json:"ephemera" yaml:"ephemera"`
	Index     IndexConfig     `mapstructure:"index" json:"index" yaml:"index"`
	Daemon    DaemonConfig    `mapstructure:"daemon" json:"daemon" yaml:"daemon"`
	Events    EventsConfig    `mapstructure:"events" json:"events" yaml:"events"`
	Shortcuts ShortcutsConfig `mapstructure:"shortcuts" json:"shortcuts" yaml:"shortcuts"`
}

// LibraryConfig locates the mirrored library.
type LibraryConfig struct {
	// BaseDir is the library root placeholders are mirrored under.
	BaseDir string `mapstructure:"base_dir" json:"base_dir" yaml:"base_dir"`
}

// CatalogConfig points at the OPDS catalog being mirrored.
type CatalogConfig struct {
	URL               string `mapstructure:"url" json:"url" yaml:"url"`
	Username          string `mapstructure:"username" json:"username" yaml:"username"`
	Password          string `mapstructure:"password" json:"password" yaml:"password"`
	RequestsPerSecond int    `mapstructure:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"`
	MaxRetries        int    `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries"`
}

// EphemeraConfig points at the secondary short-run catalog.
type EphemeraConfig struct {
	URL               string `mapstructure:"url" json:"url" yaml:"url"`
	RequestsPerSecond int    `mapstructure:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"`
	MaxRetries        int    `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries"`
}

// IndexConfig selects the search index backend.
type IndexConfig struct {
	// Backend is "sqlite" or "bleve".
	Backend string `mapstructure:"backend" json:"backend" yaml:"backend"`
}

// DaemonConfig tunes the background mirror daemon.
type DaemonConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" json:"reconcile_interval" yaml:"reconcile_interval"`
	DebounceInterval  time.Duration `mapstructure:"debounce_interval" json:"debounce_interval" yaml:"debounce_interval"`
}

// EventsConfig tunes the WebSocket events server.
type EventsConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" json:"port" yaml:"port"`
}

// ShortcutsConfig tunes the recently-added shortcut directory.
type ShortcutsConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	// Dir is the shortcut directory. Empty derives <base>/Recently Added.
	Dir      string `mapstructure:"dir" json:"dir" yaml:"dir"`
	MaxCount int    `mapstructure:"max_count" json:"max_count" yaml:"max_count"`
}

// Dir returns the shelfmark config directory, $XDG_CONFIG_HOME/shelfmark
// or the platform equivalent.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(base, "shelfmark"), nil
}

// SettingsPath returns the location of the user settings file.
func SettingsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.toml"), nil
}

// Load reads the configuration. An empty path searches the config
// directory for config.yaml; a missing file there is fine, defaults and
// SHELFMARK_* environment variables still apply. An explicit path must
// exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("SHELFMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key. A key without a default is invisible to
// Unmarshal when it arrives only through the environment.
func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("library.base_dir", filepath.Join(home, "Books"))

	v.SetDefault("catalog.url", "")
	v.SetDefault("catalog.username", "")
	v.SetDefault("catalog.password", "")
	v.SetDefault("catalog.requests_per_second", 5)
	v.SetDefault("catalog.max_retries", 3)

	v.SetDefault("ephemera.url", "")
	v.SetDefault("ephemera.requests_per_second", 2)
	v.SetDefault("ephemera.max_retries", 3)

	v.SetDefault("index.backend", index.BackendSQLite)

	v.SetDefault("daemon.reconcile_interval", time.Hour)
	v.SetDefault("daemon.debounce_interval", 500*time.Millisecond)

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.port", 8090)

	v.SetDefault("shortcuts.enabled", true)
	v.SetDefault("shortcuts.dir", "")
	v.SetDefault("shortcuts.max_count", 50)
}

// Validate checks field values that would otherwise fail deep inside a
// command.
func (c *Config) Validate() error {
	if c.Library.BaseDir == "" {
		return fmt.Errorf("library.base_dir is required")
	}
	switch c.Index.Backend {
	case index.BackendSQLite, index.BackendBleve:
	default:
		return fmt.Errorf("index.backend %q is not a known backend (want %s or %s)",
			c.Index.Backend, index.BackendSQLite, index.BackendBleve)
	}
	if c.Catalog.RequestsPerSecond < 0 || c.Ephemera.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative")
	}
	if c.Daemon.ReconcileInterval < 0 || c.Daemon.DebounceInterval < 0 {
		return fmt.Errorf("daemon intervals cannot be negative")
	}
	return nil
}

// StateDir returns the library state directory for the configured base.
func (c *Config) StateDir() string {
	return filepath.Join(c.Library.BaseDir, ".shelfmark")
}

// StorePath returns the placeholder store location.
func (c *Config) StorePath() string {
	return filepath.Join(c.StateDir(), "store.json")
}

// CachePath returns the metadata cache location.
func (c *Config) CachePath() string {
	return filepath.Join(c.StateDir(), "cache.json")
}

// CheckpointPath returns the restart checkpoint location.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.StateDir(), "checkpoint")
}

// JournalPath returns the operation journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.StateDir(), "journal.jsonl")
}

// IndexPath returns the search index location for the configured backend.
func (c *Config) IndexPath() string {
	if c.Index.Backend == index.BackendBleve {
		return filepath.Join(c.StateDir(), "index.bleve")
	}
	return filepath.Join(c.StateDir(), "index.db")
}

// ShortcutDir returns the recently-added directory, derived from the base
// when not configured.
func (c *Config) ShortcutDir() string {
	if c.Shortcuts.Dir != "" {
		return c.Shortcuts.Dir
	}
	return filepath.Join(c.Library.BaseDir, "Recently Added")
}
