package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Options represents the complete, live-reloadable configuration for an
// icovault database handle, per spec.md section 6.
type Options struct {
	// Path is the path of the database file itself (or ":memory:"). It is
	// opened as given; no file name is appended to it.
	Path string `mapstructure:"path" yaml:"path"`

	// Enabled gates all writes. When false, behaves as a read-only freeze.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PrivateBrowsing gates writes; reads of already-in-memory data are unaffected.
	PrivateBrowsing bool `mapstructure:"private_browsing" yaml:"private_browsing"`

	// IntegrityCheckBeforeOpen is consulted only at Open; the sync worker's
	// first action is then an integrity check instead of a plain open.
	IntegrityCheckBeforeOpen bool `mapstructure:"integrity_check_before_open" yaml:"integrity_check_before_open"`

	// ExpirationHorizon is the age above which cached icon bytes force a
	// re-fetch decision.
	ExpirationHorizon time.Duration `mapstructure:"expiration_horizon" yaml:"expiration_horizon"`

	// SyncCoalesceWindow is the UI-side timer delay before the sync worker is
	// woken to flush pending writes.
	SyncCoalesceWindow time.Duration `mapstructure:"sync_coalesce_window" yaml:"sync_coalesce_window"`

	// QueryTimeout bounds any single sync-worker SQL statement.
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LoggingConfig holds logging configuration, carried regardless of feature
// Non-goals per the project's ambient-stack convention.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

const (
	defaultExpirationHorizon  = 4 * 24 * time.Hour
	defaultSyncCoalesceWindow = 3 * time.Second
	defaultQueryTimeout       = 30 * time.Second
)

// DefaultOptions returns the default configuration values for icovault.
func DefaultOptions() *Options {
	return &Options{
		Enabled:            true,
		ExpirationHorizon:  defaultExpirationHorizon,
		SyncCoalesceWindow: defaultSyncCoalesceWindow,
		QueryTimeout:       defaultQueryTimeout,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Manager loads Options from a config file via Viper and watches it for
// changes, pushing updates to registered subscribers. Mirrors the teacher's
// internal/config watcher, trimmed to the options this core actually needs.
type Manager struct {
	v    *viper.Viper
	mu   sync.RWMutex
	opts *Options

	subMu sync.Mutex
	subs  []func(*Options)
}

// NewManager creates a configuration manager. configFile may be empty, in
// which case only defaults and environment overrides apply.
func NewManager(configFile string) (*Manager, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("ICOVAULT")
	v.AutomaticEnv()

	defaults := DefaultOptions()
	v.SetDefault("enabled", defaults.Enabled)
	v.SetDefault("expiration_horizon", defaults.ExpirationHorizon)
	v.SetDefault("sync_coalesce_window", defaults.SyncCoalesceWindow)
	v.SetDefault("query_timeout", defaults.QueryTimeout)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	m := &Manager{v: v}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	opts, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.opts = opts

	if configFile != "" {
		v.OnConfigChange(func(fsnotify.Event) {
			m.reload()
		})
		v.WatchConfig()
	}

	return m, nil
}

func (m *Manager) decode() (*Options, error) {
	opts := DefaultOptions()
	if err := m.v.Unmarshal(opts); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return opts, nil
}

func (m *Manager) reload() {
	opts, err := m.decode()
	if err != nil {
		return
	}

	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()

	m.subMu.Lock()
	subs := append([]func(*Options){}, m.subs...)
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(opts)
	}
}

// Options returns the current, live configuration snapshot.
func (m *Manager) Options() *Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.opts
	return &cp
}

// OnChange registers a callback invoked whenever the watched config file
// changes on disk.
func (m *Manager) OnChange(fn func(*Options)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, fn)
}
