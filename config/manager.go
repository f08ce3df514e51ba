package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CATALOG_INGEST_WORKERS.
const EnvPrefix = "CATALOG"

// Manager loads Settings from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
type Manager struct {
	path string
	v    *viper.Viper

	keys map[string]struct{}

	mu      sync.RWMutex
	current *Settings
}

// NewManager creates a manager for the given settings file. An empty path or
// a missing file falls back to defaults and environment only.
func NewManager(path string) *Manager {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Manager{path: path, v: v, keys: registerDefaults(v, DefaultSettings())}
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return m.path
}

// BindFlags lets command-line flags override file and environment values.
// Flags are looked up by their config key, e.g. --ingest.workers.
func (m *Manager) BindFlags(flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if _, ok := m.keys[f.Name]; !ok {
			return
		}
		if err := m.v.BindPFlag(f.Name, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// Load reads and validates the settings, caching the result.
func (m *Manager) Load() (Settings, error) {
	if m.path != "" {
		m.v.SetConfigFile(m.path)
		err := m.v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		if err != nil && !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read settings %s: %w", m.path, err)
		}
	}

	var s Settings
	if err := m.v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}

	m.mu.Lock()
	m.current = &s
	m.mu.Unlock()
	return s, nil
}

// Settings returns the last loaded settings, loading them on first use.
func (m *Manager) Settings() (Settings, error) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur != nil {
		return *cur, nil
	}
	return m.Load()
}

func registerDefaults(v *viper.Viper, d Settings) map[string]struct{} {
	defaults := map[string]any{
		"database.path":                      d.Database.Path,
		"database.busy_timeout":              d.Database.BusyTimeout,
		"log.level":                          d.Log.Level,
		"log.file":                           d.Log.File,
		"log.max_size_mb":                    d.Log.MaxSizeMB,
		"log.max_backups":                    d.Log.MaxBackups,
		"log.max_age_days":                   d.Log.MaxAgeDays,
		"server.addr":                        d.Server.Addr,
		"server.admin_token":                 d.Server.AdminToken,
		"server.admin_requests_per_minute":   d.Server.AdminRequestsPerMinute,
		"server.shutdown_timeout":            d.Server.ShutdownTimeout,
		"ingest.chunk_size":                  d.Ingest.ChunkSize,
		"ingest.chunk_delay":                 d.Ingest.ChunkDelay,
		"ingest.workers":                     d.Ingest.Workers,
		"ingest.queue_wait":                  d.Ingest.QueueWait,
		"ingest.drain_timeout":               d.Ingest.DrainTimeout,
		"ingest.continue_on_batch_error":     d.Ingest.ContinueOnBatchError,
		"ingest.dedupe_window":               d.Ingest.DedupeWindow,
		"ingest.export_cache_dir":            d.Ingest.ExportCacheDir,
		"retry.attempts":                     d.Retry.Attempts,
		"retry.delay":                        d.Retry.Delay,
		"refresh.stale_after":                d.Refresh.StaleAfter,
		"artwork.extra_attempts":             d.Artwork.ExtraAttempts,
		"artwork.max_attempts":               d.Artwork.MaxAttempts,
		"providers.tmdb.api_base":            d.Providers.TMDB.APIBase,
		"providers.tmdb.export_base":         d.Providers.TMDB.ExportBase,
		"providers.tmdb.language":            d.Providers.TMDB.Language,
		"providers.tmdb.api_key":             d.Providers.TMDB.APIKey,
		"providers.tmdb.requests_per_second": d.Providers.TMDB.RequestsPerSecond,
		"providers.igdb.api_base":            d.Providers.IGDB.APIBase,
		"providers.igdb.token_url":           d.Providers.IGDB.TokenURL,
		"providers.igdb.client_id":           d.Providers.IGDB.ClientID,
		"providers.igdb.client_secret":       d.Providers.IGDB.ClientSecret,
		"providers.igdb.requests_per_second": d.Providers.IGDB.RequestsPerSecond,
		"schedule.enabled":                   d.Schedule.Enabled,
		"schedule.movies":                    d.Schedule.Movies,
		"schedule.series":                    d.Schedule.Series,
	}
	keys := make(map[string]struct{}, len(defaults))
	for key, value := range defaults {
		keys[key] = struct{}{}
		v.SetDefault(key, value)
	}
	return keys
}
