package config

import (
	"errors"
	"fmt"
	"time"
)

// Settings is the full runtime configuration.
type Settings struct {
	Database  DatabaseSettings `mapstructure:"database" yaml:"database"`
	Log       LogSettings      `mapstructure:"log" yaml:"log"`
	Server    ServerSettings   `mapstructure:"server" yaml:"server"`
	Ingest    IngestSettings   `mapstructure:"ingest" yaml:"ingest"`
	Retry     RetrySettings    `mapstructure:"retry" yaml:"retry"`
	Refresh   RefreshSettings  `mapstructure:"refresh" yaml:"refresh"`
	Artwork   ArtworkSettings  `mapstructure:"artwork" yaml:"artwork"`
	Providers ProviderSettings `mapstructure:"providers" yaml:"providers"`
	Schedule  ScheduleSettings `mapstructure:"schedule" yaml:"schedule"`
}

type DatabaseSettings struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

type LogSettings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type ServerSettings struct {
	Addr                   string        `mapstructure:"addr" yaml:"addr"`
	AdminToken             string        `mapstructure:"admin_token" yaml:"admin_token"`
	AdminRequestsPerMinute int           `mapstructure:"admin_requests_per_minute" yaml:"admin_requests_per_minute"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// IngestSettings controls both execution modes of the ingestion pipeline.
type IngestSettings struct {
	ChunkSize            int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkDelay           time.Duration `mapstructure:"chunk_delay" yaml:"chunk_delay"`
	Workers              int           `mapstructure:"workers" yaml:"workers"`
	QueueWait            bool          `mapstructure:"queue_wait" yaml:"queue_wait"`
	DrainTimeout         time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	ContinueOnBatchError bool          `mapstructure:"continue_on_batch_error" yaml:"continue_on_batch_error"`
	DedupeWindow         int           `mapstructure:"dedupe_window" yaml:"dedupe_window"`
	ExportCacheDir       string        `mapstructure:"export_cache_dir" yaml:"export_cache_dir"`
}

type RetrySettings struct {
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
}

type RefreshSettings struct {
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

type ArtworkSettings struct {
	ExtraAttempts int `mapstructure:"extra_attempts" yaml:"extra_attempts"`
	MaxAttempts   int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

type ProviderSettings struct {
	TMDB TMDBSettings `mapstructure:"tmdb" yaml:"tmdb"`
	IGDB IGDBSettings `mapstructure:"igdb" yaml:"igdb"`
}

// TMDBSettings configures the movie and TV provider. APIKey seeds the
// credential store when no key has been stored yet.
type TMDBSettings struct {
	APIBase           string  `mapstructure:"api_base" yaml:"api_base"`
	ExportBase        string  `mapstructure:"export_base" yaml:"export_base"`
	Language          string  `mapstructure:"language" yaml:"language"`
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

type IGDBSettings struct {
	APIBase           string  `mapstructure:"api_base" yaml:"api_base"`
	TokenURL          string  `mapstructure:"token_url" yaml:"token_url"`
	ClientID          string  `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret      string  `mapstructure:"client_secret" yaml:"client_secret"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

type ScheduleSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Movies  string `mapstructure:"movies" yaml:"movies"`
	Series  string `mapstructure:"series" yaml:"series"`
}

// DefaultSettings returns the configuration used when nothing overrides it.
func DefaultSettings() Settings {
	return Settings{
		Database: DatabaseSettings{Path: "./data/catalog.db", BusyTimeout: 5 * time.Second},
		Log:      LogSettings{Level: "info", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 14},
		Server:   ServerSettings{Addr: ":8080", AdminRequestsPerMinute: 30, ShutdownTimeout: 30 * time.Second},
		Ingest: IngestSettings{
			ChunkSize:            10,
			ChunkDelay:           2 * time.Second,
			Workers:              4,
			QueueWait:            true,
			DrainTimeout:         30 * time.Minute,
			ContinueOnBatchError: true,
			DedupeWindow:         4096,
			ExportCacheDir:       "./data/exports",
		},
		Retry:   RetrySettings{Attempts: 2, Delay: 2 * time.Second},
		Refresh: RefreshSettings{StaleAfter: 24 * time.Hour},
		Artwork: ArtworkSettings{ExtraAttempts: 10, MaxAttempts: 200},
		Providers: ProviderSettings{
			TMDB: TMDBSettings{
				APIBase:           "https://api.themoviedb.org",
				ExportBase:        "https://files.tmdb.org/p/exports",
				Language:          "en-US",
				RequestsPerSecond: 20,
			},
			IGDB: IGDBSettings{
				APIBase:           "https://api.igdb.com",
				TokenURL:          "https://id.twitch.tv/oauth2/token",
				RequestsPerSecond: 4,
			},
		},
		Schedule: ScheduleSettings{Movies: "0 22 * * *", Series: "0 9 * * *"},
	}
}

// Validate checks the values that would otherwise fail deep inside a job.
func (s Settings) Validate() error {
	var errs []error
	if s.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if s.Ingest.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.chunk_size must be positive, got %d", s.Ingest.ChunkSize))
	}
	if s.Ingest.Workers < 1 || s.Ingest.Workers > 64 {
		errs = append(errs, fmt.Errorf("ingest.workers must be between 1 and 64, got %d", s.Ingest.Workers))
	}
	if s.Ingest.ChunkDelay < 0 {
		errs = append(errs, fmt.Errorf("ingest.chunk_delay must not be negative, got %s", s.Ingest.ChunkDelay))
	}
	if s.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1, got %d", s.Retry.Attempts))
	}
	if s.Refresh.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("refresh.stale_after must be positive, got %s", s.Refresh.StaleAfter))
	}
	if s.Server.AdminRequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("server.admin_requests_per_minute must not be negative, got %d", s.Server.AdminRequestsPerMinute))
	}
	if s.Artwork.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("artwork.max_attempts must be at least 1, got %d", s.Artwork.MaxAttempts))
	}
	return errors.Join(errs...)
}
