package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"geekcatalog/config"
	"geekcatalog/internal/database"
	"geekcatalog/models"
	"geekcatalog/services/catalog"
	"geekcatalog/services/credentials"
	"geekcatalog/services/ingest"
	"geekcatalog/services/jobs"
	"geekcatalog/services/provider"
)

// app is the wired service graph shared by the subcommands.
type app struct {
	settings config.Settings
	db       *database.DB
	creds    *credentials.Store
	movies   provider.Client
	series   provider.Client
	games    provider.Client
	operator *jobs.Operator
	catalog  *catalog.Service
	log      *slog.Logger
}

type appOptions struct {
	// fs backs the export cache; nil means the OS filesystem.
	fs afero.Fs
}

func openDatabase(s config.Settings) (*database.DB, error) {
	db, err := database.NewDB(database.Config{
		DatabasePath: s.Database.Path,
		BusyTimeout:  s.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", s.Database.Path, err)
	}
	return db, nil
}

func newApp(ctx context.Context, s config.Settings, opts appOptions) (*app, error) {
	db, err := openDatabase(s)
	if err != nil {
		return nil, err
	}
	a := &app{
		settings: s,
		db:       db,
		creds:    credentials.NewStore(db.Credentials),
		log:      slog.Default().With("component", "catalogd"),
	}
	if err := a.seedCredentials(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	fs := opts.fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	exports := provider.NewExportCache(fs, filepath.Clean(s.Ingest.ExportCacheDir), nil)
	exports.SetRetain(db.Executions.ExportsInUse)
	retry := provider.RetryOptions{Attempts: uint(s.Retry.Attempts), Delay: s.Retry.Delay}
	tmdb := func(kind provider.TMDBKind) provider.Client {
		return provider.NewRetrying(provider.NewTMDBClient(kind, provider.TMDBOptions{
			APIBase:           s.Providers.TMDB.APIBase,
			ExportBase:        s.Providers.TMDB.ExportBase,
			Language:          s.Providers.TMDB.Language,
			RequestsPerSecond: s.Providers.TMDB.RequestsPerSecond,
			Exports:           exports,
			Secrets:           a.creds,
		}), retry)
	}
	a.movies = tmdb(provider.TMDBMovie)
	a.series = tmdb(provider.TMDBTV)
	a.games = provider.NewRetrying(provider.NewIGDBClient(provider.IGDBOptions{
		APIBase:           s.Providers.IGDB.APIBase,
		TokenURL:          s.Providers.IGDB.TokenURL,
		RequestsPerSecond: s.Providers.IGDB.RequestsPerSecond,
		Secrets:           a.creds,
	}), retry)

	pipeline := func(client provider.Client, policy ingest.Policy) jobs.Pipeline {
		return jobs.Pipeline{
			Client:       client,
			Policy:       policy,
			Records:      db.Catalog,
			Titles:       db.Titles,
			References:   db.References,
			Checkpoints:  db.Executions,
			Exports:      db.Executions,
			DedupeWindow: s.Ingest.DedupeWindow,
		}
	}
	named := jobs.NamedJobs(
		jobs.Catalog{
			Movies: pipeline(a.movies, ingest.MoviePolicy),
			Series: pipeline(a.series, ingest.SeriesPolicy),
		},
		ingest.ChunkedOptions{
			ChunkSize:            s.Ingest.ChunkSize,
			ChunkDelay:           s.Ingest.ChunkDelay,
			ContinueOnBatchError: s.Ingest.ContinueOnBatchError,
		},
		jobs.FanOutOptions{
			Workers:      s.Ingest.Workers,
			QueueWait:    s.Ingest.QueueWait,
			DrainTimeout: s.Ingest.DrainTimeout,
		},
	)
	a.operator = jobs.NewOperator(db.Executions, named...)

	a.catalog = catalog.NewService(catalog.Options{
		Records:              db.Catalog,
		References:           db.References,
		Titles:               db.Titles,
		Providers:            catalog.NewProviders(a.movies, a.series, a.games),
		StaleAfter:           s.Refresh.StaleAfter,
		ArtworkExtraAttempts: s.Artwork.ExtraAttempts,
		ArtworkMaxAttempts:   s.Artwork.MaxAttempts,
	})
	return a, nil
}

// seedCredentials copies secrets from the settings into an empty store.
// Stored values win so rotated tokens survive restarts.
func (a *app) seedCredentials(ctx context.Context) error {
	seeds := map[string]string{
		models.CredentialTMDBAPIKey:       a.settings.Providers.TMDB.APIKey,
		models.CredentialIGDBClientID:     a.settings.Providers.IGDB.ClientID,
		models.CredentialIGDBClientSecret: a.settings.Providers.IGDB.ClientSecret,
	}
	var errs []error
	for key, secret := range seeds {
		if err := a.creds.Seed(ctx, key, secret); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// shutdown stops running executions, then closes the database.
func (a *app) shutdown(ctx context.Context) error {
	err := a.operator.Shutdown(ctx)
	if cerr := a.db.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (a *app) schedule() map[string]string {
	return map[string]string{
		jobs.UpdateMoviesJob: a.settings.Schedule.Movies,
		jobs.UpdateSeriesJob: a.settings.Schedule.Series,
	}
}
