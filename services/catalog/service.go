// Package catalog serves catalog reads, refreshing volatile artwork on the
// way out.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"

	"geekcatalog/internal/database"
	"geekcatalog/models"
	"geekcatalog/services/ingest"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrNoArtwork = errors.New("no artwork found")
)

// RecordStore is the catalog persistence the service reads and updates.
type RecordStore interface {
	RecordIndex
	ArtworkStore
	Get(ctx context.Context, id int64) (*models.CatalogRecord, error)
	ListByCategory(ctx context.Context, category models.Category, limit, offset int) ([]*models.CatalogRecord, error)
	UpdateDetails(ctx context.Context, rec *models.CatalogRecord) error
}

// TitleStore loads and adds alternative titles.
type TitleStore interface {
	ListForRecord(ctx context.Context, recordID int64) ([]models.AlternativeTitle, error)
	SaveAll(ctx context.Context, titles []models.AlternativeTitle) (int, error)
}

// loader fills one related collection of a record.
type loader struct {
	name string
	load func(ctx context.Context, rec *models.CatalogRecord) error
}

// Options wires a Service.
type Options struct {
	Records    RecordStore
	References ReferenceLister
	Titles     TitleStore
	Providers  Providers
	StaleAfter time.Duration
	// ArtworkExtraAttempts and ArtworkMaxAttempts bound RandomArtwork.
	ArtworkExtraAttempts int
	ArtworkMaxAttempts   int
	// PageRefreshWorkers bounds concurrent refreshes within one page.
	PageRefreshWorkers int
	Now                func() time.Time
}

// Service is the read path of the catalog.
type Service struct {
	records   RecordStore
	titles    TitleStore
	providers Providers
	loaders   []loader
	refresher *Refresher
	locator   *Locator
	workers   int
	now       func() time.Time
	log       *slog.Logger
}

func NewService(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PageRefreshWorkers <= 0 {
		opts.PageRefreshWorkers = 4
	}
	dispatch := NewDispatch(opts.Providers, opts.References, opts.Records, opts.Now)
	refresher := NewRefresher(dispatch, opts.StaleAfter, opts.Now)
	s := &Service{
		records:   opts.Records,
		titles:    opts.Titles,
		providers: opts.Providers,
		refresher: refresher,
		locator:   NewLocator(opts.Records, refresher, opts.ArtworkExtraAttempts, opts.ArtworkMaxAttempts),
		workers:   opts.PageRefreshWorkers,
		now:       opts.Now,
		log:       slog.Default().With("component", "catalog"),
	}
	s.loaders = []loader{
		{name: "external_references", load: func(ctx context.Context, rec *models.CatalogRecord) error {
			refs, err := opts.References.ListForRecord(ctx, rec.ID)
			rec.ExternalReferences = refs
			return err
		}},
		{name: "alternative_titles", load: func(ctx context.Context, rec *models.CatalogRecord) error {
			titles, err := opts.Titles.ListForRecord(ctx, rec.ID)
			rec.AlternativeTitles = titles
			return err
		}},
	}
	return s
}

// Refresher exposes the staleness refresher used by reads.
func (s *Service) Refresher() *Refresher { return s.refresher }

func (s *Service) load(ctx context.Context, id int64) (*models.CatalogRecord, error) {
	rec, err := s.records.Get(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	for _, l := range s.loaders {
		if err := l.load(ctx, rec); err != nil {
			return nil, fmt.Errorf("load %s of record %d: %w", l.name, id, err)
		}
	}
	return rec, nil
}

// Get returns a record with its references and alternative titles, with
// artwork refreshed when stale.
func (s *Service) Get(ctx context.Context, id int64) (*models.CatalogRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.refresher.Refresh(ctx, rec)
	return rec, nil
}

// ListByCategory returns one page of a category. Stale records in the page
// are refreshed before returning.
func (s *Service) ListByCategory(ctx context.Context, category models.Category, limit, offset int) ([]*models.CatalogRecord, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	recs, err := s.records.ListByCategory(ctx, category, limit, offset)
	if err != nil {
		return nil, err
	}
	it := iter.Iterator[*models.CatalogRecord]{MaxGoroutines: s.workers}
	it.ForEach(recs, func(rec **models.CatalogRecord) {
		s.refresher.Refresh(ctx, *rec)
	})
	return recs, nil
}

// RandomArtwork returns the banner of a random record.
func (s *Service) RandomArtwork(ctx context.Context) (string, error) {
	url, ok := s.locator.Find(ctx)
	if !ok {
		return "", ErrNoArtwork
	}
	return url, nil
}

// RefreshDetails re-fetches synopsis, artwork and alternative titles of a
// record from its provider. Unlike read refreshes, failures are returned.
func (s *Service) RefreshDetails(ctx context.Context, id int64) (*models.CatalogRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	client, nativeID, err := s.providers.resolve(rec)
	if err != nil {
		return nil, err
	}
	details, err := client.FetchDetails(ctx, nativeID)
	if err != nil {
		return nil, fmt.Errorf("fetch details %s:%s: %w", client.Type(), nativeID, err)
	}

	if synopsis := strings.TrimSpace(details.Synopsis); synopsis != "" {
		rec.Synopsis = synopsis
	}
	if c := strings.TrimSpace(details.Artwork.CoverURL); c != "" {
		rec.CoverURL = &c
	}
	if b := strings.TrimSpace(details.Artwork.BannerURL); b != "" {
		rec.BannerURL = &b
	}
	rec.UpdatedAt = s.now().UTC()
	if err := s.records.UpdateDetails(ctx, rec); err != nil {
		return nil, fmt.Errorf("store details: %w", err)
	}

	raw := details.AlternativeTitles
	if len(raw) == 0 {
		if raw, err = client.FetchAlternativeTitles(ctx, nativeID); err != nil {
			s.log.Warn("alternative titles unavailable", "id", rec.ID, "error", err)
		}
	}
	titles := ingest.NormalizeTitles(rec.Name, raw)
	for i := range titles {
		titles[i].RecordID = rec.ID
	}
	if len(titles) > 0 {
		added, err := s.titles.SaveAll(ctx, titles)
		if err != nil {
			return nil, fmt.Errorf("store alternative titles: %w", err)
		}
		if added > 0 {
			if rec.AlternativeTitles, err = s.titles.ListForRecord(ctx, rec.ID); err != nil {
				return nil, err
			}
		}
	}
	s.log.Info("details refreshed", "id", rec.ID, "provider", string(client.Type()))
	return rec, nil
}
