package catalog

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geekcatalog/internal/database"
	"geekcatalog/models"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.Config{DatabasePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func saveRecord(t *testing.T, db *database.DB, name string, cat models.Category, pt models.ProviderType, nativeID string, age time.Duration) *models.CatalogRecord {
	t.Helper()
	rec := &models.CatalogRecord{
		Name:               name,
		Category:           cat,
		UpdatedAt:          testNow.Add(-age),
		ExternalReferences: []models.ExternalReference{{ProviderType: pt, NativeID: nativeID}},
	}
	require.NoError(t, db.Catalog.Save(context.Background(), rec))
	return rec
}

// artProvider serves scripted artwork and details for one provider type.
type artProvider struct {
	pt models.ProviderType

	mu           sync.Mutex
	art          map[string]models.Artwork
	details      map[string]*models.TitleDetails
	titles       map[string][]string
	err          error
	artworkCalls []string
}

func newArtProvider(pt models.ProviderType) *artProvider {
	return &artProvider{
		pt:      pt,
		art:     map[string]models.Artwork{},
		details: map[string]*models.TitleDetails{},
		titles:  map[string][]string{},
	}
}

func (p *artProvider) Type() models.ProviderType { return p.pt }

func (p *artProvider) OpenTitleStream(context.Context) (io.ReadCloser, error) {
	return nil, errors.New("not used")
}

func (p *artProvider) Classify(context.Context, string) ([]string, error) { return nil, nil }

func (p *artProvider) FetchDetails(_ context.Context, nativeID string) (*models.TitleDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	d, ok := p.details[nativeID]
	if !ok {
		return nil, errors.New("unknown title")
	}
	return d, nil
}

func (p *artProvider) FetchArtwork(_ context.Context, nativeID string) (models.Artwork, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.artworkCalls = append(p.artworkCalls, nativeID)
	if p.err != nil {
		return models.Artwork{}, p.err
	}
	return p.art[nativeID], nil
}

func (p *artProvider) FetchAlternativeTitles(_ context.Context, nativeID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.titles[nativeID], nil
}

func (p *artProvider) Search(context.Context, string) ([]models.TitleDetails, error) {
	return nil, nil
}

func (p *artProvider) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.artworkCalls...)
}

// countingUpdater records every update and never produces artwork.
type countingUpdater struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (u *countingUpdater) UpdateArtwork(context.Context, *models.CatalogRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	return u.err
}

func (u *countingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func dispatchAll(u Updater) Dispatch {
	d := Dispatch{}
	for _, c := range models.Categories {
		d[c] = u
	}
	return d
}

// countingIndex counts positional draws.
type countingIndex struct {
	RecordIndex
	mu    sync.Mutex
	draws int
}

func (c *countingIndex) AtIndex(ctx context.Context, index int64) (*models.CatalogRecord, error) {
	c.mu.Lock()
	c.draws++
	c.mu.Unlock()
	return c.RecordIndex.AtIndex(ctx, index)
}
