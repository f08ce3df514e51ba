package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"geekcatalog/models"
	"geekcatalog/services/provider"
)

// ErrNoReference means a record has no reference a configured provider can
// serve.
var ErrNoReference = errors.New("no usable external reference")

// Providers indexes provider clients by the reference type they serve.
type Providers map[models.ProviderType]provider.Client

// NewProviders indexes clients by their Type.
func NewProviders(clients ...provider.Client) Providers {
	p := make(Providers, len(clients))
	for _, c := range clients {
		if c != nil {
			p[c.Type()] = c
		}
	}
	return p
}

// categoryProviders lists which reference types serve each category. An
// undetermined record may come from any provider.
var categoryProviders = map[models.Category][]models.ProviderType{
	models.CategoryMovie:        {models.ProviderTMDBMovie},
	models.CategoryAnimeMovie:   {models.ProviderTMDBMovie},
	models.CategorySeries:       {models.ProviderTMDBTV},
	models.CategoryAnimeSeries:  {models.ProviderTMDBTV},
	models.CategoryGame:         {models.ProviderIGDB},
	models.CategoryVisualNovel:  {models.ProviderIGDB},
	models.CategoryUndetermined: nil,
}

// resolve picks the client and native id to use for rec.
func (p Providers) resolve(rec *models.CatalogRecord) (provider.Client, string, error) {
	types, known := categoryProviders[rec.Category]
	if !known {
		return nil, "", fmt.Errorf("category %q: %w", rec.Category, ErrNoReference)
	}
	for _, ref := range rec.ExternalReferences {
		if ref.NativeID == "" {
			continue
		}
		if len(types) > 0 && !containsType(types, ref.ProviderType) {
			continue
		}
		if c, ok := p[ref.ProviderType]; ok {
			return c, ref.NativeID, nil
		}
	}
	return nil, "", fmt.Errorf("record %d (%s): %w", rec.ID, rec.Category, ErrNoReference)
}

func containsType(types []models.ProviderType, pt models.ProviderType) bool {
	for _, t := range types {
		if t == pt {
			return true
		}
	}
	return false
}

// Updater refreshes a record's artwork in place and persists it.
type Updater interface {
	UpdateArtwork(ctx context.Context, rec *models.CatalogRecord) error
}

// ReferenceLister loads a record's references.
type ReferenceLister interface {
	ListForRecord(ctx context.Context, recordID int64) ([]models.ExternalReference, error)
}

// ArtworkStore persists refreshed artwork.
type ArtworkStore interface {
	UpdateArtwork(ctx context.Context, id int64, cover, banner *string, updatedAt time.Time) error
}

// providerUpdater fetches artwork from the provider behind one of the
// record's references.
type providerUpdater struct {
	providers Providers
	refs      ReferenceLister
	store     ArtworkStore
	now       func() time.Time
}

func (u *providerUpdater) UpdateArtwork(ctx context.Context, rec *models.CatalogRecord) error {
	if len(rec.ExternalReferences) == 0 && u.refs != nil {
		refs, err := u.refs.ListForRecord(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("load references: %w", err)
		}
		rec.ExternalReferences = refs
	}
	client, nativeID, err := u.providers.resolve(rec)
	if err != nil {
		return err
	}
	art, err := client.FetchArtwork(ctx, nativeID)
	if err != nil {
		return fmt.Errorf("fetch artwork %s:%s: %w", client.Type(), nativeID, err)
	}

	cover, banner := rec.CoverURL, rec.BannerURL
	if s := strings.TrimSpace(art.CoverURL); s != "" {
		cover = &s
	}
	if s := strings.TrimSpace(art.BannerURL); s != "" {
		banner = &s
	}
	updatedAt := u.now().UTC()
	if err := u.store.UpdateArtwork(ctx, rec.ID, cover, banner, updatedAt); err != nil {
		return fmt.Errorf("store artwork: %w", err)
	}
	rec.CoverURL, rec.BannerURL, rec.UpdatedAt = cover, banner, updatedAt
	return nil
}

// Dispatch maps each category to its artwork updater.
type Dispatch map[models.Category]Updater

// NewDispatch builds the table over every category. Categories share the
// provider-backed updater and differ in which references it may use.
func NewDispatch(providers Providers, refs ReferenceLister, store ArtworkStore, now func() time.Time) Dispatch {
	if now == nil {
		now = time.Now
	}
	u := &providerUpdater{providers: providers, refs: refs, store: store, now: now}
	d := make(Dispatch, len(models.Categories))
	for _, c := range models.Categories {
		d[c] = u
	}
	return d
}
