package models

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a catalog record. The set is closed; every read-path
// dispatch switches over these values.
type Category string

const (
	CategorySeries       Category = "series"
	CategoryGame         Category = "game"
	CategoryVisualNovel  Category = "visual_novel"
	CategoryMovie        Category = "movie"
	CategoryAnimeSeries  Category = "anime_series"
	CategoryAnimeMovie   Category = "anime_movie"
	CategoryUndetermined Category = "undetermined"
)

// Categories lists every known category in a stable order.
var Categories = []Category{
	CategorySeries,
	CategoryGame,
	CategoryVisualNovel,
	CategoryMovie,
	CategoryAnimeSeries,
	CategoryAnimeMovie,
	CategoryUndetermined,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts the canonical value case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// ProviderType names the external system an ExternalReference points into.
// TMDB movies and TV series are separate types because their numeric ids
// overlap.
type ProviderType string

const (
	ProviderTMDBMovie ProviderType = "tmdb_movie"
	ProviderTMDBTV    ProviderType = "tmdb_tv"
	ProviderIMDB      ProviderType = "imdb"
	ProviderIGDB      ProviderType = "igdb"
	ProviderYouTube   ProviderType = "youtube"
)

// CatalogRecord is a single media title known to the catalog.
type CatalogRecord struct {
	ID        int64     `json:"id"` // 0 until first persisted
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	Synopsis  string    `json:"synopsis,omitempty"`
	CoverURL  *string   `json:"coverUrl,omitempty"`
	BannerURL *string   `json:"bannerUrl,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`

	ExternalReferences []ExternalReference `json:"externalReferences,omitempty"`
	AlternativeTitles  []AlternativeTitle  `json:"alternativeTitles,omitempty"`
}

// HasBanner reports whether the record carries usable banner artwork.
func (r *CatalogRecord) HasBanner() bool {
	return r != nil && r.BannerURL != nil && strings.TrimSpace(*r.BannerURL) != ""
}

// Reference returns the first external reference of the given provider type.
func (r *CatalogRecord) Reference(pt ProviderType) (ExternalReference, bool) {
	if r == nil {
		return ExternalReference{}, false
	}
	for _, ref := range r.ExternalReferences {
		if ref.ProviderType == pt {
			return ref, true
		}
	}
	return ExternalReference{}, false
}

// PrimaryReference returns the first in-memory reference, if any.
func (r *CatalogRecord) PrimaryReference() (ExternalReference, bool) {
	if r == nil || len(r.ExternalReferences) == 0 {
		return ExternalReference{}, false
	}
	return r.ExternalReferences[0], true
}

// ExternalReference binds a record to one provider-native identifier.
// (ProviderType, NativeID) is unique across the catalog.
type ExternalReference struct {
	ID           int64        `json:"id"`
	RecordID     int64        `json:"recordId"`
	ProviderType ProviderType `json:"providerType"`
	NativeID     string       `json:"nativeId"`
}

// Key renders the idempotency key used in logs and caches.
func (e ExternalReference) Key() string {
	return string(e.ProviderType) + ":" + e.NativeID
}

// AlternativeTitle is a display-name variant of a record.
type AlternativeTitle struct {
	ID       int64  `json:"id"`
	RecordID int64  `json:"recordId"`
	Title    string `json:"title"`
}

// Artwork is the volatile image pair refreshed on read.
type Artwork struct {
	CoverURL  string `json:"coverUrl,omitempty"`
	BannerURL string `json:"bannerUrl,omitempty"`
}

// Empty reports whether neither image is set.
func (a Artwork) Empty() bool {
	return strings.TrimSpace(a.CoverURL) == "" && strings.TrimSpace(a.BannerURL) == ""
}

// TitleDetails is the provider view of a title used to refresh details.
type TitleDetails struct {
	NativeID          string   `json:"nativeId"`
	Name              string   `json:"name"`
	Synopsis          string   `json:"synopsis,omitempty"`
	Artwork           Artwork  `json:"artwork"`
	AlternativeTitles []string `json:"alternativeTitles,omitempty"`
	IMDBID            string   `json:"imdbId,omitempty"`
}
