package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"geekcatalog/models"
	"geekcatalog/services/provider"
)

// ErrMalformedCandidate marks a candidate missing a required field. It is
// logged and skipped, never retried.
var ErrMalformedCandidate = errors.New("malformed candidate")

// Policy maps the classify tags of a title onto a category.
type Policy struct {
	Primary   models.Category
	Secondary models.Category
	// Tag flips Primary to Secondary when present (case-insensitive).
	Tag string
}

var (
	MoviePolicy  = Policy{Primary: models.CategoryMovie, Secondary: models.CategoryAnimeMovie, Tag: "anime"}
	SeriesPolicy = Policy{Primary: models.CategorySeries, Secondary: models.CategoryAnimeSeries, Tag: "anime"}
	GamePolicy   = Policy{Primary: models.CategoryGame, Secondary: models.CategoryVisualNovel, Tag: "visual novel"}
)

// Categorize picks the category for a tag set.
func (p Policy) Categorize(tags []string) models.Category {
	for _, t := range tags {
		if strings.EqualFold(strings.TrimSpace(t), p.Tag) {
			return p.Secondary
		}
	}
	return p.Primary
}

// ReferenceFinder looks up an existing external reference; it returns nil
// when none exists.
type ReferenceFinder interface {
	Find(ctx context.Context, providerType models.ProviderType, nativeID string) (*models.ExternalReference, error)
}

// Processor turns candidates into new catalog records.
type Processor struct {
	client provider.Client
	refs   ReferenceFinder
	policy Policy
	seen   *lru.Cache[string, struct{}]
	log    *slog.Logger
}

// NewProcessor builds a processor. client should already be wrapped with
// provider.Retrying. dedupeWindow bounds how many native ids of the current
// run are remembered; zero disables in-run dedupe.
func NewProcessor(client provider.Client, refs ReferenceFinder, policy Policy, dedupeWindow int) *Processor {
	p := &Processor{
		client: client,
		refs:   refs,
		policy: policy,
		log:    slog.Default().With("component", "ingest.processor", "provider", string(client.Type())),
	}
	if dedupeWindow > 0 {
		p.seen, _ = lru.New[string, struct{}](dedupeWindow)
	}
	return p
}

// Process returns the record to persist for c, or nil when c is already in
// the catalog. Classification failures degrade to CategoryUndetermined.
func (p *Processor) Process(ctx context.Context, c *Candidate) (*models.CatalogRecord, error) {
	if c == nil || c.NativeID == "" {
		line := int64(0)
		if c != nil {
			line = c.Line
		}
		return nil, fmt.Errorf("line %d: missing id: %w", line, ErrMalformedCandidate)
	}

	pt := p.client.Type()
	existing, err := p.refs.Find(ctx, pt, c.NativeID)
	if err != nil {
		return nil, fmt.Errorf("lookup %s:%s: %w", pt, c.NativeID, err)
	}
	if existing != nil {
		return nil, nil
	}
	if p.seen != nil {
		if found, _ := p.seen.ContainsOrAdd(c.NativeID, struct{}{}); found {
			return nil, nil
		}
	}

	if c.Name == "" {
		p.log.Warn("candidate without display name", "native_id", c.NativeID, "line", c.Line)
		return nil, fmt.Errorf("%s:%s: missing name: %w", pt, c.NativeID, ErrMalformedCandidate)
	}

	category := models.CategoryUndetermined
	tags, err := p.client.Classify(ctx, c.NativeID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn("classification failed, storing as undetermined", "native_id", c.NativeID, "error", err)
	} else {
		category = p.policy.Categorize(tags)
	}

	return &models.CatalogRecord{
		Name:     c.Name,
		Category: category,
		ExternalReferences: []models.ExternalReference{
			{ProviderType: pt, NativeID: c.NativeID},
		},
	}, nil
}
