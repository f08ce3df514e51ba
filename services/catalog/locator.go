package catalog

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"geekcatalog/models"
)

// RecordIndex addresses records by position.
type RecordIndex interface {
	Count(ctx context.Context) (int64, error)
	AtIndex(ctx context.Context, index int64) (*models.CatalogRecord, error)
}

// Locator finds banner artwork of a random record by probing random
// positions. Records without a banner get one refresh attempt each.
type Locator struct {
	records   RecordIndex
	refresher *Refresher
	extra     int
	max       int
	intn      func(n int64) int64
	log       *slog.Logger
}

// NewLocator bounds each search at min(count+extra, max) draws.
func NewLocator(records RecordIndex, refresher *Refresher, extra, max int) *Locator {
	if extra < 0 {
		extra = 10
	}
	if max <= 0 {
		max = 200
	}
	return &Locator{
		records:   records,
		refresher: refresher,
		extra:     extra,
		max:       max,
		intn:      rand.Int64N,
		log:       slog.Default().With("component", "catalog.artwork"),
	}
}

// Attempts is the draw budget for a catalog of count records.
func (l *Locator) Attempts(count int64) int {
	return int(min(count+int64(l.extra), int64(l.max)))
}

// Find returns a banner URL, or false when none was found within the budget.
func (l *Locator) Find(ctx context.Context) (string, bool) {
	total, err := l.records.Count(ctx)
	if err != nil {
		l.log.Warn("count records", "error", err)
		return "", false
	}
	if total == 0 {
		return "", false
	}

	attempts := l.Attempts(total)
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return "", false
		}
		rec, err := l.records.AtIndex(ctx, l.intn(total))
		if err != nil {
			l.log.Debug("random draw failed", "error", err)
			continue
		}
		if rec == nil {
			continue
		}
		if rec.HasBanner() {
			return *rec.BannerURL, true
		}
		if l.refresher != nil && l.refresher.update(ctx, rec) && rec.HasBanner() {
			return *rec.BannerURL, true
		}
	}
	l.log.Info("no artwork found", "records", total, "attempts", attempts)
	return "", false
}
