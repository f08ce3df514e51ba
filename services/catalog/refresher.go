package catalog

import (
	"context"
	"log/slog"
	"time"

	"geekcatalog/models"
)

const DefaultStaleAfter = 24 * time.Hour

// Refresher re-fetches artwork of records older than a threshold. It is
// best-effort: a failed refresh leaves the record stale and unchanged.
type Refresher struct {
	updaters   Dispatch
	staleAfter time.Duration
	now        func() time.Time
	log        *slog.Logger
}

func NewRefresher(updaters Dispatch, staleAfter time.Duration, now func() time.Time) *Refresher {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Refresher{
		updaters:   updaters,
		staleAfter: staleAfter,
		now:        now,
		log:        slog.Default().With("component", "catalog.refresher"),
	}
}

// Stale reports whether rec is older than the threshold.
func (r *Refresher) Stale(rec *models.CatalogRecord) bool {
	return rec != nil && r.now().Sub(rec.UpdatedAt) > r.staleAfter
}

// Refresh updates rec in place when it is stale and reports whether it was
// refreshed.
func (r *Refresher) Refresh(ctx context.Context, rec *models.CatalogRecord) bool {
	if !r.Stale(rec) {
		return false
	}
	return r.update(ctx, rec)
}

// update runs the category's updater regardless of age.
func (r *Refresher) update(ctx context.Context, rec *models.CatalogRecord) bool {
	u, ok := r.updaters[rec.Category]
	if !ok || u == nil {
		r.log.Debug("no updater for category", "id", rec.ID, "category", string(rec.Category))
		return false
	}
	start := time.Now()
	if err := u.UpdateArtwork(ctx, rec); err != nil {
		refreshes.WithLabelValues(string(rec.Category), "failed").Inc()
		r.log.Warn("artwork refresh failed", "id", rec.ID, "category", string(rec.Category), "error", err)
		return false
	}
	refreshes.WithLabelValues(string(rec.Category), "refreshed").Inc()
	r.log.Debug("artwork refreshed", "id", rec.ID, "took", time.Since(start))
	return true
}
