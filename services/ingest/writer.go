package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"geekcatalog/internal/database"
	"geekcatalog/models"
	"geekcatalog/services/provider"
)

// RecordStore persists batches; *database.CatalogRepository satisfies it.
type RecordStore interface {
	SaveBatch(ctx context.Context, records []*models.CatalogRecord) (database.BatchResult, error)
}

// TitleFetcher is the part of provider.Client the writer uses.
type TitleFetcher interface {
	Type() models.ProviderType
	FetchAlternativeTitles(ctx context.Context, nativeID string) ([]string, error)
}

var _ TitleFetcher = provider.Client(nil)

// TitleStore persists alternative titles of saved records;
// *database.AlternativeTitleRepository satisfies it.
type TitleStore interface {
	SaveAll(ctx context.Context, titles []models.AlternativeTitle) (int, error)
}

// BatchReport summarizes one WriteBatch call. Duplicate references are
// counted but are not errors.
type BatchReport struct {
	Saved        int
	Duplicates   int
	Failed       int
	TitlesFailed int
	Errors       *multierror.Error
}

// Err returns the aggregated per-record failures, or nil.
func (r *BatchReport) Err() error {
	if r == nil {
		return nil
	}
	return r.Errors.ErrorOrNil()
}

// Writer persists processed records, then their alternative titles.
type Writer struct {
	records RecordStore
	store   TitleStore
	titles  TitleFetcher
	job     string
	log     *slog.Logger
}

// NewWriter builds a Writer. Alternative titles are skipped when store or
// titles is nil.
func NewWriter(records RecordStore, store TitleStore, titles TitleFetcher, job string) *Writer {
	return &Writer{
		records: records,
		store:   store,
		titles:  titles,
		job:     job,
		log:     slog.Default().With("component", "ingest.writer", "job", job),
	}
}

// WriteBatch persists the batch in one call, then fetches and stores
// alternative titles for the records that were saved. A failed title fetch
// or store only drops titles. Per-record persistence failures are isolated
// and reported; the returned error is non-nil only when the batch call
// itself failed.
func (w *Writer) WriteBatch(ctx context.Context, records []*models.CatalogRecord) (*BatchReport, error) {
	report := &BatchReport{}
	if len(records) == 0 {
		return report, nil
	}

	start := time.Now()
	result, err := w.records.SaveBatch(ctx, records)
	batchDuration.WithLabelValues(w.job).Observe(time.Since(start).Seconds())
	if err != nil {
		batches.WithLabelValues(w.job, "failed").Inc()
		return nil, fmt.Errorf("write batch of %d: %w", len(records), err)
	}
	batches.WithLabelValues(w.job, "committed").Inc()

	report.Saved = len(result.Saved)
	candidates.WithLabelValues(w.job, outcomeInserted).Add(float64(report.Saved))
	for _, failed := range result.Failed {
		if errors.Is(failed.Err, database.ErrDuplicateReference) {
			report.Duplicates++
			candidates.WithLabelValues(w.job, outcomeDuplicate).Inc()
			w.log.Info("reference already ingested", "error", failed)
			continue
		}
		report.Failed++
		report.Errors = multierror.Append(report.Errors, failed)
		candidates.WithLabelValues(w.job, outcomeFailed).Inc()
		w.log.Error("record not persisted", "error", failed)
	}
	w.saveTitles(ctx, result.Saved, report)
	return report, nil
}

// WriteOne persists a single record, returning its item error if any.
func (w *Writer) WriteOne(ctx context.Context, rec *models.CatalogRecord) (*BatchReport, error) {
	return w.WriteBatch(ctx, []*models.CatalogRecord{rec})
}

func (w *Writer) saveTitles(ctx context.Context, saved []*models.CatalogRecord, report *BatchReport) {
	if w.store == nil || w.titles == nil {
		return
	}
	var all []models.AlternativeTitle
	owners := 0
	for _, rec := range saved {
		titles, err := w.fetchTitles(ctx, rec)
		if err != nil {
			report.TitlesFailed++
			w.log.Warn("alternative titles unavailable", "name", rec.Name, "error", err)
			continue
		}
		if len(titles) == 0 {
			continue
		}
		for i := range titles {
			titles[i].RecordID = rec.ID
		}
		rec.AlternativeTitles = titles
		all = append(all, titles...)
		owners++
	}
	if len(all) == 0 {
		return
	}
	if _, err := w.store.SaveAll(ctx, all); err != nil {
		report.TitlesFailed += owners
		w.log.Warn("alternative titles not persisted", "records", owners, "error", err)
	}
}

func (w *Writer) fetchTitles(ctx context.Context, rec *models.CatalogRecord) ([]models.AlternativeTitle, error) {
	ref, ok := rec.Reference(w.titles.Type())
	if !ok || ref.NativeID == "" {
		return nil, nil
	}
	titles, err := w.titles.FetchAlternativeTitles(ctx, ref.NativeID)
	if err != nil {
		return nil, err
	}
	return NormalizeTitles(rec.Name, titles), nil
}
