package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geekcatalog/internal/database"
	"geekcatalog/models"
)

func movieRecord(id, name string) *models.CatalogRecord {
	return &models.CatalogRecord{
		Name:               name,
		Category:           models.CategoryMovie,
		ExternalReferences: []models.ExternalReference{{ProviderType: models.ProviderTMDBMovie, NativeID: id}},
	}
}

func TestWriter_PersistsRecordsWithTitles(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	fp := newFakeProvider(models.ProviderTMDBMovie)
	fp.titles["603"] = []string{"Matrix", "The Matrix", "Матрица"}
	w := NewWriter(db.Catalog, db.Titles, fp, "test")

	report, err := w.WriteBatch(ctx, []*models.CatalogRecord{movieRecord("603", "The Matrix"), movieRecord("604", "The Matrix Reloaded")})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Saved)
	assert.NoError(t, report.Err())

	ref, err := db.References.Find(ctx, models.ProviderTMDBMovie, "603")
	require.NoError(t, err)
	require.NotNil(t, ref)
	titles, err := db.Titles.ListForRecord(ctx, ref.RecordID)
	require.NoError(t, err)
	require.Len(t, titles, 2)
	assert.Equal(t, "Matrix", titles[0].Title)
	assert.Equal(t, "Матрица", titles[1].Title)
}

func TestWriter_TitleFailureDoesNotBlockRecord(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	fp := newFakeProvider(models.ProviderTMDBMovie)
	fp.titlesErr["603"] = errors.New("alternative titles unavailable")
	w := NewWriter(db.Catalog, db.Titles, fp, "test")

	report, err := w.WriteBatch(ctx, []*models.CatalogRecord{movieRecord("603", "The Matrix")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Saved)
	assert.Equal(t, 1, report.TitlesFailed)

	n, err := db.Catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWriter_IsolatesItemFailures(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := NewWriter(db.Catalog, db.Titles, nil, "test")

	_, err := w.WriteOne(ctx, movieRecord("1", "Existing"))
	require.NoError(t, err)

	invalid := movieRecord("3", "")
	report, err := w.WriteBatch(ctx, []*models.CatalogRecord{
		movieRecord("1", "Existing again"),
		movieRecord("2", "Fresh"),
		invalid,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Saved)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Failed)
	require.Error(t, report.Err())
	assert.ErrorIs(t, report.Err(), database.ErrInvalidRecord)

	n, err := db.Catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWriter_FetchesTitlesOnlyForSavedRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	fp := newFakeProvider(models.ProviderTMDBMovie)
	fp.titles["1"] = []string{"Existing Alias"}
	fp.titles["2"] = []string{"Fresh Alias"}
	fp.titles["3"] = []string{"Never Saved"}
	w := NewWriter(db.Catalog, db.Titles, nil, "test")
	_, err := w.WriteOne(ctx, movieRecord("1", "Existing"))
	require.NoError(t, err)

	w = NewWriter(db.Catalog, db.Titles, fp, "test")
	report, err := w.WriteBatch(ctx, []*models.CatalogRecord{
		movieRecord("1", "Existing again"),
		movieRecord("2", "Fresh"),
		movieRecord("3", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Saved)
	assert.Zero(t, report.TitlesFailed)
	assert.Equal(t, 1, fp.titleCalls, "duplicates and rejected records are not looked up")

	ref, err := db.References.Find(ctx, models.ProviderTMDBMovie, "2")
	require.NoError(t, err)
	require.NotNil(t, ref)
	titles, err := db.Titles.ListForRecord(ctx, ref.RecordID)
	require.NoError(t, err)
	require.Len(t, titles, 1)
	assert.Equal(t, "Fresh Alias", titles[0].Title)

	ref, err = db.References.Find(ctx, models.ProviderTMDBMovie, "1")
	require.NoError(t, err)
	titles, err = db.Titles.ListForRecord(ctx, ref.RecordID)
	require.NoError(t, err)
	assert.Empty(t, titles, "a duplicate must not attach titles to the existing record")
}

type failingTitles struct{ err error }

func (f failingTitles) SaveAll(context.Context, []models.AlternativeTitle) (int, error) {
	return 0, f.err
}

func TestWriter_TitleStoreFailureKeepsRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	fp := newFakeProvider(models.ProviderTMDBMovie)
	fp.titles["603"] = []string{"Matrix"}
	fp.titles["604"] = []string{"Matrix 2"}
	w := NewWriter(db.Catalog, failingTitles{err: errors.New("disk full")}, fp, "test")

	report, err := w.WriteBatch(ctx, []*models.CatalogRecord{
		movieRecord("603", "The Matrix"),
		movieRecord("604", "The Matrix Reloaded"),
		movieRecord("605", "The Matrix Revolutions"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Saved)
	assert.Equal(t, 2, report.TitlesFailed, "only records that had titles count")

	n, err := db.Catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

type failingStore struct{ err error }

func (f failingStore) SaveBatch(context.Context, []*models.CatalogRecord) (database.BatchResult, error) {
	return database.BatchResult{}, f.err
}

func TestWriter_BatchFailure(t *testing.T) {
	boom := errors.New("database is locked")
	w := NewWriter(failingStore{err: boom}, nil, nil, "test")

	report, err := w.WriteBatch(context.Background(), []*models.CatalogRecord{movieRecord("1", "A")})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, report)
}

func TestWriter_EmptyBatch(t *testing.T) {
	w := NewWriter(failingStore{err: errors.New("unused")}, nil, nil, "test")
	report, err := w.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.Saved)
	assert.NoError(t, report.Err())
}
