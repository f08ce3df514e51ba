package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geekcatalog/models"
)

func TestRefresher_StaleThreshold(t *testing.T) {
	u := &countingUpdater{}
	r := NewRefresher(dispatchAll(u), 24*time.Hour, fixedNow)
	ctx := context.Background()

	stale := &models.CatalogRecord{ID: 1, Category: models.CategoryMovie, UpdatedAt: testNow.Add(-25 * time.Hour)}
	fresh := &models.CatalogRecord{ID: 2, Category: models.CategoryMovie, UpdatedAt: testNow.Add(-time.Hour)}

	assert.True(t, r.Stale(stale))
	assert.False(t, r.Stale(fresh))

	assert.True(t, r.Refresh(ctx, stale))
	assert.Equal(t, 1, u.count())
	assert.False(t, r.Refresh(ctx, fresh))
	assert.Equal(t, 1, u.count(), "fresh records are not refreshed")
}

func TestRefresher_FailureIsSilent(t *testing.T) {
	u := &countingUpdater{err: errors.New("provider down")}
	r := NewRefresher(dispatchAll(u), 0, fixedNow)
	cover := "https://img/old.jpg"
	rec := &models.CatalogRecord{ID: 1, Category: models.CategoryGame, CoverURL: &cover, UpdatedAt: testNow.Add(-48 * time.Hour)}

	assert.False(t, r.Refresh(context.Background(), rec))
	assert.Equal(t, 1, u.count())
	assert.Equal(t, "https://img/old.jpg", *rec.CoverURL)
	assert.True(t, r.Stale(rec), "still stale after a failed refresh")
}

func TestRefresher_MissingUpdater(t *testing.T) {
	r := NewRefresher(Dispatch{}, time.Hour, fixedNow)
	rec := &models.CatalogRecord{Category: models.CategorySeries, UpdatedAt: testNow.Add(-2 * time.Hour)}
	assert.False(t, r.Refresh(context.Background(), rec))
}

func TestProviderUpdater_PersistsArtwork(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	movies := newArtProvider(models.ProviderTMDBMovie)
	movies.art["603"] = models.Artwork{CoverURL: "https://image.tmdb.org/t/p/original/poster.jpg", BannerURL: "https://image.tmdb.org/t/p/original/backdrop.jpg"}
	rec := saveRecord(t, db, "The Matrix", models.CategoryMovie, models.ProviderTMDBMovie, "603", 30*time.Hour)

	d := NewDispatch(NewProviders(movies), db.References, db.Catalog, fixedNow)
	loaded, err := db.Catalog.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Empty(t, loaded.ExternalReferences)

	require.NoError(t, d[models.CategoryMovie].UpdateArtwork(ctx, loaded))
	assert.Equal(t, "https://image.tmdb.org/t/p/original/backdrop.jpg", *loaded.BannerURL)

	stored, err := db.Catalog.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CoverURL)
	assert.Equal(t, "https://image.tmdb.org/t/p/original/poster.jpg", *stored.CoverURL)
	assert.True(t, stored.UpdatedAt.Equal(testNow))
}

func TestProviderUpdater_EmptyArtworkKeepsExisting(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	games := newArtProvider(models.ProviderIGDB)
	rec := saveRecord(t, db, "Outer Wilds", models.CategoryGame, models.ProviderIGDB, "11737", 30*time.Hour)
	banner := "https://images.igdb.com/igdb/image/upload/t_1080p/old.jpg"
	require.NoError(t, db.Catalog.UpdateArtwork(ctx, rec.ID, nil, &banner, rec.UpdatedAt))
	loaded, err := db.Catalog.Get(ctx, rec.ID)
	require.NoError(t, err)

	d := NewDispatch(NewProviders(games), db.References, db.Catalog, fixedNow)
	require.NoError(t, d[models.CategoryGame].UpdateArtwork(ctx, loaded))
	assert.Equal(t, banner, *loaded.BannerURL)
	assert.True(t, loaded.UpdatedAt.Equal(testNow))
}

func TestDispatch_CategoryPicksProvider(t *testing.T) {
	movies := newArtProvider(models.ProviderTMDBMovie)
	tv := newArtProvider(models.ProviderTMDBTV)
	games := newArtProvider(models.ProviderIGDB)
	providers := NewProviders(movies, tv, games)

	cases := []struct {
		cat  models.Category
		refs []models.ExternalReference
		want *artProvider
	}{
		{models.CategoryAnimeMovie, []models.ExternalReference{{ProviderType: models.ProviderTMDBMovie, NativeID: "129"}}, movies},
		{models.CategoryAnimeSeries, []models.ExternalReference{{ProviderType: models.ProviderIMDB, NativeID: "tt1"}, {ProviderType: models.ProviderTMDBTV, NativeID: "31910"}}, tv},
		{models.CategoryVisualNovel, []models.ExternalReference{{ProviderType: models.ProviderIGDB, NativeID: "1942"}}, games},
		{models.CategoryUndetermined, []models.ExternalReference{{ProviderType: models.ProviderIGDB, NativeID: "7"}}, games},
	}
	for _, tc := range cases {
		client, nativeID, err := providers.resolve(&models.CatalogRecord{Category: tc.cat, ExternalReferences: tc.refs})
		require.NoError(t, err, tc.cat)
		assert.Equal(t, tc.want.Type(), client.Type(), tc.cat)
		assert.NotEmpty(t, nativeID)
	}

	_, _, err := providers.resolve(&models.CatalogRecord{
		Category:           models.CategoryMovie,
		ExternalReferences: []models.ExternalReference{{ProviderType: models.ProviderIGDB, NativeID: "1"}},
	})
	assert.ErrorIs(t, err, ErrNoReference, "a movie is never refreshed from a game provider")
	_, _, err = NewProviders().resolve(&models.CatalogRecord{Category: models.CategoryUndetermined})
	assert.ErrorIs(t, err, ErrNoReference)
}
