package provider

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geekcatalog/models"
)

const (
	testIGDBBase  = "https://igdb.test"
	testTokenURL  = "https://twitch.test/oauth2/token"
	testGamesPath = testIGDBBase + "/v4/games"
)

func newTestIGDB(t *testing.T, kv ...string) (*IGDBClient, *fakeSecrets) {
	t.Helper()
	secrets := newFakeSecrets(append([]string{
		models.CredentialIGDBClientID, "client",
		models.CredentialIGDBClientSecret, "shh",
	}, kv...)...)
	client := NewIGDBClient(IGDBOptions{
		APIBase:    testIGDBBase,
		TokenURL:   testTokenURL,
		HTTPClient: mockedHTTPClient(t),
		Secrets:    secrets,
	})
	return client, secrets
}

func TestIGDB_ClassifyVisualNovel(t *testing.T) {
	client, _ := newTestIGDB(t, models.CredentialIGDBToken, "tok")
	httpmock.RegisterResponder(http.MethodPost, testGamesPath,
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			assert.Equal(t, "fields genres.name; where id = 1942;", string(body))
			assert.Equal(t, "client", req.Header.Get("Client-ID"))
			assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, `[{"id":1942,"genres":[{"id":34,"name":"Visual Novel"},{"id":12,"name":"Role-playing (RPG)"}]}]`), nil
		})

	tags, err := client.Classify(context.Background(), "1942")
	require.NoError(t, err)
	assert.Equal(t, []string{"visual novel", "role-playing (rpg)"}, tags)
}

func TestIGDB_FetchDetailsAndArtwork(t *testing.T) {
	client, _ := newTestIGDB(t, models.CredentialIGDBToken, "tok")
	httpmock.RegisterResponder(http.MethodPost, testGamesPath,
		httpmock.NewStringResponder(http.StatusOK, `[{"id":7,"name":"Steins;Gate","summary":"Time travel.","cover":{"image_id":"co1"},"screenshots":[{"image_id":"sc1"}],"alternative_names":[{"name":"STEINS;GATE"}]}]`))

	d, err := client.FetchDetails(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Steins;Gate", d.Name)
	assert.Equal(t, "https://images.igdb.com/igdb/image/upload/t_cover_big/co1.jpg", d.Artwork.CoverURL)
	assert.Equal(t, "https://images.igdb.com/igdb/image/upload/t_1080p/sc1.jpg", d.Artwork.BannerURL)
	assert.Equal(t, []string{"STEINS;GATE"}, d.AlternativeTitles)

	art, err := client.FetchArtwork(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, d.Artwork, art)
}

func TestIGDB_UnknownGame(t *testing.T) {
	client, _ := newTestIGDB(t, models.CredentialIGDBToken, "tok")
	httpmock.RegisterResponder(http.MethodPost, testGamesPath, httpmock.NewStringResponder(http.StatusOK, `[]`))

	_, err := client.FetchDetails(context.Background(), "99")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.FetchDetails(context.Background(), "not-a-number")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIGDB_TitleStreamUnsupported(t *testing.T) {
	client, _ := newTestIGDB(t)
	_, err := client.OpenTitleStream(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestIGDB_ExpiredTokenRotatesThroughRetrying(t *testing.T) {
	client, secrets := newTestIGDB(t, models.CredentialIGDBToken, "stale")
	httpmock.RegisterResponder(http.MethodPost, testTokenURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "client_credentials", req.URL.Query().Get("grant_type"))
			assert.Equal(t, "client", req.URL.Query().Get("client_id"))
			return httpmock.NewStringResponse(http.StatusOK, `{"access_token":"fresh","expires_in":5000000}`), nil
		})
	httpmock.RegisterResponder(http.MethodPost, testGamesPath,
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer fresh" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"message":"invalid token"}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `[{"id":1,"genres":[{"name":"Adventure"}]}]`), nil
		})

	tags, err := NewRetrying(client, RetryOptions{Attempts: 2}).Classify(context.Background(), "1")

	require.NoError(t, err)
	assert.Equal(t, []string{"adventure"}, tags)
	assert.Equal(t, 1, secrets.rotations)
	assert.Equal(t, "fresh", secrets.values[models.CredentialIGDBToken])
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 2, info["POST "+testGamesPath])
	assert.Equal(t, 1, info["POST "+testTokenURL])
}

func TestIGDB_MissingTokenTriggersRotation(t *testing.T) {
	client, secrets := newTestIGDB(t)
	httpmock.RegisterResponder(http.MethodPost, testTokenURL,
		httpmock.NewStringResponder(http.StatusOK, `{"access_token":"first"}`))
	httpmock.RegisterResponder(http.MethodPost, testGamesPath,
		httpmock.NewStringResponder(http.StatusOK, `[{"id":1,"alternative_names":[{"name":"Alt"}]}]`))

	titles, err := NewRetrying(client, RetryOptions{Attempts: 2}).FetchAlternativeTitles(context.Background(), "1")

	require.NoError(t, err)
	assert.Equal(t, []string{"Alt"}, titles)
	assert.Equal(t, 1, secrets.rotations)
}

func TestIGDB_Search(t *testing.T) {
	client, _ := newTestIGDB(t, models.CredentialIGDBToken, "tok")
	httpmock.RegisterResponder(http.MethodPost, testGamesPath,
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			assert.Contains(t, string(body), `search "zelda";`)
			return httpmock.NewStringResponse(http.StatusOK, `[{"id":1025,"name":"Zelda"}]`), nil
		})

	results, err := client.Search(context.Background(), "zelda")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1025", results[0].NativeID)
}
