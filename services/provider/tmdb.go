package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"geekcatalog/models"
)

const tmdbImageBase = "https://image.tmdb.org/t/p/original"

// TMDBKind selects the movie or TV half of the TMDB API.
type TMDBKind string

const (
	TMDBMovie TMDBKind = "movie"
	TMDBTV    TMDBKind = "tv"
)

func (k TMDBKind) exportName() string {
	if k == TMDBTV {
		return "tv_series"
	}
	return "movie"
}

func (k TMDBKind) providerType() models.ProviderType {
	if k == TMDBTV {
		return models.ProviderTMDBTV
	}
	return models.ProviderTMDBMovie
}

// TMDBOptions configures a TMDB client.
type TMDBOptions struct {
	APIBase           string
	ExportBase        string
	Language          string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Exports           *ExportCache
	Secrets           Secrets
	Now               func() time.Time
}

// TMDBClient implements Client for TMDB movies or TV series. The API key is
// read from the credential store on every request.
type TMDBClient struct {
	kind       TMDBKind
	apiBase    string
	exportBase string
	language   string
	httpc      *http.Client
	limiter    *rate.Limiter
	exports    *ExportCache
	secrets    Secrets
	now        func() time.Time
	log        *slog.Logger
}

var (
	_ Client       = (*TMDBClient)(nil)
	_ Rotator      = (*TMDBClient)(nil)
	_ ExportOpener = (*TMDBClient)(nil)
)

func NewTMDBClient(kind TMDBKind, opts TMDBOptions) *TMDBClient {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.themoviedb.org"
	}
	if opts.ExportBase == "" {
		opts.ExportBase = "https://files.tmdb.org/p/exports"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	httpc := newHTTPClient(opts.HTTPClient)
	if opts.Exports == nil {
		opts.Exports = NewExportCache(nil, "exports", httpc)
	}
	return &TMDBClient{
		kind:       kind,
		apiBase:    strings.TrimRight(opts.APIBase, "/"),
		exportBase: strings.TrimRight(opts.ExportBase, "/"),
		language:   opts.Language,
		httpc:      httpc,
		limiter:    newLimiter(opts.RequestsPerSecond),
		exports:    opts.Exports,
		secrets:    opts.Secrets,
		now:        opts.Now,
		log:        slog.Default().With("component", "provider.tmdb", "kind", string(kind)),
	}
}

func (c *TMDBClient) Type() models.ProviderType { return c.kind.providerType() }

// ExportName is the file name of the export published for day.
func (c *TMDBClient) ExportName(day time.Time) string {
	return fmt.Sprintf("%s_ids_%s.json.gz", c.kind.exportName(), day.UTC().Format("01_02_2006"))
}

func (c *TMDBClient) CurrentExport() string { return c.ExportName(c.now()) }

func (c *TMDBClient) OpenTitleStream(ctx context.Context) (io.ReadCloser, error) {
	return c.OpenExport(ctx, c.CurrentExport())
}

// OpenExport opens a named export of this kind, downloading it when it is
// not cached.
func (c *TMDBClient) OpenExport(ctx context.Context, name string) (io.ReadCloser, error) {
	prefix := c.kind.exportName() + "_ids_"
	if !strings.HasPrefix(name, prefix) || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("export %q is not a %s export: %w", name, c.kind, ErrNotFound)
	}
	return c.exports.Open(ctx, c.exportBase+"/"+name, name, prefix)
}

// Rotate re-reads the API key from the store; TMDB keys cannot be minted.
func (c *TMDBClient) Rotate(ctx context.Context) error {
	if c.secrets == nil {
		return fmt.Errorf("tmdb: no credential store: %w", ErrCredentialExpired)
	}
	_, err := c.secrets.Reload(ctx, models.CredentialTMDBAPIKey)
	return err
}

func (c *TMDBClient) get(ctx context.Context, path string, q url.Values, v any) error {
	if c.secrets == nil {
		return fmt.Errorf("tmdb: no credential store: %w", ErrCredentialExpired)
	}
	key, err := c.secrets.Get(ctx, models.CredentialTMDBAPIKey)
	if err != nil {
		return fmt.Errorf("tmdb api key: %w", err)
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_key", key)
	if c.language != "" && q.Get("language") == "" {
		q.Set("language", c.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return doJSON(ctx, c.httpc, c.limiter, "tmdb", req, v)
}

type namedItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (c *TMDBClient) Classify(ctx context.Context, nativeID string) ([]string, error) {
	var resp struct {
		Keywords []namedItem `json:"keywords"`
		Results  []namedItem `json:"results"`
	}
	if err := c.get(ctx, fmt.Sprintf("/3/%s/%s/keywords", c.kind, url.PathEscape(nativeID)), nil, &resp); err != nil {
		return nil, err
	}
	list := resp.Keywords
	if c.kind == TMDBTV {
		list = resp.Results
	}
	tags := make([]string, 0, len(list))
	for _, k := range list {
		if name := strings.ToLower(strings.TrimSpace(k.Name)); name != "" {
			tags = append(tags, name)
		}
	}
	return tags, nil
}

type tmdbTitle struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Name         string `json:"name"`
	Overview     string `json:"overview"`
	PosterPath   string `json:"poster_path"`
	BackdropPath string `json:"backdrop_path"`
	IMDBID       string `json:"imdb_id"`
}

func (t tmdbTitle) details() models.TitleDetails {
	name := t.Title
	if name == "" {
		name = t.Name
	}
	return models.TitleDetails{
		NativeID: strconv.FormatInt(t.ID, 10),
		Name:     name,
		Synopsis: t.Overview,
		Artwork:  models.Artwork{CoverURL: tmdbImage(t.PosterPath), BannerURL: tmdbImage(t.BackdropPath)},
		IMDBID:   t.IMDBID,
	}
}

func tmdbImage(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	return tmdbImageBase + path
}

func (c *TMDBClient) FetchDetails(ctx context.Context, nativeID string) (*models.TitleDetails, error) {
	var resp tmdbTitle
	if err := c.get(ctx, fmt.Sprintf("/3/%s/%s", c.kind, url.PathEscape(nativeID)), nil, &resp); err != nil {
		return nil, err
	}
	d := resp.details()
	if d.NativeID == "0" {
		d.NativeID = nativeID
	}
	return &d, nil
}

func (c *TMDBClient) FetchArtwork(ctx context.Context, nativeID string) (models.Artwork, error) {
	var resp struct {
		Posters []struct {
			FilePath string `json:"file_path"`
		} `json:"posters"`
		Backdrops []struct {
			FilePath string `json:"file_path"`
		} `json:"backdrops"`
	}
	q := url.Values{}
	// images are mostly untagged; "null" keeps them in the response
	q.Set("include_image_language", "en,null")
	if err := c.get(ctx, fmt.Sprintf("/3/%s/%s/images", c.kind, url.PathEscape(nativeID)), q, &resp); err != nil {
		return models.Artwork{}, err
	}
	var art models.Artwork
	if len(resp.Posters) > 0 {
		art.CoverURL = tmdbImage(resp.Posters[0].FilePath)
	}
	if len(resp.Backdrops) > 0 {
		art.BannerURL = tmdbImage(resp.Backdrops[0].FilePath)
	}
	return art, nil
}

func (c *TMDBClient) FetchAlternativeTitles(ctx context.Context, nativeID string) ([]string, error) {
	type altTitle struct {
		Title string `json:"title"`
	}
	var resp struct {
		Titles  []altTitle `json:"titles"`
		Results []altTitle `json:"results"`
	}
	if err := c.get(ctx, fmt.Sprintf("/3/%s/%s/alternative_titles", c.kind, url.PathEscape(nativeID)), nil, &resp); err != nil {
		return nil, err
	}
	list := resp.Titles
	if c.kind == TMDBTV {
		list = resp.Results
	}
	out := make([]string, 0, len(list))
	for _, t := range list {
		if s := strings.TrimSpace(t.Title); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *TMDBClient) Search(ctx context.Context, query string) ([]models.TitleDetails, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	var resp struct {
		Results []tmdbTitle `json:"results"`
	}
	q := url.Values{}
	q.Set("query", query)
	if err := c.get(ctx, fmt.Sprintf("/3/search/%s", c.kind), q, &resp); err != nil {
		return nil, err
	}
	out := make([]models.TitleDetails, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r.details())
	}
	c.log.Debug("search", "query", query, "results", len(out))
	return out, nil
}
