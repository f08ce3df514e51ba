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

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"geekcatalog/models"
)

const igdbImageBase = "https://images.igdb.com/igdb/image/upload"

// IGDBOptions configures an IGDB client.
type IGDBOptions struct {
	APIBase           string
	TokenURL          string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Secrets           Secrets
}

// IGDBClient implements Client for games. Requests authenticate with a Twitch
// app token that is minted with client credentials when it expires.
type IGDBClient struct {
	apiBase  string
	tokenURL string
	httpc    *http.Client
	limiter  *rate.Limiter
	secrets  Secrets
	log      *slog.Logger
}

var (
	_ Client  = (*IGDBClient)(nil)
	_ Rotator = (*IGDBClient)(nil)
)

func NewIGDBClient(opts IGDBOptions) *IGDBClient {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.igdb.com"
	}
	if opts.TokenURL == "" {
		opts.TokenURL = "https://id.twitch.tv/oauth2/token"
	}
	return &IGDBClient{
		apiBase:  strings.TrimRight(opts.APIBase, "/"),
		tokenURL: opts.TokenURL,
		httpc:    newHTTPClient(opts.HTTPClient),
		limiter:  newLimiter(opts.RequestsPerSecond),
		secrets:  opts.Secrets,
		log:      slog.Default().With("component", "provider.igdb"),
	}
}

func (c *IGDBClient) Type() models.ProviderType { return models.ProviderIGDB }

// OpenTitleStream is unsupported: IGDB publishes no daily export.
func (c *IGDBClient) OpenTitleStream(ctx context.Context) (io.ReadCloser, error) {
	return nil, fmt.Errorf("igdb title stream: %w", ErrUnsupported)
}

// Rotate mints a fresh app token and stores it with compare-and-set.
func (c *IGDBClient) Rotate(ctx context.Context) error {
	if c.secrets == nil {
		return fmt.Errorf("igdb: no credential store: %w", ErrCredentialExpired)
	}
	_, err := c.secrets.Rotate(ctx, models.CredentialIGDBToken, c.fetchToken)
	return err
}

func (c *IGDBClient) fetchToken(ctx context.Context) (string, error) {
	clientID, err := c.secrets.Get(ctx, models.CredentialIGDBClientID)
	if err != nil {
		return "", fmt.Errorf("igdb client id: %w", err)
	}
	secret, err := c.secrets.Get(ctx, models.CredentialIGDBClientSecret)
	if err != nil {
		return "", fmt.Errorf("igdb client secret: %w", err)
	}
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("client_secret", secret)
	q.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := doJSON(ctx, c.httpc, c.limiter, "twitch", req, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("twitch token response without access_token")
	}
	c.log.Info("minted igdb token", "expires_in", resp.ExpiresIn)
	return resp.AccessToken, nil
}

func (c *IGDBClient) query(ctx context.Context, endpoint, body string, v any) error {
	if c.secrets == nil {
		return fmt.Errorf("igdb: no credential store: %w", ErrCredentialExpired)
	}
	clientID, err := c.secrets.Get(ctx, models.CredentialIGDBClientID)
	if err != nil {
		return fmt.Errorf("igdb client id: %w", err)
	}
	token, err := c.secrets.Get(ctx, models.CredentialIGDBToken)
	if err != nil {
		// no token yet behaves like an expired one so the caller rotates
		return fmt.Errorf("igdb token: %v: %w", err, ErrCredentialExpired)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v4/"+endpoint, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Client-ID", clientID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "text/plain")
	return doJSON(ctx, c.httpc, c.limiter, "igdb", req, v)
}

type igdbImage struct {
	ImageID string `json:"image_id"`
}

type igdbGame struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	Summary          string      `json:"summary"`
	Cover            *igdbImage  `json:"cover"`
	Artworks         []igdbImage `json:"artworks"`
	Screenshots      []igdbImage `json:"screenshots"`
	Genres           []namedItem `json:"genres"`
	AlternativeNames []namedItem `json:"alternative_names"`
}

func igdbImageURL(size, id string) string {
	if id == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s.jpg", igdbImageBase, size, id)
}

func (g igdbGame) artwork() models.Artwork {
	var art models.Artwork
	if g.Cover != nil {
		art.CoverURL = igdbImageURL("t_cover_big", g.Cover.ImageID)
	}
	switch {
	case len(g.Artworks) > 0:
		art.BannerURL = igdbImageURL("t_1080p", g.Artworks[0].ImageID)
	case len(g.Screenshots) > 0:
		art.BannerURL = igdbImageURL("t_1080p", g.Screenshots[0].ImageID)
	}
	return art
}

func (g igdbGame) details() models.TitleDetails {
	d := models.TitleDetails{
		NativeID: strconv.FormatInt(g.ID, 10),
		Name:     g.Name,
		Synopsis: g.Summary,
		Artwork:  g.artwork(),
	}
	for _, n := range g.AlternativeNames {
		if s := strings.TrimSpace(n.Name); s != "" {
			d.AlternativeTitles = append(d.AlternativeTitles, s)
		}
	}
	return d
}

func igdbID(nativeID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(nativeID), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("igdb id %q: %w", nativeID, ErrNotFound)
	}
	return id, nil
}

func (c *IGDBClient) game(ctx context.Context, nativeID, fields string) (*igdbGame, error) {
	id, err := igdbID(nativeID)
	if err != nil {
		return nil, err
	}
	var games []igdbGame
	if err := c.query(ctx, "games", fmt.Sprintf("fields %s; where id = %d;", fields, id), &games); err != nil {
		return nil, err
	}
	if len(games) == 0 {
		return nil, fmt.Errorf("igdb game %d: %w", id, ErrNotFound)
	}
	return &games[0], nil
}

// Classify returns genre names; "visual novel" marks the secondary category.
func (c *IGDBClient) Classify(ctx context.Context, nativeID string) ([]string, error) {
	g, err := c.game(ctx, nativeID, "genres.name")
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(g.Genres))
	for _, genre := range g.Genres {
		if name := strings.ToLower(strings.TrimSpace(genre.Name)); name != "" {
			tags = append(tags, name)
		}
	}
	return tags, nil
}

func (c *IGDBClient) FetchDetails(ctx context.Context, nativeID string) (*models.TitleDetails, error) {
	g, err := c.game(ctx, nativeID, "name,summary,cover.image_id,artworks.image_id,screenshots.image_id,alternative_names.name")
	if err != nil {
		return nil, err
	}
	d := g.details()
	return &d, nil
}

func (c *IGDBClient) FetchArtwork(ctx context.Context, nativeID string) (models.Artwork, error) {
	g, err := c.game(ctx, nativeID, "cover.image_id,artworks.image_id,screenshots.image_id")
	if err != nil {
		return models.Artwork{}, err
	}
	return g.artwork(), nil
}

func (c *IGDBClient) FetchAlternativeTitles(ctx context.Context, nativeID string) ([]string, error) {
	g, err := c.game(ctx, nativeID, "alternative_names.name")
	if err != nil {
		return nil, err
	}
	return g.details().AlternativeTitles, nil
}

func (c *IGDBClient) Search(ctx context.Context, query string) ([]models.TitleDetails, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	quoted, _ := json.Marshal(query)
	var games []igdbGame
	body := fmt.Sprintf("search %s; fields name,summary,cover.image_id,artworks.image_id; limit 10;", quoted)
	if err := c.query(ctx, "games", body, &games); err != nil {
		return nil, err
	}
	out := make([]models.TitleDetails, 0, len(games))
	for _, g := range games {
		out = append(out, g.details())
	}
	return out, nil
}
