package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"

	"geekcatalog/models"
)

type fakeSecrets struct {
	mu        sync.Mutex
	values    map[string]string
	pending   map[string]string
	reloads   int
	rotations int
}

func newFakeSecrets(kv ...string) *fakeSecrets {
	s := &fakeSecrets{values: map[string]string{}, pending: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		s.values[kv[i]] = kv[i+1]
	}
	return s
}

func (s *fakeSecrets) Get(_ context.Context, keyID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[keyID]
	if !ok {
		return "", errors.New("credential not set")
	}
	return v, nil
}

func (s *fakeSecrets) Reload(ctx context.Context, keyID string) (string, error) {
	s.mu.Lock()
	s.reloads++
	if v, ok := s.pending[keyID]; ok {
		s.values[keyID] = v
	}
	s.mu.Unlock()
	return s.Get(ctx, keyID)
}

func (s *fakeSecrets) Rotate(ctx context.Context, keyID string, fetch func(context.Context) (string, error)) (string, error) {
	v, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotations++
	s.values[keyID] = v
	return v, nil
}

// scriptedClient fails each method with the queued errors before succeeding.
type scriptedClient struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	rotateFn func(context.Context) error
	rotates  int
}

func (c *scriptedClient) next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	if len(c.errs) > 1 {
		c.errs = c.errs[1:]
	}
	return err
}

func (c *scriptedClient) Type() models.ProviderType { return models.ProviderTMDBMovie }

func (c *scriptedClient) OpenTitleStream(context.Context) (io.ReadCloser, error) {
	if err := c.next(); err != nil {
		return nil, err
	}
	return io.NopCloser(nil), nil
}

func (c *scriptedClient) Classify(context.Context, string) ([]string, error) {
	if err := c.next(); err != nil {
		return nil, err
	}
	return []string{"anime"}, nil
}

func (c *scriptedClient) FetchDetails(_ context.Context, id string) (*models.TitleDetails, error) {
	if err := c.next(); err != nil {
		return nil, err
	}
	return &models.TitleDetails{NativeID: id}, nil
}

func (c *scriptedClient) FetchArtwork(context.Context, string) (models.Artwork, error) {
	if err := c.next(); err != nil {
		return models.Artwork{}, err
	}
	return models.Artwork{BannerURL: "banner"}, nil
}

func (c *scriptedClient) FetchAlternativeTitles(context.Context, string) ([]string, error) {
	if err := c.next(); err != nil {
		return nil, err
	}
	return []string{"alt"}, nil
}

func (c *scriptedClient) Search(context.Context, string) ([]models.TitleDetails, error) {
	if err := c.next(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *scriptedClient) Rotate(ctx context.Context) error {
	c.mu.Lock()
	c.rotates++
	c.mu.Unlock()
	if c.rotateFn != nil {
		return c.rotateFn(ctx)
	}
	return nil
}

func mockedHTTPClient(t *testing.T) *http.Client {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}
