package ingest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geekcatalog/internal/database"
	"geekcatalog/models"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.Config{DatabasePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeProvider serves an in-memory export and scripted classify results.
type fakeProvider struct {
	pt    models.ProviderType
	lines []string

	mu            sync.Mutex
	tags          map[string][]string
	classifyErr   map[string]error
	classifyHook  func(nativeID string)
	titles        map[string][]string
	titlesErr     map[string]error
	classifyCalls map[string]int
	titleCalls    int
	opens         int
}

func newFakeProvider(pt models.ProviderType, lines ...string) *fakeProvider {
	return &fakeProvider{
		pt:            pt,
		lines:         lines,
		tags:          map[string][]string{},
		classifyErr:   map[string]error{},
		titles:        map[string][]string{},
		titlesErr:     map[string]error{},
		classifyCalls: map[string]int{},
	}
}

func (f *fakeProvider) Type() models.ProviderType { return f.pt }

func (f *fakeProvider) OpenTitleStream(context.Context) (io.ReadCloser, error) {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader(strings.Join(f.lines, "\n") + "\n")), nil
}

func (f *fakeProvider) Classify(_ context.Context, nativeID string) ([]string, error) {
	if f.classifyHook != nil {
		f.classifyHook(nativeID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyCalls[nativeID]++
	if err := f.classifyErr[nativeID]; err != nil {
		return nil, err
	}
	return f.tags[nativeID], nil
}

func (f *fakeProvider) FetchDetails(context.Context, string) (*models.TitleDetails, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) FetchArtwork(context.Context, string) (models.Artwork, error) {
	return models.Artwork{}, errors.New("not used")
}

func (f *fakeProvider) FetchAlternativeTitles(_ context.Context, nativeID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titleCalls++
	if err := f.titlesErr[nativeID]; err != nil {
		return nil, err
	}
	return f.titles[nativeID], nil
}

func (f *fakeProvider) Search(context.Context, string) ([]models.TitleDetails, error) {
	return nil, nil
}

func (f *fakeProvider) totalClassifyCalls(nativeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classifyCalls[nativeID]
}

type memCheckpoints struct {
	mu      sync.Mutex
	saved   map[string]int64
	history []int64
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{saved: map[string]int64{}}
}

func (m *memCheckpoints) SaveCheckpoint(_ context.Context, id string, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[id] = offset
	m.history = append(m.history, offset)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func movieLine(id, title string) string {
	return `{"adult":false,"id":` + id + `,"original_title":"` + title + `","popularity":1.5,"video":false}`
}
