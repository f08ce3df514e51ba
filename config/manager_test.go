package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))

	s, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, 10, s.Ingest.ChunkSize)
	assert.Equal(t, 2*time.Second, s.Ingest.ChunkDelay)
	assert.Equal(t, 2, s.Retry.Attempts)
	assert.Equal(t, 24*time.Hour, s.Refresh.StaleAfter)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	data := []byte(`
ingest:
  chunk_size: 25
  chunk_delay: 500ms
  workers: 8
refresh:
  stale_after: 12h
providers:
  tmdb:
    language: fr-FR
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := NewManager(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 25, s.Ingest.ChunkSize)
	assert.Equal(t, 500*time.Millisecond, s.Ingest.ChunkDelay)
	assert.Equal(t, 8, s.Ingest.Workers)
	assert.Equal(t, 12*time.Hour, s.Refresh.StaleAfter)
	assert.Equal(t, "fr-FR", s.Providers.TMDB.Language)
	// untouched keys keep their defaults
	assert.Equal(t, "https://api.themoviedb.org", s.Providers.TMDB.APIBase)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest:\n  workers: 8\n"), 0o644))
	t.Setenv("CATALOG_INGEST_WORKERS", "16")
	t.Setenv("CATALOG_DATABASE_PATH", "/tmp/other.db")

	s, err := NewManager(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 16, s.Ingest.Workers)
	assert.Equal(t, "/tmp/other.db", s.Database.Path)
}

func TestLoad_FlagsOverride(t *testing.T) {
	mgr := NewManager("")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("ingest.chunk_size", 10, "")
	flags.String("unrelated", "", "")
	require.NoError(t, flags.Parse([]string{"--ingest.chunk_size=3"}))
	require.NoError(t, mgr.BindFlags(flags))

	s, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, s.Ingest.ChunkSize)
}

func TestLoad_InvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest:\n  workers: 0\n  chunk_size: -1\n"), 0o644))

	_, err := NewManager(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest.workers")
	assert.Contains(t, err.Error(), "ingest.chunk_size")
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest: [unterminated"), 0o644))

	_, err := NewManager(path).Load()
	assert.Error(t, err)
}

func TestSettings_CachesLoad(t *testing.T) {
	mgr := NewManager("")
	first, err := mgr.Settings()
	require.NoError(t, err)

	t.Setenv("CATALOG_INGEST_WORKERS", "9")
	cached, err := mgr.Settings()
	require.NoError(t, err)
	assert.Equal(t, first.Ingest.Workers, cached.Ingest.Workers)

	reloaded, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 9, reloaded.Ingest.Workers)
}

func TestValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	s.Retry.Attempts = 0
	s.Ingest.Workers = 65
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry.attempts")
	assert.Contains(t, err.Error(), "ingest.workers")
}
