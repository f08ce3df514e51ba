// Package credentials provides the shared provider credential store.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"geekcatalog/internal/database"
	"geekcatalog/models"
)

// ErrMissing is returned when a key has never been stored.
var ErrMissing = errors.New("credential not set")

// Repository is the persistence contract; *database.CredentialRepository
// satisfies it.
type Repository interface {
	Get(ctx context.Context, keyID string) (*models.Credential, error)
	Set(ctx context.Context, keyID, secret string) (*models.Credential, error)
	CompareAndSet(ctx context.Context, keyID string, expected int64, secret string) (*models.Credential, error)
}

// Store caches credentials in memory and guards every update. Concurrent
// rotations of one key collapse into a single fetch, and the persisted
// version only moves forward.
type Store struct {
	repo  Repository
	group singleflight.Group
	log   *slog.Logger

	mu    sync.RWMutex
	cache map[string]models.Credential
}

func NewStore(repo Repository) *Store {
	return &Store{
		repo:  repo,
		cache: make(map[string]models.Credential),
		log:   slog.Default().With("component", "credentials"),
	}
}

func (s *Store) cached(keyID string) (models.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[keyID]
	return c, ok
}

// remember stores c unless a newer version is already cached.
func (s *Store) remember(c *models.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cache[c.KeyID]; ok && cur.Version > c.Version {
		return
	}
	s.cache[c.KeyID] = *c
}

// Get returns the secret for keyID.
func (s *Store) Get(ctx context.Context, keyID string) (string, error) {
	if c, ok := s.cached(keyID); ok {
		return c.Secret, nil
	}
	return s.Reload(ctx, keyID)
}

// Reload bypasses the cache and reads the persisted secret.
func (s *Store) Reload(ctx context.Context, keyID string) (string, error) {
	c, err := s.repo.Get(ctx, keyID)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", fmt.Errorf("%s: %w", keyID, ErrMissing)
	}
	s.mu.Lock()
	s.cache[keyID] = *c
	s.mu.Unlock()
	return c.Secret, nil
}

// Set stores a secret unconditionally.
func (s *Store) Set(ctx context.Context, keyID, secret string) error {
	c, err := s.repo.Set(ctx, keyID, secret)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[keyID] = *c
	s.mu.Unlock()
	s.log.Info("credential stored", "key", keyID, "version", c.Version)
	return nil
}

// Seed stores secret only when keyID has no value yet.
func (s *Store) Seed(ctx context.Context, keyID, secret string) error {
	if secret == "" {
		return nil
	}
	c, err := s.repo.CompareAndSet(ctx, keyID, 0, secret)
	if errors.Is(err, database.ErrVersionConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	s.remember(c)
	return nil
}

// Rotate fetches a replacement secret and persists it with compare-and-set
// against the version read before fetching. If another writer won the race
// the stored secret is adopted instead. Concurrent callers for the same key
// share one fetch.
func (s *Store) Rotate(ctx context.Context, keyID string, fetch func(context.Context) (string, error)) (string, error) {
	v, err, shared := s.group.Do(keyID, func() (any, error) {
		current, err := s.repo.Get(ctx, keyID)
		if err != nil {
			return "", err
		}
		var expected int64
		if current != nil {
			expected = current.Version
		}

		secret, err := fetch(ctx)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", keyID, err)
		}
		if current != nil && current.Secret == secret {
			s.remember(current)
			return secret, nil
		}

		updated, err := s.repo.CompareAndSet(ctx, keyID, expected, secret)
		if errors.Is(err, database.ErrVersionConflict) {
			latest, gerr := s.repo.Get(ctx, keyID)
			if gerr != nil {
				return "", gerr
			}
			if latest == nil {
				return "", fmt.Errorf("%s: %w", keyID, ErrMissing)
			}
			s.log.Info("credential rotated concurrently, adopting stored value", "key", keyID, "version", latest.Version)
			s.remember(latest)
			return latest.Secret, nil
		}
		if err != nil {
			return "", err
		}
		s.remember(updated)
		s.log.Info("credential rotated", "key", keyID, "version", updated.Version)
		return updated.Secret, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.log.Debug("joined in-flight rotation", "key", keyID)
	}
	return v.(string), nil
}
