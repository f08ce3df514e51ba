package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"geekcatalog/models"
)

// CredentialRepository stores provider secrets with a version counter for
// optimistic concurrency.
type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Get returns the credential for keyID, or nil when it was never set.
func (r *CredentialRepository) Get(ctx context.Context, keyID string) (*models.Credential, error) {
	var cred models.Credential
	var updated int64
	err := r.db.QueryRowContext(ctx, `
		SELECT key_id, secret, version, updated_at FROM credentials WHERE key_id = ?`, keyID).
		Scan(&cred.KeyID, &cred.Secret, &cred.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", keyID, err)
	}
	cred.UpdatedAt = fromMillis(updated)
	return &cred, nil
}

// Set upserts a secret unconditionally and bumps its version.
func (r *CredentialRepository) Set(ctx context.Context, keyID, secret string) (*models.Credential, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (key_id, secret, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key_id) DO UPDATE SET secret = excluded.secret, version = credentials.version + 1, updated_at = excluded.updated_at`,
		keyID, secret, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("set credential %s: %w", keyID, err)
	}
	return r.Get(ctx, keyID)
}

// CompareAndSet replaces the secret only if the stored version still equals
// expected. A missing row matches expected == 0. ErrVersionConflict is
// returned when another writer got there first.
func (r *CredentialRepository) CompareAndSet(ctx context.Context, keyID string, expected int64, secret string) (*models.Credential, error) {
	now := toMillis(time.Now())
	var res sql.Result
	var err error
	if expected == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO credentials (key_id, secret, version, updated_at) VALUES (?, ?, 1, ?)`,
			keyID, secret, now)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE credentials SET secret = ?, version = version + 1, updated_at = ?
			WHERE key_id = ? AND version = ?`,
			secret, now, keyID, expected)
	}
	if err != nil {
		return nil, fmt.Errorf("compare and set credential %s: %w", keyID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("credential %s at version %d: %w", keyID, expected, ErrVersionConflict)
	}
	return r.Get(ctx, keyID)
}
