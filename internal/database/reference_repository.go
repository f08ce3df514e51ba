package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"geekcatalog/models"
)

// ReferenceRepository answers lookups on external references.
type ReferenceRepository struct {
	db *sql.DB
}

func NewReferenceRepository(db *sql.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// Find returns the reference bound to (providerType, nativeID), or nil when
// no record owns it yet.
func (r *ReferenceRepository) Find(ctx context.Context, providerType models.ProviderType, nativeID string) (*models.ExternalReference, error) {
	var ref models.ExternalReference
	var pt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, record_id, provider_type, native_id
		FROM external_references
		WHERE provider_type = ? AND native_id = ?`, string(providerType), nativeID).
		Scan(&ref.ID, &ref.RecordID, &pt, &ref.NativeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reference %s:%s: %w", providerType, nativeID, err)
	}
	ref.ProviderType = models.ProviderType(pt)
	return &ref, nil
}

// ListForRecord returns every reference of a record in insertion order.
func (r *ReferenceRepository) ListForRecord(ctx context.Context, recordID int64) ([]models.ExternalReference, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, record_id, provider_type, native_id
		FROM external_references
		WHERE record_id = ?
		ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list references for %d: %w", recordID, err)
	}
	defer rows.Close()

	var refs []models.ExternalReference
	for rows.Next() {
		var ref models.ExternalReference
		var pt string
		if err := rows.Scan(&ref.ID, &ref.RecordID, &pt, &ref.NativeID); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		ref.ProviderType = models.ProviderType(pt)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ExistsForRecord reports whether the record has at least one reference.
func (r *ReferenceRepository) ExistsForRecord(ctx context.Context, recordID int64) (bool, error) {
	return referencesExist(ctx, r.db, recordID)
}

func referencesExist(ctx context.Context, q querier, recordID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM external_references WHERE record_id = ?)`, recordID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check references for %d: %w", recordID, err)
	}
	return exists, nil
}
