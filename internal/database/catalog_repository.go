package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"geekcatalog/models"
)

// CatalogRepository persists catalog records together with their external
// references.
type CatalogRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db, now: time.Now}
}

// ItemError describes a record rejected from a batch.
type ItemError struct {
	Index  int
	Record *models.CatalogRecord
	Err    error
}

func (e ItemError) Error() string {
	name := ""
	if e.Record != nil {
		name = e.Record.Name
	}
	return fmt.Sprintf("record %d (%q): %v", e.Index, name, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// BatchResult reports which records of a batch were persisted.
type BatchResult struct {
	Saved  []*models.CatalogRecord
	Failed []ItemError
}

// SaveBatch persists every record with its in-memory references and
// alternative titles inside one transaction. Each record runs under its own savepoint so a rejected record
// leaves the rest of the batch intact. The returned error is non-nil only
// when the transaction itself could not be opened or committed.
func (r *CatalogRepository) SaveBatch(ctx context.Context, records []*models.CatalogRecord) (BatchResult, error) {
	var result BatchResult
	if len(records) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, rec := range records {
		if err := r.saveOne(ctx, tx, rec); err != nil {
			result.Failed = append(result.Failed, ItemError{Index: i, Record: rec, Err: err})
			continue
		}
		result.Saved = append(result.Saved, rec)
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

// Save persists a single record. Item-level rejections are returned as errors.
func (r *CatalogRepository) Save(ctx context.Context, rec *models.CatalogRecord) error {
	result, err := r.SaveBatch(ctx, []*models.CatalogRecord{rec})
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return result.Failed[0].Err
	}
	return nil
}

func (r *CatalogRepository) saveOne(ctx context.Context, tx *sql.Tx, rec *models.CatalogRecord) (err error) {
	if rec == nil || strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if !rec.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRecord, rec.Category)
	}

	if len(rec.ExternalReferences) == 0 {
		bound := false
		if rec.ID != 0 {
			if bound, err = referencesExist(ctx, tx, rec.ID); err != nil {
				return err
			}
		}
		if !bound {
			return ErrMissingExternalReference
		}
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT save_record`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	originalID := rec.ID
	originalRefs := append([]models.ExternalReference(nil), rec.ExternalReferences...)
	originalTitles := append([]models.AlternativeTitle(nil), rec.AlternativeTitles...)
	defer func() {
		if err != nil {
			rec.ID = originalID
			rec.ExternalReferences = originalRefs
			rec.AlternativeTitles = originalTitles
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT save_record`); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
			}
		}
		if _, relErr := tx.ExecContext(ctx, `RELEASE SAVEPOINT save_record`); relErr != nil && err == nil {
			err = fmt.Errorf("release savepoint: %w", relErr)
		}
	}()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = r.now()
	}

	if rec.ID == 0 {
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO catalog_records (name, category, synopsis, cover_url, banner_url, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Name, string(rec.Category), rec.Synopsis, nullString(rec.CoverURL), nullString(rec.BannerURL), toMillis(rec.UpdatedAt))
		if execErr != nil {
			return fmt.Errorf("insert record: %w", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("record id: %w", idErr)
		}
		rec.ID = id
	} else {
		res, execErr := tx.ExecContext(ctx, `
			UPDATE catalog_records
			SET name = ?, category = ?, synopsis = ?, cover_url = ?, banner_url = ?, updated_at = ?
			WHERE id = ?`,
			rec.Name, string(rec.Category), rec.Synopsis, nullString(rec.CoverURL), nullString(rec.BannerURL), toMillis(rec.UpdatedAt), rec.ID)
		if execErr != nil {
			return fmt.Errorf("update record: %w", execErr)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record %d: %w", rec.ID, ErrNotFound)
		}
	}

	for i := range rec.ExternalReferences {
		ref := &rec.ExternalReferences[i]
		if ref.ID != 0 {
			continue
		}
		ref.RecordID = rec.ID
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO external_references (record_id, provider_type, native_id)
			VALUES (?, ?, ?)`,
			ref.RecordID, string(ref.ProviderType), ref.NativeID)
		if execErr != nil {
			if isUniqueViolation(execErr) {
				return fmt.Errorf("%s: %w", ref.Key(), ErrDuplicateReference)
			}
			return fmt.Errorf("insert reference %s: %w", ref.Key(), execErr)
		}
		if ref.ID, execErr = res.LastInsertId(); execErr != nil {
			return fmt.Errorf("reference id: %w", execErr)
		}
	}

	for i := range rec.AlternativeTitles {
		title := &rec.AlternativeTitles[i]
		if title.ID != 0 || strings.TrimSpace(title.Title) == "" {
			continue
		}
		title.RecordID = rec.ID
		res, execErr := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO alternative_titles (record_id, title) VALUES (?, ?)`,
			title.RecordID, title.Title)
		if execErr != nil {
			return fmt.Errorf("insert alternative title: %w", execErr)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			title.ID, _ = res.LastInsertId()
		}
	}
	return nil
}

const recordColumns = `id, name, category, synopsis, cover_url, banner_url, updated_at`

func scanRecord(row interface{ Scan(dest ...any) error }) (*models.CatalogRecord, error) {
	var (
		rec      models.CatalogRecord
		category string
		cover    sql.NullString
		banner   sql.NullString
		updated  int64
	)
	if err := row.Scan(&rec.ID, &rec.Name, &category, &rec.Synopsis, &cover, &banner, &updated); err != nil {
		return nil, err
	}
	rec.Category = models.Category(category)
	rec.CoverURL = stringPtr(cover)
	rec.BannerURL = stringPtr(banner)
	rec.UpdatedAt = fromMillis(updated)
	return &rec, nil
}

// Get returns the record row without related collections.
func (r *CatalogRepository) Get(ctx context.Context, id int64) (*models.CatalogRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM catalog_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// Count returns the total number of records.
func (r *CatalogRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// AtIndex returns the record at zero-based position index in id order, or
// nil when the index is past the end.
func (r *CatalogRepository) AtIndex(ctx context.Context, index int64) (*models.CatalogRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM catalog_records ORDER BY id LIMIT 1 OFFSET ?`, index)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record at %d: %w", index, err)
	}
	return rec, nil
}

// ListByCategory pages through records of one category in id order.
func (r *CatalogRepository) ListByCategory(ctx context.Context, category models.Category, limit, offset int) ([]*models.CatalogRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM catalog_records
		WHERE category = ?
		ORDER BY id
		LIMIT ? OFFSET ?`, string(category), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", category, err)
	}
	defer rows.Close()

	var out []*models.CatalogRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateArtwork overwrites the artwork columns and timestamp of a record.
func (r *CatalogRepository) UpdateArtwork(ctx context.Context, id int64, cover, banner *string, updatedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE catalog_records SET cover_url = ?, banner_url = ?, updated_at = ? WHERE id = ?`,
		nullString(cover), nullString(banner), toMillis(updatedAt), id)
	if err != nil {
		return fmt.Errorf("update artwork %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateDetails overwrites synopsis, artwork and timestamp of a record.
func (r *CatalogRepository) UpdateDetails(ctx context.Context, rec *models.CatalogRecord) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE catalog_records SET synopsis = ?, cover_url = ?, banner_url = ?, updated_at = ? WHERE id = ?`,
		rec.Synopsis, nullString(rec.CoverURL), nullString(rec.BannerURL), toMillis(rec.UpdatedAt), rec.ID)
	if err != nil {
		return fmt.Errorf("update details %d: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %d: %w", rec.ID, ErrNotFound)
	}
	return nil
}
