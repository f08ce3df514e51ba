package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"geekcatalog/models"
)

// AlternativeTitleRepository stores display-name variants.
type AlternativeTitleRepository struct {
	db *sql.DB
}

func NewAlternativeTitleRepository(db *sql.DB) *AlternativeTitleRepository {
	return &AlternativeTitleRepository{db: db}
}

// SaveAll inserts titles in a single transaction. Titles whose owning record
// was never persisted are rejected; duplicates of an existing (record, title)
// pair are ignored. It returns the number of newly inserted rows.
func (r *AlternativeTitleRepository) SaveAll(ctx context.Context, titles []models.AlternativeTitle) (int, error) {
	if len(titles) == 0 {
		return 0, nil
	}
	for _, t := range titles {
		if t.RecordID == 0 {
			return 0, fmt.Errorf("%w: alternative title %q has no record", ErrInvalidRecord, t.Title)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO alternative_titles (record_id, title) VALUES (?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range titles {
		title := strings.TrimSpace(t.Title)
		if title == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, t.RecordID, title)
		if err != nil {
			return 0, fmt.Errorf("insert alternative title for %d: %w", t.RecordID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// ListForRecord returns the titles of a record in insertion order.
func (r *AlternativeTitleRepository) ListForRecord(ctx context.Context, recordID int64) ([]models.AlternativeTitle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, record_id, title FROM alternative_titles WHERE record_id = ? ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list alternative titles for %d: %w", recordID, err)
	}
	defer rows.Close()

	var out []models.AlternativeTitle
	for rows.Next() {
		var t models.AlternativeTitle
		if err := rows.Scan(&t.ID, &t.RecordID, &t.Title); err != nil {
			return nil, fmt.Errorf("scan alternative title: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
