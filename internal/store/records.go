package store

import (
	"context"
	"database/sql"
	"fmt"

	"outpost-sync/internal/models"
)

// AppendRecord inserts one row into the append-only sync audit log.
// Records are never updated or deleted.
func (s *Store) AppendRecord(ctx context.Context, record *models.SyncRecord) error {
	query := `
		INSERT INTO sync_records
			(id, source_name, target_name, strategy, status,
			 items_added, items_updated, items_skipped, items_failed,
			 errors, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`

	return s.db.GetContext(ctx, &record.CreatedAt, query,
		record.ID, record.SourceName, record.TargetName, record.Strategy, record.Status,
		record.ItemsAdded, record.ItemsUpdated, record.ItemsSkipped, record.ItemsFailed,
		record.Errors, record.StartedAt, record.CompletedAt)
}

// GetRecordByID retrieves one audit record
func (s *Store) GetRecordByID(ctx context.Context, id string) (*models.SyncRecord, error) {
	var record models.SyncRecord
	err := s.db.GetContext(ctx, &record, "SELECT * FROM sync_records WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sync record not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRecords retrieves the most recent audit records
func (s *Store) ListRecords(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.SyncRecord
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM sync_records ORDER BY created_at DESC LIMIT $1", limit)
	return records, err
}

// ListRecordsByPair retrieves recent records for one source/target pair
func (s *Store) ListRecordsByPair(ctx context.Context, source, target string, limit int) ([]models.SyncRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.SyncRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM sync_records
		 WHERE source_name = $1 AND target_name = $2
		 ORDER BY created_at DESC LIMIT $3`,
		source, target, limit)
	return records, err
}

// CountRecordsByStatus returns how many audit records carry the given status
func (s *Store) CountRecordsByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM sync_records WHERE status = $1", status)
	return count, err
}
