package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const evidenceColumns = `id, detail_id, purchase_id, file_name, file_path, staged_path, classification, state, created_at, stored_at`

// EvidenceRepository implements port.EvidenceRepository over the twelve <stage>_evidence tables
type EvidenceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *sql.DB, logger *zap.Logger) port.EvidenceRepository {
	return &EvidenceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts an evidence row; the state defaults to STAGED
func (r *EvidenceRepository) Create(ctx context.Context, file *entity.EvidenceFile) error {
	tables, err := tablesFor(file.Stage)
	if err != nil {
		return err
	}

	if file.State == "" {
		file.State = entity.EvidenceStateStaged
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (detail_id, purchase_id, file_name, file_path, staged_path, classification, state, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tables.evidence)

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		file.DetailID,
		file.PurchaseID,
		file.FileName,
		file.FilePath,
		file.StagedPath,
		file.Classification,
		file.State,
		file.CreatedAt,
		file.StoredAt,
	)
	if err != nil {
		r.logger.Error("Failed to create evidence",
			zap.String("stage_key", file.Stage.String()),
			zap.Int64("detail_id", file.DetailID),
			zap.Error(err))
		return fmt.Errorf("failed to create evidence: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	file.ID = id
	return nil
}

// GetByID retrieves an evidence row by ID
func (r *EvidenceRepository) GetByID(ctx context.Context, stage entity.StageKey, id int64) (*entity.EvidenceFile, error) {
	tables, err := tablesFor(stage)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, evidenceColumns, tables.evidence)
	file, err := scanEvidence(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id), stage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get evidence", zap.Int64("evidence_id", id), zap.Error(err))
		return nil, err
	}
	return file, nil
}

// ListByDetail returns the evidence attached to a stage detail
func (r *EvidenceRepository) ListByDetail(ctx context.Context, stage entity.StageKey, detailID int64) ([]*entity.EvidenceFile, error) {
	tables, err := tablesFor(stage)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE detail_id = ? ORDER BY id ASC`, evidenceColumns, tables.evidence)
	return r.list(ctx, stage, query, detailID)
}

// ListStaged returns rows still waiting for their file move
func (r *EvidenceRepository) ListStaged(ctx context.Context, stage entity.StageKey, createdBefore time.Time, limit int) ([]*entity.EvidenceFile, error) {
	tables, err := tablesFor(stage)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE state = ? AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?
	`, evidenceColumns, tables.evidence)
	return r.list(ctx, stage, query, entity.EvidenceStateStaged, createdBefore.UTC(), limit)
}

// SetTarget records where the file of a STAGED row is about to be moved.
// Rows already STORED are left untouched and reported as not found.
func (r *EvidenceRepository) SetTarget(ctx context.Context, stage entity.StageKey, id int64, filePath string) error {
	tables, err := tablesFor(stage)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET file_path = ? WHERE id = ? AND state = ?`, tables.evidence)
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, filePath, id, entity.EvidenceStateStaged)
	if err != nil {
		r.logger.Error("Failed to set evidence target", zap.Int64("evidence_id", id), zap.Error(err))
		return fmt.Errorf("failed to set evidence target: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("staged evidence %d: %w", id, port.ErrNotFound)
	}
	return nil
}

// MarkStored records that the file now lives at filePath
func (r *EvidenceRepository) MarkStored(ctx context.Context, stage entity.StageKey, id int64, filePath string) error {
	tables, err := tablesFor(stage)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET state = ?, file_path = ?, stored_at = ? WHERE id = ?`, tables.evidence)
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		entity.EvidenceStateStored, filePath, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark evidence stored", zap.Int64("evidence_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark evidence stored: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("evidence %d: %w", id, port.ErrNotFound)
	}
	return nil
}

// Delete removes an evidence row. Deleting a missing row is not an error.
func (r *EvidenceRepository) Delete(ctx context.Context, stage entity.StageKey, id int64) error {
	tables, err := tablesFor(stage)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tables.evidence)
	if _, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		r.logger.Error("Failed to delete evidence", zap.Int64("evidence_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete evidence: %w", err)
	}
	return nil
}

func (r *EvidenceRepository) list(ctx context.Context, stage entity.StageKey, query string, args ...interface{}) ([]*entity.EvidenceFile, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query evidence", zap.String("stage_key", stage.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	var files []*entity.EvidenceFile
	for rows.Next() {
		file, err := scanEvidence(rows, stage)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func scanEvidence(row rowScanner, stage entity.StageKey) (*entity.EvidenceFile, error) {
	var (
		file     = entity.EvidenceFile{Stage: stage}
		storedAt sql.NullTime
	)
	err := row.Scan(
		&file.ID,
		&file.DetailID,
		&file.PurchaseID,
		&file.FileName,
		&file.FilePath,
		&file.StagedPath,
		&file.Classification,
		&file.State,
		&file.CreatedAt,
		&storedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan evidence: %w", err)
	}
	if storedAt.Valid {
		file.StoredAt = &storedAt.Time
	}
	return &file, nil
}

// Verify interface compliance
var _ port.EvidenceRepository = (*EvidenceRepository)(nil)
