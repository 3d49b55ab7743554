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
	"github.com/garyjia/shipment-workflow/pkg/database"
	"go.uber.org/zap"
)

// StatusNodeRepository implements port.StatusNodeRepository
type StatusNodeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStatusNodeRepository creates a new status node repository
func NewStatusNodeRepository(db *sql.DB, logger *zap.Logger) port.StatusNodeRepository {
	return &StatusNodeRepository{
		db:     db,
		logger: logger,
	}
}

// Append allocates max(stage_sequence)+1 and inserts the node in one statement.
// A concurrent writer that took the same sequence surfaces as port.ErrSequenceConflict.
func (r *StatusNodeRepository) Append(ctx context.Context, purchaseID string, stage entity.StageKey, label string) (*entity.StatusNode, error) {
	query := `
		INSERT INTO status_nodes (purchase_id, stage_key, stage_sequence, stage_label, created_at)
		SELECT ?, ?, COALESCE(MAX(stage_sequence), 0) + 1, ?, ?
		FROM status_nodes WHERE purchase_id = ?
	`

	now := time.Now().UTC()
	exec := sqlite.ExecutorFor(ctx, r.db)

	result, err := exec.ExecContext(ctx, query, purchaseID, string(stage), label, now, purchaseID)
	if err != nil {
		if database.IsUniqueViolation(err) || database.IsBusy(err) {
			r.logger.Warn("Stage sequence conflict",
				zap.String("purchase_id", purchaseID),
				zap.String("stage_key", stage.String()),
				zap.Error(err))
			return nil, fmt.Errorf("append %s node for %s: %w", stage, purchaseID, port.ErrSequenceConflict)
		}
		r.logger.Error("Failed to append status node",
			zap.String("purchase_id", purchaseID),
			zap.String("stage_key", stage.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to append status node: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	node, err := r.scanOne(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("status node %d vanished after insert", id)
	}
	return node, nil
}

// GetByID retrieves a status node by ID
func (r *StatusNodeRepository) GetByID(ctx context.Context, id int64) (*entity.StatusNode, error) {
	return r.scanOne(ctx, sqlite.ExecutorFor(ctx, r.db), id)
}

// ListByPurchase returns the purchase history ordered by stage_sequence
func (r *StatusNodeRepository) ListByPurchase(ctx context.Context, purchaseID string) ([]*entity.StatusNode, error) {
	query := `
		SELECT id, purchase_id, stage_key, stage_sequence, stage_label, created_at
		FROM status_nodes
		WHERE purchase_id = ?
		ORDER BY stage_sequence ASC
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, purchaseID)
	if err != nil {
		r.logger.Error("Failed to list status nodes", zap.String("purchase_id", purchaseID), zap.Error(err))
		return nil, fmt.Errorf("failed to list status nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*entity.StatusNode
	for rows.Next() {
		node, err := scanStatusNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	return nodes, rows.Err()
}

func (r *StatusNodeRepository) scanOne(ctx context.Context, exec sqlite.Executor, id int64) (*entity.StatusNode, error) {
	row := exec.QueryRowContext(ctx, `
		SELECT id, purchase_id, stage_key, stage_sequence, stage_label, created_at
		FROM status_nodes WHERE id = ?
	`, id)

	node, err := scanStatusNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get status node", zap.Int64("status_node_id", id), zap.Error(err))
		return nil, err
	}
	return node, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatusNode(row rowScanner) (*entity.StatusNode, error) {
	var (
		node  entity.StatusNode
		stage string
	)
	if err := row.Scan(&node.ID, &node.PurchaseID, &stage, &node.StageSequence, &node.StageLabel, &node.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan status node: %w", err)
	}
	node.StageKey = entity.StageKey(stage)
	return &node, nil
}

// Verify interface compliance
var _ port.StatusNodeRepository = (*StatusNodeRepository)(nil)
