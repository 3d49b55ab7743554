package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// StageDetailRepository implements port.StageDetailRepository over the
// twelve <stage>_details tables and loading_line_items
type StageDetailRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStageDetailRepository creates a new stage detail repository
func NewStageDetailRepository(db *sql.DB, logger *zap.Logger) port.StageDetailRepository {
	return &StageDetailRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the detail row and, for loading, its line items
func (r *StageDetailRepository) Create(ctx context.Context, detail entity.StageDetail) error {
	stage := detail.Stage()
	tables, err := tablesFor(stage)
	if err != nil {
		return err
	}
	cols, err := detailColumns(detail)
	if err != nil {
		return err
	}

	meta := detail.Meta()
	now := time.Now().UTC()
	meta.CreatedAt, meta.UpdatedAt = now, now

	names := []string{"status_node_id"}
	args := []interface{}{meta.StatusNodeID}
	for _, c := range cols {
		names = append(names, c.name)
		args = append(args, c.arg())
	}
	names = append(names, "created_at", "updated_at")
	args = append(args, meta.CreatedAt, meta.UpdatedAt)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tables.detail, strings.Join(names, ", "), placeholders(len(names)))

	exec := sqlite.ExecutorFor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to create stage detail",
			zap.String("stage_key", stage.String()),
			zap.Int64("status_node_id", meta.StatusNodeID),
			zap.Error(err))
		return fmt.Errorf("failed to create %s detail: %w", stage, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	meta.ID = id

	if loading, ok := detail.(*entity.LoadingDetail); ok {
		if err := r.insertLineItems(ctx, exec, loading); err != nil {
			return err
		}
	}

	return nil
}

// Update overwrites the detail bound to its status node. Create-only columns
// (the delivery release_wait reference) keep their stored value and are
// reloaded into detail. Loading line items are replaced as a set.
func (r *StageDetailRepository) Update(ctx context.Context, detail entity.StageDetail) error {
	stage := detail.Stage()
	tables, err := tablesFor(stage)
	if err != nil {
		return err
	}
	cols, err := detailColumns(detail)
	if err != nil {
		return err
	}

	meta := detail.Meta()
	meta.UpdatedAt = time.Now().UTC()

	var (
		sets  []string
		args  []interface{}
		fixed []column
	)
	for _, c := range cols {
		if c.createOnly {
			fixed = append(fixed, c)
			continue
		}
		sets = append(sets, c.name+" = ?")
		args = append(args, c.arg())
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, meta.UpdatedAt, meta.StatusNodeID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE status_node_id = ?", tables.detail, strings.Join(sets, ", "))

	exec := sqlite.ExecutorFor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update stage detail",
			zap.String("stage_key", stage.String()),
			zap.Int64("status_node_id", meta.StatusNodeID),
			zap.Error(err))
		return fmt.Errorf("failed to update %s detail: %w", stage, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s detail for status node %d: %w", stage, meta.StatusNodeID, port.ErrNotFound)
	}

	dest := []interface{}{&meta.ID, &meta.CreatedAt}
	names := []string{"id", "created_at"}
	for _, c := range fixed {
		names = append(names, c.name)
		dest = append(dest, c.ptr)
	}
	reload := fmt.Sprintf("SELECT %s FROM %s WHERE status_node_id = ?", strings.Join(names, ", "), tables.detail)
	if err := exec.QueryRowContext(ctx, reload, meta.StatusNodeID).Scan(dest...); err != nil {
		return fmt.Errorf("failed to reload %s detail: %w", stage, err)
	}

	if loading, ok := detail.(*entity.LoadingDetail); ok {
		if _, err := exec.ExecContext(ctx, `DELETE FROM loading_line_items WHERE detail_id = ?`, meta.ID); err != nil {
			return fmt.Errorf("failed to clear line items: %w", err)
		}
		if err := r.insertLineItems(ctx, exec, loading); err != nil {
			return err
		}
	}

	return nil
}

// GetByStatusNode loads the typed detail of a status node, or nil when absent
func (r *StageDetailRepository) GetByStatusNode(ctx context.Context, stage entity.StageKey, statusNodeID int64) (entity.StageDetail, error) {
	detail, err := entity.NewStageDetail(stage)
	if err != nil {
		return nil, err
	}
	tables, err := tablesFor(stage)
	if err != nil {
		return nil, err
	}
	cols, err := detailColumns(detail)
	if err != nil {
		return nil, err
	}

	meta := detail.Meta()
	names := []string{"id", "status_node_id"}
	dest := []interface{}{&meta.ID, &meta.StatusNodeID}
	for _, c := range cols {
		names = append(names, c.name)
		dest = append(dest, c.ptr)
	}
	names = append(names, "created_at", "updated_at")
	dest = append(dest, &meta.CreatedAt, &meta.UpdatedAt)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE status_node_id = ?", strings.Join(names, ", "), tables.detail)

	exec := sqlite.ExecutorFor(ctx, r.db)
	err = exec.QueryRowContext(ctx, query, statusNodeID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get stage detail",
			zap.String("stage_key", stage.String()),
			zap.Int64("status_node_id", statusNodeID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get %s detail: %w", stage, err)
	}

	if loading, ok := detail.(*entity.LoadingDetail); ok {
		items, err := r.listLineItems(ctx, exec, meta.ID)
		if err != nil {
			return nil, err
		}
		loading.LineItems = items
	}

	return detail, nil
}

// LatestReleaseWait returns the release_wait detail of the purchase with the
// highest stage_sequence, or nil when the purchase never waited for release
func (r *StageDetailRepository) LatestReleaseWait(ctx context.Context, purchaseID string) (*entity.ReleaseWaitDetail, error) {
	var statusNodeID int64
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, `
		SELECT sn.id
		FROM release_wait_details rw
		JOIN status_nodes sn ON sn.id = rw.status_node_id
		WHERE sn.purchase_id = ?
		ORDER BY sn.stage_sequence DESC
		LIMIT 1
	`, purchaseID).Scan(&statusNodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find latest release wait", zap.String("purchase_id", purchaseID), zap.Error(err))
		return nil, fmt.Errorf("failed to find latest release wait: %w", err)
	}

	detail, err := r.GetByStatusNode(ctx, entity.StageReleaseWait, statusNodeID)
	if err != nil || detail == nil {
		return nil, err
	}
	return detail.(*entity.ReleaseWaitDetail), nil
}

func (r *StageDetailRepository) insertLineItems(ctx context.Context, exec sqlite.Executor, loading *entity.LoadingDetail) error {
	for i := range loading.LineItems {
		item := &loading.LineItems[i]
		item.DetailID = loading.ID
		result, err := exec.ExecContext(ctx, `
			INSERT INTO loading_line_items (detail_id, product_name, quantity, unit, weight_kg)
			VALUES (?, ?, ?, ?, ?)
		`, item.DetailID, item.ProductName, item.Quantity, item.Unit, item.WeightKG)
		if err != nil {
			r.logger.Error("Failed to create line item", zap.Int64("detail_id", loading.ID), zap.Error(err))
			return fmt.Errorf("failed to create line item %d: %w", i, err)
		}
		if item.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

func (r *StageDetailRepository) listLineItems(ctx context.Context, exec sqlite.Executor, detailID int64) ([]entity.LineItem, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT id, detail_id, product_name, quantity, unit, weight_kg
		FROM loading_line_items WHERE detail_id = ?
		ORDER BY id ASC
	`, detailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []entity.LineItem
	for rows.Next() {
		var item entity.LineItem
		if err := rows.Scan(&item.ID, &item.DetailID, &item.ProductName, &item.Quantity, &item.Unit, &item.WeightKG); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Verify interface compliance
var _ port.StageDetailRepository = (*StageDetailRepository)(nil)
