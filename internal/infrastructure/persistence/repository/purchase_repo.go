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

// PurchaseRepository implements port.PurchaseRepository
type PurchaseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPurchaseRepository creates a new purchase repository
func NewPurchaseRepository(db *sql.DB, logger *zap.Logger) port.PurchaseRepository {
	return &PurchaseRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a purchase and its employee assignments.
// Employees keep the order given; their Position is rewritten to match.
func (r *PurchaseRepository) Create(ctx context.Context, purchase *entity.Purchase) error {
	now := time.Now().UTC()
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = now
	}
	purchase.UpdatedAt = now

	exec := sqlite.ExecutorFor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO purchases (id, book_number, status_label, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, purchase.ID, purchase.BookNumber, purchase.StatusLabel, purchase.CreatedAt, purchase.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create purchase", zap.String("purchase_id", purchase.ID), zap.Error(err))
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	for i := range purchase.Employees {
		emp := &purchase.Employees[i]
		emp.Position = i
		_, err := exec.ExecContext(ctx, `
			INSERT INTO purchase_employees (purchase_id, employee_id, open_id, position)
			VALUES (?, ?, ?, ?)
		`, purchase.ID, emp.EmployeeID, emp.OpenID, emp.Position)
		if err != nil {
			r.logger.Error("Failed to assign employee", zap.String("purchase_id", purchase.ID), zap.Error(err))
			return fmt.Errorf("failed to assign employee %s: %w", emp.EmployeeID, err)
		}
	}

	return nil
}

// GetByID retrieves a purchase with its employees ordered by position
func (r *PurchaseRepository) GetByID(ctx context.Context, id string) (*entity.Purchase, error) {
	exec := sqlite.ExecutorFor(ctx, r.db)

	purchase := &entity.Purchase{}
	err := exec.QueryRowContext(ctx, `
		SELECT id, book_number, status_label, created_at, updated_at
		FROM purchases WHERE id = ?
	`, id).Scan(
		&purchase.ID,
		&purchase.BookNumber,
		&purchase.StatusLabel,
		&purchase.CreatedAt,
		&purchase.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get purchase", zap.String("purchase_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT employee_id, open_id, position
		FROM purchase_employees WHERE purchase_id = ?
		ORDER BY position ASC, employee_id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase employees: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var emp entity.Employee
		if err := rows.Scan(&emp.EmployeeID, &emp.OpenID, &emp.Position); err != nil {
			return nil, fmt.Errorf("failed to scan purchase employee: %w", err)
		}
		purchase.Employees = append(purchase.Employees, emp)
	}

	return purchase, rows.Err()
}

// UpdateStatusLabel sets the display label shown for the purchase
func (r *PurchaseRepository) UpdateStatusLabel(ctx context.Context, id, label string) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`UPDATE purchases SET status_label = ?, updated_at = ? WHERE id = ?`,
		label, time.Now().UTC(), id,
	)
	if err != nil {
		r.logger.Error("Failed to update purchase status label", zap.String("purchase_id", id), zap.Error(err))
		return fmt.Errorf("failed to update purchase status label: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("purchase %s: %w", id, port.ErrNotFound)
	}
	return nil
}

// Verify interface compliance
var _ port.PurchaseRepository = (*PurchaseRepository)(nil)
