// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/shipment-workflow/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewDB opens a migrated SQLite database in a temp dir that is closed with the test
func NewDB(t testing.TB) *database.DB {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(sqlite.Migrations()))
	return db
}

// SeedPurchase inserts a purchase with one assigned employee
func SeedPurchase(t testing.TB, db *database.DB, id string) *entity.Purchase {
	t.Helper()

	now := time.Now().UTC()
	_, err := db.Exec(`INSERT INTO purchases (id, book_number, status_label, created_at, updated_at) VALUES (?, ?, '', ?, ?)`,
		id, "BK-"+id, now, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO purchase_employees (purchase_id, employee_id, open_id, position) VALUES (?, ?, ?, 0)`,
		id, "emp-"+id, "ou_"+id)
	require.NoError(t, err)

	return &entity.Purchase{
		ID:         id,
		BookNumber: "BK-" + id,
		Employees:  []entity.Employee{{EmployeeID: "emp-" + id, OpenID: "ou_" + id}},
	}
}

// CountRows returns the number of rows in table
func CountRows(t testing.TB, db *database.DB, table string) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
