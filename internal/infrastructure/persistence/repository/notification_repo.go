package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a notification
func (r *NotificationRepository) Create(ctx context.Context, n *entity.StoredNotification) error {
	query := `
		INSERT INTO notifications (recipient, title, message, link, subject_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		n.Recipient,
		n.Title,
		n.Message,
		n.Link,
		n.SubjectKey,
		n.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.String("subject_key", n.SubjectKey),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	n.ID = id
	return nil
}

// ListBySubject returns notifications for a subject, oldest first
func (r *NotificationRepository) ListBySubject(ctx context.Context, subjectKey string) ([]*entity.StoredNotification, error) {
	query := `
		SELECT id, recipient, title, message, link, subject_key, created_at
		FROM notifications
		WHERE subject_key = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, subjectKey)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.String("subject_key", subjectKey), zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*entity.StoredNotification
	for rows.Next() {
		var n entity.StoredNotification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Title, &n.Message, &n.Link, &n.SubjectKey, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
