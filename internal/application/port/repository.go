package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/shipment-workflow/internal/domain/entity"
)

// ErrNotFound is returned by mutations whose target row does not exist.
// Lookups return a nil entity and a nil error instead.
var ErrNotFound = errors.New("record not found")

// ErrSequenceConflict is returned when another writer took the same
// stage_sequence for a purchase. The whole transaction should be retried.
var ErrSequenceConflict = errors.New("stage sequence conflict")

// PurchaseRepository reads the externally owned purchase and maintains its display label
type PurchaseRepository interface {
	Create(ctx context.Context, purchase *entity.Purchase) error
	GetByID(ctx context.Context, id string) (*entity.Purchase, error)
	UpdateStatusLabel(ctx context.Context, id, label string) error
}

// StatusNodeRepository is the append-only stage history.
// There is deliberately no update or delete.
type StatusNodeRepository interface {
	// Append allocates the next stage_sequence for the purchase and inserts the node
	Append(ctx context.Context, purchaseID string, stage entity.StageKey, label string) (*entity.StatusNode, error)
	GetByID(ctx context.Context, id int64) (*entity.StatusNode, error)
	ListByPurchase(ctx context.Context, purchaseID string) ([]*entity.StatusNode, error)
}

// StageDetailRepository persists the typed detail of every stage
type StageDetailRepository interface {
	// Create inserts the detail (and loading line items) and sets its ID
	Create(ctx context.Context, detail entity.StageDetail) error

	// Update overwrites the detail bound to detail.Meta().StatusNodeID
	Update(ctx context.Context, detail entity.StageDetail) error

	GetByStatusNode(ctx context.Context, stage entity.StageKey, statusNodeID int64) (entity.StageDetail, error)

	// LatestReleaseWait returns the release_wait detail with the highest stage_sequence
	LatestReleaseWait(ctx context.Context, purchaseID string) (*entity.ReleaseWaitDetail, error)
}

// EvidenceRepository persists evidence metadata in the per-stage evidence tables
type EvidenceRepository interface {
	Create(ctx context.Context, file *entity.EvidenceFile) error
	GetByID(ctx context.Context, stage entity.StageKey, id int64) (*entity.EvidenceFile, error)
	ListByDetail(ctx context.Context, stage entity.StageKey, detailID int64) ([]*entity.EvidenceFile, error)
	ListStaged(ctx context.Context, stage entity.StageKey, createdBefore time.Time, limit int) ([]*entity.EvidenceFile, error)
	// SetTarget records the permanent path of a STAGED row before its file moves
	SetTarget(ctx context.Context, stage entity.StageKey, id int64, filePath string) error
	MarkStored(ctx context.Context, stage entity.StageKey, id int64, filePath string) error
	Delete(ctx context.Context, stage entity.StageKey, id int64) error
}

// NotificationRepository is the default notification store
type NotificationRepository interface {
	Create(ctx context.Context, n *entity.StoredNotification) error
	ListBySubject(ctx context.Context, subjectKey string) ([]*entity.StoredNotification, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
