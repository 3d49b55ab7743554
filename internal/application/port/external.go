package port

import (
	"context"

	"github.com/garyjia/shipment-workflow/internal/domain/entity"
)

// NotificationSink accepts a notification intent and owns its delivery
type NotificationSink interface {
	Submit(ctx context.Context, intent entity.NotificationIntent) error
}

// LarkMessageSender defines message sending operations
type LarkMessageSender interface {
	SendMessage(ctx context.Context, openID string, content string) error
}

// PurchaseLocker serializes writers of the same purchase.
// The returned release function must be called exactly once.
type PurchaseLocker interface {
	Lock(ctx context.Context, purchaseID string) (release func(), err error)
}

// StageOrderPolicy decides whether next may follow the recorded history
type StageOrderPolicy interface {
	Check(ctx context.Context, history []*entity.StatusNode, next entity.StageKey) error
}
