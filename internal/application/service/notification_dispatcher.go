package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/domain/event"
	"github.com/garyjia/shipment-workflow/internal/domain/failure"
)

// errNoRecipient is returned when nobody is assigned to the purchase
var errNoRecipient = errors.New("purchase has no assigned employee")

// stageMessages holds the notification body per stage. %s is the shipment display name.
var stageMessages = map[entity.StageKey]string{
	entity.StageBooking:               "Container booking for %s has been confirmed with the shipping line.",
	entity.StageReceiving:             "The empty container for %s has been received at the warehouse.",
	entity.StageLoading:               "Goods for %s have been loaded into the container.",
	entity.StageDocumentation:         "Shipping documents for %s are prepared.",
	entity.StageDepartureConfirmation: "Departure of %s has been confirmed with the carrier.",
	entity.StageDeparture:             "%s has departed.",
	entity.StageReleaseWait:           "%s has arrived and is waiting for customs release.",
	entity.StageReleaseConfirmation:   "%s has been released by customs.",
	entity.StageDelivery:              "%s is out for delivery.",
	entity.StageDeliveryConfirmation:  "%s has been delivered to the consignee.",
	entity.StageReturn:                "The container of %s has been returned to the depot.",
	entity.StageNotes:                 "A note was added to %s.",
}

// NotificationDispatcher builds stage notifications and hands them to the sink.
// Failures are logged and returned as *failure.NotificationDispatchError but
// must never fail a transition.
type NotificationDispatcher interface {
	BuildIntent(purchase *entity.Purchase, stage entity.StageKey, label string) (entity.NotificationIntent, error)
	NotifyStageTransition(ctx context.Context, purchase *entity.Purchase, stage entity.StageKey, label string) error

	// HandleStageTransitioned is the dispatcher handler for stage.transitioned
	HandleStageTransitioned(ctx context.Context, evt *event.Event) error
}

type notificationDispatcherImpl struct {
	purchaseRepo port.PurchaseRepository
	sink         port.NotificationSink
	linkBase     string
	logger       Logger
}

// NewNotificationDispatcher creates a new NotificationDispatcher
func NewNotificationDispatcher(purchaseRepo port.PurchaseRepository, sink port.NotificationSink, linkBase string, logger Logger) NotificationDispatcher {
	return &notificationDispatcherImpl{
		purchaseRepo: purchaseRepo,
		sink:         sink,
		linkBase:     strings.TrimRight(linkBase, "/"),
		logger:       orNop(logger),
	}
}

func (d *notificationDispatcherImpl) BuildIntent(purchase *entity.Purchase, stage entity.StageKey, label string) (entity.NotificationIntent, error) {
	employee := purchase.PrimaryEmployee()
	if employee == nil {
		return entity.NotificationIntent{}, errNoRecipient
	}
	if label == "" {
		label = stage.Label()
	}

	tmpl, ok := stageMessages[stage]
	if !ok {
		return entity.NotificationIntent{}, fmt.Errorf("no message template for stage %q", stage)
	}

	return entity.NotificationIntent{
		Recipient:       employee.EmployeeID,
		RecipientOpenID: employee.OpenID,
		Title:           fmt.Sprintf("%s: %s", purchase.DisplayName(), label),
		Message:         fmt.Sprintf(tmpl, purchase.DisplayName()),
		Link:            fmt.Sprintf("%s/purchases/%s", d.linkBase, purchase.ID),
		SubjectKey:      "purchase:" + purchase.ID,
	}, nil
}

func (d *notificationDispatcherImpl) NotifyStageTransition(ctx context.Context, purchase *entity.Purchase, stage entity.StageKey, label string) error {
	intent, err := d.BuildIntent(purchase, stage, label)
	if err == nil {
		err = d.sink.Submit(ctx, intent)
	}
	if err != nil {
		dispatchErr := &failure.NotificationDispatchError{Stage: stage, PurchaseID: purchase.ID, Err: err}
		d.logger.Error("Stage notification failed",
			"purchase_id", purchase.ID,
			"stage_key", stage,
			"reason_code", dispatchErr.ReasonCode(),
			"error", err,
		)
		return dispatchErr
	}

	d.logger.Info("Stage notification submitted",
		"purchase_id", purchase.ID,
		"stage_key", stage,
		"recipient", intent.Recipient,
	)
	return nil
}

func (d *notificationDispatcherImpl) HandleStageTransitioned(ctx context.Context, evt *event.Event) error {
	stage := entity.StageKey(evt.StageKey)

	purchase, err := d.purchaseRepo.GetByID(ctx, evt.PurchaseID)
	if err == nil && purchase == nil {
		err = fmt.Errorf("purchase %s: %w", evt.PurchaseID, port.ErrNotFound)
	}
	if err != nil {
		d.logger.Error("Stage notification failed",
			"purchase_id", evt.PurchaseID,
			"stage_key", stage,
			"reason_code", failure.ReasonNotificationFailed,
			"error", err,
		)
		return &failure.NotificationDispatchError{Stage: stage, PurchaseID: evt.PurchaseID, Err: err}
	}

	return d.NotifyStageTransition(ctx, purchase, stage, evt.GetPayloadString("stage_label"))
}

// StoreSink keeps notification intents in the notifications table
type StoreSink struct {
	repo port.NotificationRepository
}

// NewStoreSink creates a StoreSink
func NewStoreSink(repo port.NotificationRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Submit stores the intent
func (s *StoreSink) Submit(ctx context.Context, intent entity.NotificationIntent) error {
	return s.repo.Create(ctx, &entity.StoredNotification{NotificationIntent: intent})
}

// CompositeSink submits to every sink and joins their errors
type CompositeSink struct {
	sinks []port.NotificationSink
}

// NewCompositeSink creates a CompositeSink
func NewCompositeSink(sinks ...port.NotificationSink) *CompositeSink {
	return &CompositeSink{sinks: sinks}
}

// Submit hands the intent to each sink in order
func (c *CompositeSink) Submit(ctx context.Context, intent entity.NotificationIntent) error {
	var errs []error
	for _, sink := range c.sinks {
		if err := sink.Submit(ctx, intent); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Verify interface compliance
var (
	_ port.NotificationSink = (*StoreSink)(nil)
	_ port.NotificationSink = (*CompositeSink)(nil)
)
