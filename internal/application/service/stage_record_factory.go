package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/domain/failure"
	"github.com/garyjia/shipment-workflow/pkg/utils"
	"github.com/go-playground/validator/v10"
)

// StageRecordFactory turns stage payloads into typed details and persists them
type StageRecordFactory interface {
	// Decode parses and validates a payload. Failures are *failure.ValidationError.
	Decode(stage entity.StageKey, payload json.RawMessage) (entity.StageDetail, error)

	// ResolveReferences fills server-side references (delivery → latest release wait).
	// It only reads and must run inside the transition transaction.
	ResolveReferences(ctx context.Context, purchaseID string, detail entity.StageDetail) error

	// CreateStageDetail binds detail to its status node and inserts it
	CreateStageDetail(ctx context.Context, node *entity.StatusNode, detail entity.StageDetail) error

	// UpdateStageDetail overwrites the detail of an existing node in place
	UpdateStageDetail(ctx context.Context, stage entity.StageKey, statusNodeID int64, detail entity.StageDetail) (entity.StageDetail, error)

	// Get returns the node with its detail and evidence
	Get(ctx context.Context, stage entity.StageKey, statusNodeID int64) (*entity.StageRecord, error)
}

type stageRecordFactoryImpl struct {
	nodeRepo     port.StatusNodeRepository
	detailRepo   port.StageDetailRepository
	evidenceRepo port.EvidenceRepository
	validate     *validator.Validate
	logger       Logger
}

// NewStageRecordFactory creates a new StageRecordFactory
func NewStageRecordFactory(
	nodeRepo port.StatusNodeRepository,
	detailRepo port.StageDetailRepository,
	evidenceRepo port.EvidenceRepository,
	logger Logger,
) StageRecordFactory {
	return &stageRecordFactoryImpl{
		nodeRepo:     nodeRepo,
		detailRepo:   detailRepo,
		evidenceRepo: evidenceRepo,
		validate:     utils.NewValidator(),
		logger:       orNop(logger),
	}
}

func (f *stageRecordFactoryImpl) Decode(stage entity.StageKey, payload json.RawMessage) (entity.StageDetail, error) {
	if !stage.IsValid() {
		return nil, &failure.ValidationError{Stage: stage, Reason: failure.ReasonUnknownStage, Detail: fmt.Sprintf("unknown stage %q", stage)}
	}

	detail, err := entity.DecodeStageDetail(stage, payload)
	if err != nil {
		return nil, &failure.ValidationError{Stage: stage, Reason: failure.ReasonValidationFailed, Detail: err.Error()}
	}

	if err := f.validate.Struct(detail); err != nil {
		fields := utils.InvalidFields(err)
		if fields == nil {
			return nil, fmt.Errorf("validate %s payload: %w", stage, err)
		}
		return nil, &failure.ValidationError{Stage: stage, Reason: failure.ReasonValidationFailed, Fields: fields}
	}

	return detail, nil
}

func (f *stageRecordFactoryImpl) ResolveReferences(ctx context.Context, purchaseID string, detail entity.StageDetail) error {
	delivery, ok := detail.(*entity.DeliveryDetail)
	if !ok {
		return nil
	}

	releaseWait, err := f.detailRepo.LatestReleaseWait(ctx, purchaseID)
	if err != nil {
		return fmt.Errorf("failed to look up release wait of %s: %w", purchaseID, err)
	}
	if releaseWait == nil {
		return &failure.NotFoundError{
			Stage:    entity.StageDelivery,
			Reason:   failure.ReasonReleaseWaitNotFound,
			Resource: "release_wait detail",
			ID:       purchaseID,
		}
	}

	delivery.ReleaseWaitID = releaseWait.ID
	return nil
}

func (f *stageRecordFactoryImpl) CreateStageDetail(ctx context.Context, node *entity.StatusNode, detail entity.StageDetail) error {
	if detail.Stage() != node.StageKey {
		return fmt.Errorf("%s detail cannot be attached to %s node %d", detail.Stage(), node.StageKey, node.ID)
	}

	if delivery, ok := detail.(*entity.DeliveryDetail); ok && delivery.ReleaseWaitID == 0 {
		if err := f.ResolveReferences(ctx, node.PurchaseID, detail); err != nil {
			return err
		}
	}

	detail.Meta().StatusNodeID = node.ID
	if err := f.detailRepo.Create(ctx, detail); err != nil {
		return err
	}

	f.logger.Info("Stage detail created",
		"stage_key", node.StageKey,
		"status_node_id", node.ID,
		"detail_id", detail.Meta().ID,
	)
	return nil
}

func (f *stageRecordFactoryImpl) UpdateStageDetail(ctx context.Context, stage entity.StageKey, statusNodeID int64, detail entity.StageDetail) (entity.StageDetail, error) {
	if _, err := f.node(ctx, stage, statusNodeID); err != nil {
		return nil, err
	}

	detail.Meta().StatusNodeID = statusNodeID
	if err := f.detailRepo.Update(ctx, detail); err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, f.nodeNotFound(stage, statusNodeID)
		}
		return nil, err
	}

	updated, err := f.detailRepo.GetByStatusNode(ctx, stage, statusNodeID)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Stage detail updated",
		"stage_key", stage,
		"status_node_id", statusNodeID,
		"detail_id", updated.Meta().ID,
	)
	return updated, nil
}

func (f *stageRecordFactoryImpl) Get(ctx context.Context, stage entity.StageKey, statusNodeID int64) (*entity.StageRecord, error) {
	node, err := f.node(ctx, stage, statusNodeID)
	if err != nil {
		return nil, err
	}

	detail, err := f.detailRepo.GetByStatusNode(ctx, stage, statusNodeID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, f.nodeNotFound(stage, statusNodeID)
	}

	files, err := f.evidenceRepo.ListByDetail(ctx, stage, detail.Meta().ID)
	if err != nil {
		return nil, err
	}

	return &entity.StageRecord{Node: node, Detail: detail, Evidence: files}, nil
}

// node loads a status node and checks it belongs to stage
func (f *stageRecordFactoryImpl) node(ctx context.Context, stage entity.StageKey, statusNodeID int64) (*entity.StatusNode, error) {
	if !stage.IsValid() {
		return nil, &failure.ValidationError{Stage: stage, Reason: failure.ReasonUnknownStage, Detail: fmt.Sprintf("unknown stage %q", stage)}
	}

	node, err := f.nodeRepo.GetByID(ctx, statusNodeID)
	if err != nil {
		return nil, err
	}
	if node == nil || node.StageKey != stage {
		return nil, f.nodeNotFound(stage, statusNodeID)
	}
	return node, nil
}

func (f *stageRecordFactoryImpl) nodeNotFound(stage entity.StageKey, statusNodeID int64) error {
	return &failure.NotFoundError{
		Stage:    stage,
		Reason:   failure.ReasonStatusNodeNotFound,
		Resource: "status node",
		ID:       fmt.Sprint(statusNodeID),
	}
}
