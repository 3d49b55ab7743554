package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/domain/event"
	"github.com/garyjia/shipment-workflow/internal/domain/failure"
)

// EventPublisher schedules post-commit side effects
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event)
}

// StageTransitionRequest is the normalized inbound call for recording a stage
type StageTransitionRequest struct {
	PurchaseID string
	Stage      entity.StageKey
	Payload    json.RawMessage
	Files      []entity.StagedUpload
}

// StageEditRequest rewrites the detail of an existing status node
type StageEditRequest struct {
	Stage        entity.StageKey
	StatusNodeID int64
	Payload      json.RawMessage
	KeepFileIDs  []int64
	Files        []entity.StagedUpload
}

// PendingSideEffects are applied only after the transaction committed
type PendingSideEffects struct {
	Moves  []*entity.EvidenceFile
	Events []*event.Event

	// Keep is set for edits: files of the detail outside it are removed
	Keep []int64
}

// CommittedTransition is the result of the atomic phase
type CommittedTransition struct {
	Purchase *entity.Purchase
	Node     *entity.StatusNode
	Detail   entity.StageDetail
	Evidence []*entity.EvidenceFile
	Pending  PendingSideEffects
}

// TransitionOutcome is returned to callers of Run and Edit. EvidenceError is
// set when files could not be reconciled after commit; the transition itself
// stands.
type TransitionOutcome struct {
	StatusNodeID  int64  `json:"status_node_id"`
	Confirmation  string `json:"confirmation"`
	EvidenceError error  `json:"-"`
}

// TransitionConfig bounds the two phases of a transition
type TransitionConfig struct {
	TransitionTimeout time.Duration
	FileOpTimeout     time.Duration
	SequenceRetries   int
}

// StageTransitionService coordinates history node, detail row and evidence rows
// in one transaction and applies file moves and notifications after commit.
type StageTransitionService interface {
	// Commit runs the transactional phase only
	Commit(ctx context.Context, req StageTransitionRequest) (*CommittedTransition, error)

	// ApplySideEffects moves files and publishes events of a committed transition
	ApplySideEffects(ctx context.Context, committed *CommittedTransition) error

	// Run is Commit followed by ApplySideEffects
	Run(ctx context.Context, req StageTransitionRequest) (*TransitionOutcome, error)

	// Edit updates a detail in place, never creating a status node
	Edit(ctx context.Context, req StageEditRequest) (*TransitionOutcome, error)

	History(ctx context.Context, purchaseID string) ([]*entity.StatusNode, error)
	Get(ctx context.Context, stage entity.StageKey, statusNodeID int64) (*entity.StageRecord, error)
}

type stageTransitionServiceImpl struct {
	purchaseRepo port.PurchaseRepository
	nodeRepo     port.StatusNodeRepository
	txManager    port.TransactionManager
	locker       port.PurchaseLocker
	sequencer    StatusSequencer
	factory      StageRecordFactory
	evidence     EvidenceStore
	policy       port.StageOrderPolicy
	publisher    EventPublisher
	cfg          TransitionConfig
	logger       Logger
}

// NewStageTransitionService creates a new StageTransitionService. A nil
// policy means free-form ordering.
func NewStageTransitionService(
	purchaseRepo port.PurchaseRepository,
	nodeRepo port.StatusNodeRepository,
	txManager port.TransactionManager,
	locker port.PurchaseLocker,
	sequencer StatusSequencer,
	factory StageRecordFactory,
	evidence EvidenceStore,
	policy port.StageOrderPolicy,
	publisher EventPublisher,
	cfg TransitionConfig,
	logger Logger,
) StageTransitionService {
	if policy == nil {
		policy = FreeFormOrder{}
	}
	if cfg.TransitionTimeout <= 0 {
		cfg.TransitionTimeout = 10 * time.Second
	}
	if cfg.FileOpTimeout <= 0 {
		cfg.FileOpTimeout = 30 * time.Second
	}
	if cfg.SequenceRetries < 0 {
		cfg.SequenceRetries = 0
	}
	return &stageTransitionServiceImpl{
		purchaseRepo: purchaseRepo,
		nodeRepo:     nodeRepo,
		txManager:    txManager,
		locker:       locker,
		sequencer:    sequencer,
		factory:      factory,
		evidence:     evidence,
		policy:       policy,
		publisher:    publisher,
		cfg:          cfg,
		logger:       orNop(logger),
	}
}

func (s *stageTransitionServiceImpl) Commit(ctx context.Context, req StageTransitionRequest) (*CommittedTransition, error) {
	stage := req.Stage

	// validation happens before any lock or transaction
	detail, err := s.factory.Decode(stage, req.Payload)
	if err != nil {
		return nil, err
	}
	if err := s.evidence.CheckUploads(ctx, stage, req.Files); err != nil {
		return nil, err
	}

	committed, err := s.commit(ctx, req, detail)
	if err != nil {
		s.evidence.DiscardStaged(context.WithoutCancel(ctx), req.Files)
		s.logger.Error("Stage transition failed",
			"purchase_id", req.PurchaseID,
			"stage_key", stage,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Stage transition committed",
		"purchase_id", req.PurchaseID,
		"stage_key", stage,
		"status_node_id", committed.Node.ID,
		"stage_sequence", committed.Node.StageSequence,
		"evidence_count", len(committed.Evidence),
	)
	return committed, nil
}

func (s *stageTransitionServiceImpl) commit(ctx context.Context, req StageTransitionRequest, detail entity.StageDetail) (*CommittedTransition, error) {
	stage := req.Stage

	purchase, err := s.purchaseRepo.GetByID(ctx, req.PurchaseID)
	if err != nil {
		return nil, s.transitionError(stage, err)
	}
	if purchase == nil {
		return nil, &failure.NotFoundError{Stage: stage, Reason: failure.ReasonPurchaseNotFound, Resource: "purchase", ID: req.PurchaseID}
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TransitionTimeout)
	defer cancel()

	release, err := s.locker.Lock(tctx, req.PurchaseID)
	if err != nil {
		return nil, s.transitionError(stage, err)
	}
	defer release()

	label := stage.Label()
	var committed *CommittedTransition

	for attempt := 0; ; attempt++ {
		committed = nil
		err = s.txManager.WithTransaction(tctx, func(txCtx context.Context) error {
			history, err := s.nodeRepo.ListByPurchase(txCtx, req.PurchaseID)
			if err != nil {
				return err
			}
			if err := s.policy.Check(txCtx, history, stage); err != nil {
				return err
			}

			// the cross-stage read comes first so a missing reference creates nothing
			if err := s.factory.ResolveReferences(txCtx, req.PurchaseID, detail); err != nil {
				return err
			}

			node, err := s.sequencer.CreateStatusNode(txCtx, req.PurchaseID, stage, label)
			if err != nil {
				return err
			}
			if err := s.factory.CreateStageDetail(txCtx, node, detail); err != nil {
				return err
			}
			files, err := s.evidence.AttachStaged(txCtx, stage, detail.Meta().ID, req.PurchaseID, req.Files)
			if err != nil {
				return err
			}
			if err := s.purchaseRepo.UpdateStatusLabel(txCtx, req.PurchaseID, label); err != nil {
				return err
			}

			committed = &CommittedTransition{
				Purchase: purchase,
				Node:     node,
				Detail:   detail,
				Evidence: files,
			}
			return nil
		})

		if err == nil || !errors.Is(err, port.ErrSequenceConflict) || attempt >= s.cfg.SequenceRetries {
			break
		}
		s.logger.Warn("Retrying stage transition after sequence conflict",
			"purchase_id", req.PurchaseID,
			"stage_key", stage,
			"attempt", attempt+1,
		)
	}
	if err != nil {
		return nil, s.transitionError(stage, err)
	}

	purchase.StatusLabel = label
	committed.Pending = PendingSideEffects{
		Moves: committed.Evidence,
		Events: []*event.Event{
			event.NewEvent(event.TypeStageTransitioned, req.PurchaseID, stage.String(), committed.Node.ID, map[string]interface{}{
				"stage_label":    label,
				"stage_sequence": committed.Node.StageSequence,
				"evidence_count": len(committed.Evidence),
			}),
		},
	}
	return committed, nil
}

func (s *stageTransitionServiceImpl) ApplySideEffects(ctx context.Context, committed *CommittedTransition) error {
	stage := committed.Node.StageKey

	// file work outlives a cancelled request but not the file timeout
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FileOpTimeout)
	defer cancel()

	var removeErr error
	if committed.Pending.Keep != nil {
		removeErr = s.evidence.RemoveFiles(fctx, stage, committed.Detail.Meta().ID, committed.Pending.Keep)
	}
	moveErr := s.evidence.ApplyMoves(fctx, stage, committed.Pending.Moves)
	evidenceErr := mergeEvidenceErrors(stage, removeErr, moveErr)

	if evidenceErr != nil {
		s.logger.Error("Evidence inconsistent after commit",
			"purchase_id", committed.Node.PurchaseID,
			"stage_key", stage,
			"status_node_id", committed.Node.ID,
			"error", evidenceErr,
		)
		payload := map[string]interface{}{"error": evidenceErr.Error()}
		if len(committed.Pending.Events) > 0 {
			s.publish(ctx, committed.Pending.Events[0].Follow(event.TypeEvidenceInconsistent, payload))
		} else {
			s.publish(ctx, event.NewEvent(event.TypeEvidenceInconsistent, committed.Node.PurchaseID, stage.String(), committed.Node.ID, payload))
		}
	}

	for _, evt := range committed.Pending.Events {
		s.publish(ctx, evt)
	}

	return evidenceErr
}

func (s *stageTransitionServiceImpl) Run(ctx context.Context, req StageTransitionRequest) (*TransitionOutcome, error) {
	committed, err := s.Commit(ctx, req)
	if err != nil {
		return nil, err
	}

	evidenceErr := s.ApplySideEffects(ctx, committed)

	return &TransitionOutcome{
		StatusNodeID: committed.Node.ID,
		Confirmation: fmt.Sprintf("%s recorded for purchase %s (step %d)",
			committed.Node.StageLabel, committed.Node.PurchaseID, committed.Node.StageSequence),
		EvidenceError: evidenceErr,
	}, nil
}

func (s *stageTransitionServiceImpl) Edit(ctx context.Context, req StageEditRequest) (*TransitionOutcome, error) {
	stage := req.Stage

	detail, err := s.factory.Decode(stage, req.Payload)
	if err != nil {
		return nil, err
	}
	if err := s.evidence.CheckUploads(ctx, stage, req.Files); err != nil {
		return nil, err
	}

	committed, err := s.edit(ctx, req, detail)
	if err != nil {
		s.evidence.DiscardStaged(context.WithoutCancel(ctx), req.Files)
		s.logger.Error("Stage edit failed",
			"stage_key", stage,
			"status_node_id", req.StatusNodeID,
			"error", err,
		)
		return nil, err
	}

	evidenceErr := s.ApplySideEffects(ctx, committed)

	s.logger.Info("Stage detail edited",
		"purchase_id", committed.Node.PurchaseID,
		"stage_key", stage,
		"status_node_id", committed.Node.ID,
		"new_files", len(committed.Evidence),
	)

	return &TransitionOutcome{
		StatusNodeID:  committed.Node.ID,
		Confirmation:  fmt.Sprintf("%s updated for purchase %s", committed.Node.StageLabel, committed.Node.PurchaseID),
		EvidenceError: evidenceErr,
	}, nil
}

func (s *stageTransitionServiceImpl) edit(ctx context.Context, req StageEditRequest, detail entity.StageDetail) (*CommittedTransition, error) {
	stage := req.Stage

	node, err := s.nodeRepo.GetByID(ctx, req.StatusNodeID)
	if err != nil {
		return nil, s.transitionError(stage, err)
	}
	if node == nil || node.StageKey != stage {
		return nil, &failure.NotFoundError{Stage: stage, Reason: failure.ReasonStatusNodeNotFound, Resource: "status node", ID: fmt.Sprint(req.StatusNodeID)}
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TransitionTimeout)
	defer cancel()

	release, err := s.locker.Lock(tctx, node.PurchaseID)
	if err != nil {
		return nil, s.transitionError(stage, err)
	}
	defer release()

	var committed *CommittedTransition
	err = s.txManager.WithTransaction(tctx, func(txCtx context.Context) error {
		updated, err := s.factory.UpdateStageDetail(txCtx, stage, node.ID, detail)
		if err != nil {
			return err
		}
		files, err := s.evidence.AttachStaged(txCtx, stage, updated.Meta().ID, node.PurchaseID, req.Files)
		if err != nil {
			return err
		}
		committed = &CommittedTransition{Node: node, Detail: updated, Evidence: files}
		return nil
	})
	if err != nil {
		return nil, s.transitionError(stage, err)
	}

	keep := make([]int64, 0, len(req.KeepFileIDs)+len(committed.Evidence))
	keep = append(keep, req.KeepFileIDs...)
	for _, f := range committed.Evidence {
		keep = append(keep, f.ID)
	}

	committed.Pending = PendingSideEffects{
		Moves: committed.Evidence,
		Keep:  keep,
		Events: []*event.Event{
			event.NewEvent(event.TypeStageEdited, node.PurchaseID, stage.String(), node.ID, map[string]interface{}{
				"stage_label":    node.StageLabel,
				"evidence_count": len(committed.Evidence),
			}),
		},
	}
	return committed, nil
}

func (s *stageTransitionServiceImpl) History(ctx context.Context, purchaseID string) ([]*entity.StatusNode, error) {
	return s.sequencer.History(ctx, purchaseID)
}

func (s *stageTransitionServiceImpl) Get(ctx context.Context, stage entity.StageKey, statusNodeID int64) (*entity.StageRecord, error) {
	return s.factory.Get(ctx, stage, statusNodeID)
}

func (s *stageTransitionServiceImpl) publish(ctx context.Context, evt *event.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, evt)
	}
}

// transitionError passes taxonomy errors through and wraps everything else
func (s *stageTransitionServiceImpl) transitionError(stage entity.StageKey, err error) error {
	var (
		validation *failure.ValidationError
		notFound   *failure.NotFoundError
		transition *failure.StageTransitionError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &notFound), errors.As(err, &transition):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &failure.StageTransitionError{Stage: stage, Reason: failure.ReasonTimeout, Err: err}
	case errors.Is(err, port.ErrSequenceConflict):
		return &failure.StageTransitionError{Stage: stage, Reason: failure.ReasonSequenceConflict, Err: err}
	default:
		return &failure.StageTransitionError{Stage: stage, Reason: failure.ReasonPersistenceFailed, Err: err}
	}
}

// mergeEvidenceErrors folds the problems of both phases into one error
func mergeEvidenceErrors(stage entity.StageKey, errs ...error) error {
	merged := &failure.EvidenceConsistencyError{Stage: stage}
	var other []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var ec *failure.EvidenceConsistencyError
		if errors.As(err, &ec) {
			merged.Problems = append(merged.Problems, ec.Problems...)
			continue
		}
		other = append(other, err)
	}
	if len(other) > 0 {
		merged.Problems = append(merged.Problems, failure.EvidenceProblem{Action: "reconcile", Resolution: ResolutionKeptStaged, Err: errors.Join(other...)})
	}
	if len(merged.Problems) == 0 {
		return nil
	}
	return merged
}
