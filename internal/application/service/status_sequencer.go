package service

import (
	"context"
	"fmt"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
)

// StatusSequencer allocates positions in a purchase's append-only stage history
type StatusSequencer interface {
	// CreateStatusNode appends a node at max(sequence)+1. It must run inside
	// the transition transaction.
	CreateStatusNode(ctx context.Context, purchaseID string, stage entity.StageKey, label string) (*entity.StatusNode, error)

	// History returns the nodes of a purchase ordered by sequence
	History(ctx context.Context, purchaseID string) ([]*entity.StatusNode, error)
}

type statusSequencerImpl struct {
	nodeRepo port.StatusNodeRepository
	logger   Logger
}

// NewStatusSequencer creates a new StatusSequencer
func NewStatusSequencer(nodeRepo port.StatusNodeRepository, logger Logger) StatusSequencer {
	return &statusSequencerImpl{
		nodeRepo: nodeRepo,
		logger:   orNop(logger),
	}
}

func (s *statusSequencerImpl) CreateStatusNode(ctx context.Context, purchaseID string, stage entity.StageKey, label string) (*entity.StatusNode, error) {
	if !stage.IsValid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	if label == "" {
		label = stage.Label()
	}

	node, err := s.nodeRepo.Append(ctx, purchaseID, stage, label)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Status node created",
		"purchase_id", purchaseID,
		"stage_key", stage,
		"status_node_id", node.ID,
		"stage_sequence", node.StageSequence,
	)
	return node, nil
}

func (s *statusSequencerImpl) History(ctx context.Context, purchaseID string) ([]*entity.StatusNode, error) {
	nodes, err := s.nodeRepo.ListByPurchase(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", purchaseID, err)
	}
	return nodes, nil
}
