package entity

import "time"

// StatusNode marks that a purchase entered a stage at a sequence position.
// Nodes are append-only: they are never updated or deleted.
type StatusNode struct {
	ID            int64     `json:"id"`
	PurchaseID    string    `json:"purchase_id"`
	StageKey      StageKey  `json:"stage_key"`
	StageSequence int       `json:"stage_sequence"`
	StageLabel    string    `json:"stage_label"`
	CreatedAt     time.Time `json:"created_at"`
}

// StageRecord is a status node together with its detail and evidence
type StageRecord struct {
	Node     *StatusNode     `json:"node"`
	Detail   StageDetail     `json:"detail"`
	Evidence []*EvidenceFile `json:"evidence"`
}
