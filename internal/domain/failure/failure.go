// Package failure defines the error taxonomy of stage transitions and its
// user-visible rendering as {stage_key, reason_code}.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/shipment-workflow/internal/domain/entity"
)

// Reason codes returned to callers
const (
	ReasonValidationFailed     = "validation_failed"
	ReasonUnknownStage         = "unknown_stage"
	ReasonPurchaseNotFound     = "purchase_not_found"
	ReasonReleaseWaitNotFound  = "release_wait_not_found"
	ReasonStatusNodeNotFound   = "status_node_not_found"
	ReasonStageOutOfOrder      = "stage_out_of_order"
	ReasonPersistenceFailed    = "persistence_failed"
	ReasonSequenceConflict     = "sequence_conflict"
	ReasonTimeout              = "timeout"
	ReasonEvidenceInconsistent = "evidence_inconsistent"
	ReasonNotificationFailed   = "notification_failed"
	ReasonInternal             = "internal"
)

// ValidationError reports a payload that does not satisfy its stage schema.
// It is raised before any transaction begins.
type ValidationError struct {
	Stage  entity.StageKey
	Reason string
	Fields []string
	Detail string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: invalid %s payload", e.Reason, e.Stage)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, ": missing or invalid fields [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// ReasonCode implements Coded
func (e *ValidationError) ReasonCode() string {
	if e.Reason == "" {
		return ReasonValidationFailed
	}
	return e.Reason
}

// NotFoundError reports a missing purchase, status node or required prior stage
type NotFoundError struct {
	Stage    entity.StageKey
	Reason   string
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s (stage %s)", e.Resource, e.ID, e.Stage)
}

// ReasonCode implements Coded
func (e *NotFoundError) ReasonCode() string { return e.Reason }

// StageTransitionError wraps a persistence failure of the atomic phase.
// The transaction has been rolled back when this error is returned.
type StageTransitionError struct {
	Stage  entity.StageKey
	Reason string
	Err    error
}

func (e *StageTransitionError) Error() string {
	return fmt.Sprintf("stage %s transition failed (%s): %v", e.Stage, e.ReasonCode(), e.Err)
}

func (e *StageTransitionError) Unwrap() error { return e.Err }

// ReasonCode implements Coded
func (e *StageTransitionError) ReasonCode() string {
	if e.Reason == "" {
		return ReasonPersistenceFailed
	}
	return e.Reason
}

// EvidenceProblem is one mismatch between an evidence row and its file
type EvidenceProblem struct {
	EvidenceID int64
	Path       string
	Action     string // move, delete, reconcile
	Resolution string // kept_staged, row_deleted, file_left_behind, ...
	Err        error
}

// EvidenceConsistencyError aggregates file/row mismatches found after commit.
// The committed transition is never undone because of it.
type EvidenceConsistencyError struct {
	Stage    entity.StageKey
	Problems []EvidenceProblem
}

func (e *EvidenceConsistencyError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("evidence %d %s %s (%s): %v", p.EvidenceID, p.Action, p.Path, p.Resolution, p.Err))
	}
	return fmt.Sprintf("stage %s evidence inconsistent: %s", e.Stage, strings.Join(parts, "; "))
}

// Unwrap exposes the underlying causes
func (e *EvidenceConsistencyError) Unwrap() []error {
	errs := make([]error, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Err != nil {
			errs = append(errs, p.Err)
		}
	}
	return errs
}

// ReasonCode implements Coded
func (e *EvidenceConsistencyError) ReasonCode() string { return ReasonEvidenceInconsistent }

// NotificationDispatchError is logged, never propagated to callers
type NotificationDispatchError struct {
	Stage      entity.StageKey
	PurchaseID string
	Err        error
}

func (e *NotificationDispatchError) Error() string {
	return fmt.Sprintf("notify purchase %s for stage %s: %v", e.PurchaseID, e.Stage, e.Err)
}

func (e *NotificationDispatchError) Unwrap() error { return e.Err }

// ReasonCode implements Coded
func (e *NotificationDispatchError) ReasonCode() string { return ReasonNotificationFailed }

// Coded is implemented by every error of the taxonomy
type Coded interface {
	error
	ReasonCode() string
}

// Failure is the structured shape returned to callers
type Failure struct {
	StageKey   string `json:"stage_key"`
	ReasonCode string `json:"reason_code"`
	Message    string `json:"message"`
}

// Describe renders err for callers without leaking internals. Errors outside
// the taxonomy collapse to reason "internal".
func Describe(stage entity.StageKey, err error) Failure {
	f := Failure{StageKey: stage.String(), ReasonCode: ReasonInternal, Message: "internal error"}

	var (
		validation *ValidationError
		notFound   *NotFoundError
		transition *StageTransitionError
		evidence   *EvidenceConsistencyError
	)
	switch {
	case errors.As(err, &validation):
		f.ReasonCode = validation.ReasonCode()
		f.Message = validation.Error()
	case errors.As(err, &notFound):
		f.ReasonCode = notFound.ReasonCode()
		f.Message = notFound.Error()
	case errors.As(err, &transition):
		f.ReasonCode = transition.ReasonCode()
		f.Message = "stage transition was not recorded"
		if transition.ReasonCode() == ReasonSequenceConflict {
			f.Message = "concurrent update of the same purchase, please retry"
		}
		if transition.ReasonCode() == ReasonTimeout {
			f.Message = "stage transition timed out"
		}
	case errors.As(err, &evidence):
		f.ReasonCode = evidence.ReasonCode()
		f.Message = fmt.Sprintf("%d evidence file(s) could not be reconciled", len(evidence.Problems))
	case errors.Is(err, context.DeadlineExceeded):
		f.ReasonCode = ReasonTimeout
		f.Message = "operation timed out"
	}
	return f
}
