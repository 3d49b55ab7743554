package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/domain/failure"
	"github.com/garyjia/shipment-workflow/internal/domain/workflow"
)

// FreeFormOrder accepts any stage at any time, repeats included
type FreeFormOrder struct{}

// Check always succeeds
func (FreeFormOrder) Check(ctx context.Context, history []*entity.StatusNode, next entity.StageKey) error {
	return nil
}

// StrictOrderPolicy only lets a purchase advance along the advisory stage
// order. Notes are allowed anywhere and the current stage may be repeated.
type StrictOrderPolicy struct {
	builder workflow.StateMachineBuilder
}

// NewStrictOrderPolicy configures the stage state machine
func NewStrictOrderPolicy() *StrictOrderPolicy {
	b := workflow.NewBuilder()
	notes := workflow.TriggerFor(entity.StageNotes)

	prev := workflow.StateNew
	var prevStage entity.StageKey
	for _, stage := range entity.AllStages {
		next, ok := workflow.StateAfter(stage)
		if !ok {
			continue
		}
		cfg := b.Configure(prev).
			Permit(workflow.TriggerFor(stage), next).
			Ignore(notes)
		if prevStage != "" {
			cfg.PermitReentry(workflow.TriggerFor(prevStage))
		}
		prev, prevStage = next, stage
	}
	b.Configure(prev).
		PermitReentry(workflow.TriggerFor(prevStage)).
		Ignore(notes)

	return &StrictOrderPolicy{builder: b}
}

// Check places the purchase in the state reached by its latest ordered stage
// and requires next to be permitted from there. A rejection names the stages
// that would have been accepted.
func (p *StrictOrderPolicy) Check(ctx context.Context, history []*entity.StatusNode, next entity.StageKey) error {
	current := workflow.StateNew
	for i := len(history) - 1; i >= 0; i-- {
		if s, ok := workflow.StateAfter(history[i].StageKey); ok {
			current = s
			break
		}
	}

	machine := p.builder.Build(current)
	if err := machine.Fire(ctx, workflow.TriggerFor(next)); err != nil {
		return &failure.ValidationError{
			Stage:  next,
			Reason: failure.ReasonStageOutOfOrder,
			Detail: fmt.Sprintf("%s cannot follow state %s, expected one of [%s]", next, current, expectedStages(machine)),
		}
	}
	return nil
}

func expectedStages(machine workflow.StateMachine) string {
	triggers := machine.PermittedTriggers()
	stages := make([]string, 0, len(triggers))
	for _, t := range triggers {
		stages = append(stages, t.Stage().String())
	}
	return strings.Join(stages, ", ")
}

// Verify interface compliance
var (
	_ port.StageOrderPolicy = FreeFormOrder{}
	_ port.StageOrderPolicy = (*StrictOrderPolicy)(nil)
)
