package workflow

import (
	"strings"

	"github.com/garyjia/shipment-workflow/internal/domain/entity"
)

// Trigger represents recording a stage, which may cause a state transition
type Trigger string

// TriggerFor returns the trigger fired when stage is recorded
func TriggerFor(stage entity.StageKey) Trigger {
	return Trigger("RECORD_" + strings.ToUpper(stage.String()))
}

// Stage returns the stage whose recording fires the trigger
func (t Trigger) Stage() entity.StageKey {
	return entity.StageKey(strings.ToLower(strings.TrimPrefix(string(t), "RECORD_")))
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
