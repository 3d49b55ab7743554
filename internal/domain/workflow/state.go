package workflow

import "github.com/garyjia/shipment-workflow/internal/domain/entity"

// State represents how far a shipment has progressed along the advisory order
type State string

const (
	StateNew                State = "NEW"
	StateBooked             State = "BOOKED"
	StateReceived           State = "RECEIVED"
	StateLoaded             State = "LOADED"
	StateDocumented         State = "DOCUMENTED"
	StateDepartureConfirmed State = "DEPARTURE_CONFIRMED"
	StateDeparted           State = "DEPARTED"
	StateAwaitingRelease    State = "AWAITING_RELEASE"
	StateReleased           State = "RELEASED"
	StateOutForDelivery     State = "OUT_FOR_DELIVERY"
	StateDelivered          State = "DELIVERED"
	StateReturned           State = "RETURNED"
)

// stageStates maps each ordered stage to the state it leads to. Notes has no state.
var stageStates = map[entity.StageKey]State{
	entity.StageBooking:               StateBooked,
	entity.StageReceiving:             StateReceived,
	entity.StageLoading:               StateLoaded,
	entity.StageDocumentation:         StateDocumented,
	entity.StageDepartureConfirmation: StateDepartureConfirmed,
	entity.StageDeparture:             StateDeparted,
	entity.StageReleaseWait:           StateAwaitingRelease,
	entity.StageReleaseConfirmation:   StateReleased,
	entity.StageDelivery:              StateOutForDelivery,
	entity.StageDeliveryConfirmation:  StateDelivered,
	entity.StageReturn:                StateReturned,
}

var validStates = map[State]bool{StateNew: true}

func init() {
	for _, s := range stageStates {
		validStates[s] = true
	}
}

// StateAfter returns the state reached by recording stage
func StateAfter(stage entity.StageKey) (State, bool) {
	s, ok := stageStates[stage]
	return s, ok
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return s == StateReturned
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
