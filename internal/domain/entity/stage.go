package entity

import "fmt"

// StageKey identifies a customer-service workflow stage
type StageKey string

const (
	StageBooking               StageKey = "booking"
	StageReceiving             StageKey = "receiving"
	StageLoading               StageKey = "loading"
	StageDocumentation         StageKey = "documentation"
	StageDepartureConfirmation StageKey = "departure_confirmation"
	StageDeparture             StageKey = "departure"
	StageReleaseWait           StageKey = "release_wait"
	StageReleaseConfirmation   StageKey = "release_confirmation"
	StageDelivery              StageKey = "delivery"
	StageDeliveryConfirmation  StageKey = "delivery_confirmation"
	StageReturn                StageKey = "return"
	StageNotes                 StageKey = "notes"
)

// AllStages lists every stage in advisory order, notes last
var AllStages = []StageKey{
	StageBooking,
	StageReceiving,
	StageLoading,
	StageDocumentation,
	StageDepartureConfirmation,
	StageDeparture,
	StageReleaseWait,
	StageReleaseConfirmation,
	StageDelivery,
	StageDeliveryConfirmation,
	StageReturn,
	StageNotes,
}

var stageLabels = map[StageKey]string{
	StageBooking:               "Container Booked",
	StageReceiving:             "Container Received",
	StageLoading:               "Container Loaded",
	StageDocumentation:         "Documents Prepared",
	StageDepartureConfirmation: "Departure Confirmed",
	StageDeparture:             "Departed",
	StageReleaseWait:           "Awaiting Customs Release",
	StageReleaseConfirmation:   "Released",
	StageDelivery:              "Out for Delivery",
	StageDeliveryConfirmation:  "Delivered",
	StageReturn:                "Container Returned",
	StageNotes:                 "Note",
}

// ParseStageKey converts a raw identifier into a StageKey
func ParseStageKey(raw string) (StageKey, error) {
	key := StageKey(raw)
	if !key.IsValid() {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return key, nil
}

// IsValid returns true if the key is one of the twelve known stages
func (k StageKey) IsValid() bool {
	_, ok := stageLabels[k]
	return ok
}

// Label returns the human readable stage label
func (k StageKey) Label() string {
	return stageLabels[k]
}

// String returns the string representation of the stage key
func (k StageKey) String() string {
	return string(k)
}

// Position returns the advisory position of the stage (1-based).
// Notes has no position and returns 0.
func (k StageKey) Position() int {
	if k == StageNotes {
		return 0
	}
	for i, s := range AllStages {
		if s == k {
			return i + 1
		}
	}
	return 0
}
