// Package event holds the domain events published once a stage transition
// has committed.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the type of domain event
type Type string

const (
	TypeStageTransitioned    Type = "stage.transitioned"
	TypeStageEdited          Type = "stage.edited"
	TypeEvidenceInconsistent Type = "evidence.inconsistent"
)

func (t Type) String() string { return string(t) }

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	return t == TypeStageTransitioned || t == TypeStageEdited || t == TypeEvidenceInconsistent
}

// Event is one fact about a status node. Events raised by the same
// transition share a CorrelationID.
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	PurchaseID    string                 `json:"purchase_id"`
	StageKey      string                 `json:"stage_key"`
	StatusNodeID  int64                  `json:"status_node_id"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent starts a new correlation chain
func NewEvent(eventType Type, purchaseID, stageKey string, statusNodeID int64, payload map[string]interface{}) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		PurchaseID:    purchaseID,
		StageKey:      stageKey,
		StatusNodeID:  statusNodeID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.NewString(),
	}
}

// Follow raises an event about the same status node in the same chain
func (e *Event) Follow(eventType Type, payload map[string]interface{}) *Event {
	next := NewEvent(eventType, e.PurchaseID, e.StageKey, e.StatusNodeID, payload)
	next.CorrelationID = e.CorrelationID
	return next
}

// GetPayloadString returns the string under key, or ""
func (e *Event) GetPayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// GetPayloadInt returns the integer under key, or 0. JSON numbers decode as float64.
func (e *Event) GetPayloadInt(key string) int64 {
	switch v := e.Payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
