package lark

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
)

// Sink delivers notification intents as Lark text messages
type Sink struct {
	sender port.LarkMessageSender
}

// NewSink creates a Sink
func NewSink(sender port.LarkMessageSender) *Sink {
	return &Sink{sender: sender}
}

// Submit sends the intent to the recipient's Lark account
func (s *Sink) Submit(ctx context.Context, intent entity.NotificationIntent) error {
	if intent.RecipientOpenID == "" {
		return fmt.Errorf("recipient %s has no lark open id", intent.Recipient)
	}
	return s.sender.SendMessage(ctx, intent.RecipientOpenID, formatText(intent))
}

func formatText(intent entity.NotificationIntent) string {
	lines := []string{intent.Title}
	if intent.Message != "" {
		lines = append(lines, intent.Message)
	}
	if intent.Link != "" {
		lines = append(lines, intent.Link)
	}
	return strings.Join(lines, "\n")
}

// Verify interface compliance
var _ port.NotificationSink = (*Sink)(nil)
