package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

const (
	receiveIDTypeOpenID = "open_id"
	msgTypeText         = "text"
)

// Messenger implements port.LarkMessageSender
type Messenger struct {
	messages      messageCreator
	receiveIDType string
	logger        *zap.Logger
}

// NewMessenger creates a new Lark message sender
func NewMessenger(client *lark.Client, cfg Config, logger *zap.Logger) *Messenger {
	return newMessenger(client.Im.Message, cfg, logger)
}

func newMessenger(messages messageCreator, cfg Config, logger *zap.Logger) *Messenger {
	receiveIDType := cfg.ReceiveIDType
	if receiveIDType == "" {
		receiveIDType = receiveIDTypeOpenID
	}
	return &Messenger{
		messages:      messages,
		receiveIDType: receiveIDType,
		logger:        logger,
	}
}

// SendMessage sends a plain text message to a user
func (m *Messenger) SendMessage(ctx context.Context, openID string, content string) error {
	if openID == "" {
		return fmt.Errorf("openID cannot be empty")
	}
	if content == "" {
		return fmt.Errorf("content cannot be empty")
	}

	text, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(m.receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(openID).
			MsgType(msgTypeText).
			Content(string(text)).
			Build()).
		Build()

	resp, err := m.messages.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", openID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", openID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", openID))

	return nil
}

// Verify interface compliance
var _ port.LarkMessageSender = (*Messenger)(nil)
