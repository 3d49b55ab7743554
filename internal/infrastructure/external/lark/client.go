// Package lark pushes notification intents to employees through Lark IM.
package lark

import (
	"context"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// Config holds Lark client configuration
type Config struct {
	AppID         string
	AppSecret     string
	ReceiveIDType string // open_id, user_id, union_id or email
	BaseURL       string // optional, overrides the open platform domain
}

// messageCreator is the part of the SDK the messenger needs
type messageCreator interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// NewSDKClient creates the Lark SDK client with a cached tenant token
func NewSDKClient(cfg Config) *lark.Client {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}
	return lark.NewClient(cfg.AppID, cfg.AppSecret, opts...)
}
