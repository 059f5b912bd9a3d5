package chat

import (
	"context"
	"encoding/json"
)

// Handler 处理一种客户端事件
type Handler interface {
	Event() string
	Handle(ctx context.Context, c *Client, data json.RawMessage) error
}

// HandlerFunc 适配普通函数
type HandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, c *Client, data json.RawMessage) error
}

func (h HandlerFunc) Event() string { return h.Name }

func (h HandlerFunc) Handle(ctx context.Context, c *Client, data json.RawMessage) error {
	return h.Fn(ctx, c, data)
}
