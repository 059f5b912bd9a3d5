package chat

import (
	"encoding/json"
	"fmt"

	"PropChat/logger"
	"PropChat/module/chat/api"
	"PropChat/tools/errs"

	"go.uber.org/zap"
)

// ParseFrameJSON 解析客户端帧 {"event": "...", "data": ...}
func ParseFrameJSON(raw []byte) (*api.Frame, error) {
	var f api.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("frame without event")
	}
	return &f, nil
}

// SendEvent 编码后入队
func SendEvent(c *Client, event string, data any) {
	frame, err := api.NewFrame(event, data)
	if err != nil {
		logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	c.Enqueue(frame)
}

// SendError 只发给当前连接，连接保持打开；re 为出错的客户端事件
func SendError(c *Client, re, msg string) {
	frame, err := api.NewErrorFrame(re, msg)
	if err != nil {
		logger.Error("encode frame", zap.String("event", api.EvError), zap.Error(err))
		return
	}
	c.Enqueue(frame)
}

// LiveErrorText 实时通道上的错误文本；内部错误统一成通用提示
func LiveErrorText(err error) string {
	if errs.HTTPStatus(err) >= 500 {
		return "Server error, please try again"
	}
	return errs.PublicMessage(err)
}
