package handlers

import (
	"context"
	"encoding/json"

	"PropChat/module/chat/api"
	"PropChat/module/chat/service"
	"PropChat/service/chat"
	"PropChat/tools/decode"
)

// SendHandler sendMessage({chatId, senderId, content})：与 HTTP 同一条追加路径，
// 发起连接收到 messageAck，其他成员收到 receiveMessage
type SendHandler struct{ gw *chat.Gateway }

func NewSendHandler(gw *chat.Gateway) chat.Handler { return &SendHandler{gw: gw} }
func (h *SendHandler) Event() string { return api.EvSendMessage }

func (h *SendHandler) Handle(ctx context.Context, c *chat.Client, data json.RawMessage) error {
	req, err := decode.DecodePayload[api.SendRequest](data)
	if err != nil {
		chat.SendError(c, h.Event(), "Invalid chat ID or sender ID")
		return err
	}
	if req.SenderID == "" {
		req.SenderID = c.UserID
	}
	// 已认证连接不能冒充别人
	if c.UserID != "" && req.SenderID != c.UserID && c.Role != "admin" {
		chat.SendError(c, h.Event(), "You are not a participant in this chat")
		return nil
	}

	msg, err := h.gw.Service().AppendMessage(ctx, service.AppendInput{
		ChatID:     req.ChatID,
		SenderID:   req.SenderID,
		Content:    req.Content,
		ReplyTo:    req.ReplyTo,
		OriginConn: c.ConnID,
	})
	if err != nil {
		chat.SendError(c, h.Event(), chat.LiveErrorText(err))
		return err
	}
	chat.SendEvent(c, api.EvMessageAck, msg)
	return nil
}
