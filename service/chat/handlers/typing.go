package handlers

import (
	"context"
	"encoding/json"

	"PropChat/module/chat/api"
	"PropChat/service/chat"
	"PropChat/tools/decode"
)

// TypingHandler typing(chatId)：只转发给同房间的其他连接，不落库
type TypingHandler struct{ gw *chat.Gateway }

func NewTypingHandler(gw *chat.Gateway) chat.Handler { return &TypingHandler{gw: gw} }
func (h *TypingHandler) Event() string { return api.EvTyping }

func (h *TypingHandler) Handle(ctx context.Context, c *chat.Client, data json.RawMessage) error {
	chatID, err := decode.ReadID(data, "chatId")
	if err != nil {
		return err
	}
	h.gw.Typing(ctx, chatID, c.ConnID)
	return nil
}

// RegisterAll 注册全部实时事件处理器
func RegisterAll(gw *chat.Gateway) {
	gw.Disp().Register(
		NewJoinHandler(gw),
		NewLeaveHandler(gw),
		NewSendHandler(gw),
		NewTypingHandler(gw),
	)
}
