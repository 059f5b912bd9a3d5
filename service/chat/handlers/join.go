package handlers

import (
	"context"
	"encoding/json"

	"PropChat/module/chat/api"
	"PropChat/service/chat"
	"PropChat/tools/decode"
	"PropChat/tools/errs"
)

// JoinHandler joinChat(chatId)：加入房间并回放历史
type JoinHandler struct{ gw *chat.Gateway }

func NewJoinHandler(gw *chat.Gateway) chat.Handler { return &JoinHandler{gw: gw} }
func (h *JoinHandler) Event() string { return api.EvJoinChat }

func (h *JoinHandler) Handle(ctx context.Context, c *chat.Client, data json.RawMessage) error {
	chatID, err := decode.ReadID(data, "chatId")
	if err != nil {
		chat.SendError(c, h.Event(), "Invalid chat ID")
		return err
	}

	err = h.gw.Hub().Join(ctx, c, chatID, func(ctx context.Context) (api.Thread, error) {
		th, err := h.gw.Service().ListMessages(ctx, chatID)
		if err != nil {
			return api.Thread{}, err
		}
		// 带令牌的连接只能进自己的会话（admin 例外）；匿名连接不做限制
		if c.UserID != "" && c.Role != "admin" && !hasParticipant(th, c.UserID) {
			return api.Thread{}, errs.ErrForbidden.WithDetail("You are not a participant in this chat").Wrap()
		}
		return th, nil
	})
	if err != nil {
		chat.SendError(c, h.Event(), chat.LiveErrorText(err))
		return err
	}
	return nil
}

func hasParticipant(th api.Thread, userID string) bool {
	for _, p := range th.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
