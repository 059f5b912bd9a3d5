package handlers

import (
	"context"
	"encoding/json"

	"PropChat/module/chat/api"
	"PropChat/service/chat"
	"PropChat/tools/decode"
)

// LeaveHandler leaveChat(chatId)
type LeaveHandler struct{ gw *chat.Gateway }

func NewLeaveHandler(gw *chat.Gateway) chat.Handler { return &LeaveHandler{gw: gw} }
func (h *LeaveHandler) Event() string { return api.EvLeaveChat }

func (h *LeaveHandler) Handle(_ context.Context, c *chat.Client, data json.RawMessage) error {
	chatID, err := decode.ReadID(data, "chatId")
	if err != nil {
		chat.SendError(c, h.Event(), "Invalid chat ID")
		return err
	}
	h.gw.Hub().Leave(c, chatID)
	return nil
}
