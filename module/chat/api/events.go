package api

import (
	"encoding/json"
	"time"
)

// 实时通道事件名
const (
	EvJoinChat       = "joinChat"
	EvLeaveChat      = "leaveChat"
	EvSendMessage    = "sendMessage"
	EvTyping         = "typing"
	EvChatHistory    = "chatHistory"
	EvReceiveMessage = "receiveMessage"
	EvMessageAck     = "messageAck"
	EvUserTyping     = "userTyping"
	EvError          = "error"
)

// Frame 实时通道上的一帧 {"event": "...", "data": ...}。
// Re 只出现在 error 帧上，是出错的那个客户端事件名。
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Re    string          `json:"re,omitempty"`
}

func NewFrame(event string, data any) ([]byte, error) {
	return encodeFrame(Frame{Event: event}, data)
}

// NewErrorFrame error(msg)，re 为对应的客户端事件
func NewErrorFrame(re, msg string) ([]byte, error) {
	return encodeFrame(Frame{Event: EvError, Re: re}, msg)
}

func encodeFrame(f Frame, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	f.Data = raw
	return json.Marshal(f)
}

// 事件流（kafka）里的类型
const (
	EventConversationCreated = "conversation.created"
	EventMessageAppended     = "message.appended"
)

type ChatEvent struct {
	Type         string    `json:"type"`
	ChatID       string    `json:"chatId"`
	At           time.Time `json:"at"`
	Message      *Message  `json:"message,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	PropertyID   string    `json:"propertyId,omitempty"`
}

// 跨节点房间总线上的事件类型
const (
	RoomKindMessage = "message"
	RoomKindTyping  = "typing"
)

// RoomEvent 经由房间总线在节点之间转发；每个节点收到后投递给本地成员
type RoomEvent struct {
	ID      string   `json:"id"` // 幂等键：消息 id / typing 随机串
	Kind    string   `json:"kind"`
	ChatID  string   `json:"chatId"`
	Origin  string   `json:"origin"` // 发起节点
	Message *Message `json:"message,omitempty"`
	Exclude Exclude  `json:"exclude"`
	ConnID  string   `json:"connId,omitempty"` // typing 发起连接
}
