// Package api holds the JSON shapes shared by the HTTP routes, the live
// channel, the event stream and the Go client.
package api

import "time"

type UserRef struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

type PropertyRef struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
}

// Message 一条已落库的消息（发送人展示名为读时补全）
type Message struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chatId"`
	Seq       int64     `json:"seq"`
	Sender    UserRef   `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"replyTo,omitempty"`
}

// Thread 会话的完整历史
type Thread struct {
	ChatID       string    `json:"_id"`
	Participants []UserRef `json:"participants"`
	Messages     []Message `json:"messages"`
}

// LastSeq 历史里最后一条消息的 seq，空会话为 0
func (t Thread) LastSeq() int64 {
	if len(t.Messages) == 0 {
		return 0
	}
	return t.Messages[len(t.Messages)-1].Seq
}

// ConversationSummary 我的会话 / 房东收件箱的一行；Owner 与 Buyer 只会出现一个
type ConversationSummary struct {
	ID           string       `json:"_id"`
	Property     *PropertyRef `json:"property"`
	Owner        *UserRef     `json:"owner,omitempty"`
	Buyer        *UserRef     `json:"buyer,omitempty"`
	Participants []UserRef    `json:"participants"`
	Messages     []Message    `json:"messages"`
	LastMessage  *Message     `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Counterpart 对方（不区分视角）
func (s ConversationSummary) Counterpart() *UserRef {
	if s.Owner != nil {
		return s.Owner
	}
	return s.Buyer
}

type StartRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	PropertyID string `json:"propertyId"`
}

type StartResponse struct {
	ID string `json:"_id"`
}

type SendRequest struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	ReplyTo  string `json:"replyTo,omitempty"`
}

type ErrorBody struct {
	Error string `json:"error"`
}

// Exclude 广播时跳过的发起连接（空值表示房间内全部送达）。
// 同一用户的其他连接照常收到，客户端按消息 id 去重。
type Exclude struct {
	ConnID string `json:"connId,omitempty"`
}

func (e Exclude) Match(connID string) bool {
	return e.ConnID != "" && e.ConnID == connID
}
