package natsx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"PropChat/logger"
	"PropChat/module/chat/api"

	"go.uber.org/zap"
)

const (
	BizRoom       = "chat.room"
	HeaderOrigin  = "Origin"
	defaultPrefix = "propchat.room"
)

// Subscriber 订阅侧的最小接口
type Subscriber interface {
	RegisterRoute(r NatsxRoute) error
	Subscribe(biz string, h NatsxHandler) error
}

// RoomBus 跨节点的房间事件总线：每个会话一个 subject，
// 所有节点广播订阅 <prefix>.>，收到后交给本地网关投递（包括发布者自己）。
type RoomBus struct {
	pub     Publisher
	prefix  string
	deliver func(api.RoomEvent)
}

// NewRoomBus 注册路由并开始订阅
func NewRoomBus(pub Publisher, sub Subscriber, prefix string, deliver func(api.RoomEvent)) (*RoomBus, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	b := &RoomBus{pub: pub, prefix: strings.TrimSuffix(prefix, "."), deliver: deliver}
	if err := sub.RegisterRoute(NatsxRoute{Biz: BizRoom, Subject: b.prefix + ".>"}); err != nil {
		return nil, err
	}
	if err := sub.Subscribe(BizRoom, b.Handle); err != nil {
		return nil, fmt.Errorf("subscribe %s.>: %w", b.prefix, err)
	}
	return b, nil
}

func (b *RoomBus) Subject(chatID string) string { return b.prefix + "." + chatID }

// Publish 实现网关的 RoomBus
func (b *RoomBus) Publish(ctx context.Context, ev api.RoomEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	hdr := map[string]string{HeaderOrigin: ev.Origin}
	return b.pub.PublishOnce(ctx, BizRoom, b.Subject(ev.ChatID), data, hdr, ev.Kind+":"+ev.ID)
}

// Handle 订阅回调
func (b *RoomBus) Handle(_ context.Context, msg NatsxMessage) error {
	var ev api.RoomEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Warn("drop undecodable room event", zap.String("subject", msg.Subject), zap.Error(err))
		return err
	}
	if ev.ChatID == "" {
		ev.ChatID = strings.TrimPrefix(msg.Subject, b.prefix+".")
	}
	b.deliver(ev)
	return nil
}
