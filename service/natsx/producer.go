package natsx

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

const HeaderMsgID = "Nats-Msg-Id"

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 发到 biz 路由的 subject；subject 非空时覆盖路由（按会话分 subject）
func (p *NatsxProducer) Publish(ctx context.Context, biz, subject string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	if subject == "" {
		subject = r.Subject
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	if err := p.c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// PublishOnce 带 Nats-Msg-Id 的发布，消费端靠它去重
func (p *NatsxProducer) PublishOnce(ctx context.Context, biz, subject string, data []byte, hdr map[string]string, msgID string) error {
	if msgID == "" {
		return fmt.Errorf("publish once: empty msgID")
	}
	if hdr == nil {
		hdr = map[string]string{}
	}
	hdr[HeaderMsgID] = msgID
	return p.Publish(ctx, biz, subject, data, hdr)
}
