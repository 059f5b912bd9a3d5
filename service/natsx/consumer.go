package natsx

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	pendingMsgs  = 1 << 20
	pendingBytes = 64 << 20
)

// NatsxConsumer 按 biz 路由订阅；所有 handler 外层套上 Recover 与中间件
type NatsxConsumer struct {
	c   *NatsxClient
	mws []NatsxMiddleware
}

func NewNatsxConsumer(c *NatsxClient, mws ...NatsxMiddleware) *NatsxConsumer {
	return &NatsxConsumer{c: c, mws: append([]NatsxMiddleware{NatsxRecover()}, mws...)}
}

// Subscribe 同一 subject 的回调由 nats 串行调用，保证单会话内顺序
func (cs *NatsxConsumer) Subscribe(biz string, h NatsxHandler) error {
	r, ok := cs.c.route(biz)
	if !ok {
		return fmt.Errorf("natsx: no route for %q", biz)
	}
	handle := NatsxChain(h, cs.mws...)

	var (
		sub *nats.Subscription
		err error
	)
	cb := func(m *nats.Msg) {
		_ = handle(context.Background(), toMessage(m))
	}
	if r.Queue != "" {
		sub, err = cs.c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
	} else {
		sub, err = cs.c.nc.Subscribe(r.Subject, cb)
	}
	if err != nil {
		return fmt.Errorf("natsx: subscribe %s: %w", r.Subject, err)
	}
	if err := sub.SetPendingLimits(pendingMsgs, pendingBytes); err != nil {
		_ = sub.Unsubscribe()
		return err
	}

	cs.c.mu.Lock()
	if old, ok := cs.c.subs[biz]; ok {
		_ = old.Unsubscribe()
	}
	cs.c.subs[biz] = sub
	cs.c.mu.Unlock()
	return nil
}

func toMessage(m *nats.Msg) NatsxMessage {
	out := NatsxMessage{Subject: m.Subject, Data: append([]byte(nil), m.Data...)}
	if len(m.Header) > 0 {
		out.Header = make(map[string]string, len(m.Header))
		for k, v := range m.Header {
			if len(v) > 0 {
				out.Header[k] = v[0]
			}
		}
	}
	return out
}
