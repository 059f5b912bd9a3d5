package natsx

import (
	"context"
	"errors"
)

var errNoManager = errors.New("natsx: manager not initialized")

// NatsManager 对外的唯一入口：一条连接，发布端与订阅端共用
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	consumer *NatsxConsumer
}

// NewNatsManager 连接 NATS；mws 作用于之后所有 Subscribe
func NewNatsManager(cfg NatsxConfig, mws ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{
		client:   c,
		producer: NewNatsxProducer(c),
		consumer: NewNatsxConsumer(c, mws...),
	}, nil
}

func (m *NatsManager) ok() bool { return m != nil && m.client != nil }

// Close 退订并 drain 连接
func (m *NatsManager) Close() error {
	if !m.ok() {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if !m.ok() {
		return errNoManager
	}
	return m.client.RegisterRoute(r)
}

func (m *NatsManager) Publish(ctx context.Context, biz, subject string, data []byte, hdr map[string]string) error {
	if !m.ok() {
		return errNoManager
	}
	return m.producer.Publish(ctx, biz, subject, data, hdr)
}

// PublishOnce 带 Nats-Msg-Id，订阅端据此去重
func (m *NatsManager) PublishOnce(ctx context.Context, biz, subject string, data []byte, hdr map[string]string, msgID string) error {
	if !m.ok() {
		return errNoManager
	}
	return m.producer.PublishOnce(ctx, biz, subject, data, hdr, msgID)
}

// Subscribe 路由里 Queue 为空时是广播订阅
func (m *NatsManager) Subscribe(biz string, h NatsxHandler) error {
	if !m.ok() {
		return errNoManager
	}
	return m.consumer.Subscribe(biz, h)
}

// Status 连接状态（CONNECTED / RECONNECTING / CLOSED ...）
func (m *NatsManager) Status() string {
	if !m.ok() || m.client.nc == nil {
		return "DISABLED"
	}
	return m.client.nc.Status().String()
}
