package natsx

import (
	"context"
	"time"
)

// Publisher PublishOnce 的最小接口，便于替换
type Publisher interface {
	PublishOnce(ctx context.Context, biz, subject string, data []byte, hdr map[string]string, msgID string) error
}

// NatsxSyncPublisher 同步发布器（带重试）
type NatsxSyncPublisher struct {
	P       Publisher
	Retries int
	Backoff time.Duration
}

func (sp *NatsxSyncPublisher) PublishOnce(ctx context.Context, biz, subject string, payload []byte, hdr map[string]string, msgID string) error {
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.PublishOnce(ctx, biz, subject, payload, hdr, msgID)
		if err == nil {
			return nil
		}
		if i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}
