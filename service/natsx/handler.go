package natsx

import (
	"context"
	"fmt"
	"runtime/debug"

	"PropChat/logger"

	"go.uber.org/zap"
)

// NatsxMessage 投递给 handler 的消息；Header 只保留每个键的第一个值
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 先注册的在最外层
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxRecover handler panic 转成错误，订阅协程不退出
func NatsxRecover() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("nats handler panic",
						zap.String("subject", msg.Subject),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()))
					err = fmt.Errorf("nats handler panic: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// NatsxLogErrors 记录 handler 返回的错误
func NatsxLogErrors() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			err := next(ctx, msg)
			if err != nil {
				logger.Warn("nats handler failed",
					zap.String("subject", msg.Subject),
					zap.String("msg_id", msg.Header[HeaderMsgID]),
					zap.Error(err))
			}
			return err
		}
	}
}
