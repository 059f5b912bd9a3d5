package kafka

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"PropChat/logger"
	"PropChat/module/chat/api"
	"PropChat/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

const enqueueWait = 200 * time.Millisecond

// EventSink 把会话事件异步写入 kafka（实现 service.EventSink）。
// 写入失败只记日志，不影响聊天主流程。
type EventSink struct {
	topic  string
	client sarama.Client
	p      sarama.AsyncProducer

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewEventSink 连接集群，按需建 topic，启动异步生产者
func NewEventSink(cfg Config) (*EventSink, error) {
	client, err := sarama.NewClient(cfg.Brokers, BuildBaseConfig(cfg))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", cfg.Brokers)
	}
	if cfg.AutoCreateTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		if err := EnsureTopic(admin, cfg); err != nil {
			logger.Warn("kafka ensure topic failed", zap.String("topic", cfg.Topic), zap.Error(err))
		}
	}
	p, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka async producer")
	}
	s := NewEventSinkFromProducer(p, cfg.Topic)
	s.client = client
	return s, nil
}

// NewEventSinkFromProducer 复用已有生产者（单测传 mocks.AsyncProducer）
func NewEventSinkFromProducer(p sarama.AsyncProducer, topic string) *EventSink {
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	s := &EventSink{topic: topic, p: p}
	s.wg.Add(2)
	go s.successLoop()
	go s.errorLoop()
	return s
}

func (s *EventSink) successLoop() {
	defer s.wg.Done()
	for msg := range s.p.Successes() {
		s.delivered.Add(1)
		logger.Debug("chat event sent", zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset))
	}
}

func (s *EventSink) errorLoop() {
	defer s.wg.Done()
	for perr := range s.p.Errors() {
		s.failed.Add(1)
		logger.Warn("chat event send failed", zap.String("topic", perr.Msg.Topic), zap.Error(perr.Err))
	}
}

// BuildMessage Key 为 chatId，同一会话的事件有序
func (s *EventSink) BuildMessage(ev api.ChatEvent) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic:     s.topic,
		Key:       sarama.StringEncoder(ev.ChatID),
		Value:     sarama.ByteEncoder(value),
		Timestamp: ev.At,
	}, nil
}

// Emit 非阻塞语义：生产者积压时最多等 enqueueWait，超时丢弃
func (s *EventSink) Emit(ev api.ChatEvent) {
	msg, err := s.BuildMessage(ev)
	if err != nil {
		logger.Error("encode chat event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	t := time.NewTimer(enqueueWait)
	defer t.Stop()
	select {
	case s.p.Input() <- msg:
	case <-t.C:
		s.dropped.Add(1)
		logger.Warn("chat event dropped, producer backlog", zap.String("type", ev.Type), zap.String("chat_id", ev.ChatID))
	}
}

// Stats 投递计数：成功 / 失败 / 丢弃
func (s *EventSink) Stats() (delivered, failed, dropped int64) {
	return s.delivered.Load(), s.failed.Load(), s.dropped.Load()
}

// Close 刷完在途消息再返回
func (s *EventSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.p.AsyncClose()
	s.wg.Wait()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
