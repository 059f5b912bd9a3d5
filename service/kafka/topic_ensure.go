package kafka

import (
	"errors"
	"fmt"

	"PropChat/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopic 会：
// 1) 不存在就按 cfg 创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 只能加不能减）。
func EnsureTopic(admin sarama.ClusterAdmin, cfg Config) error {
	t := cfg.Topic
	descs, err := admin.DescribeTopics([]string{t})
	if err != nil {
		return fmt.Errorf("describe topic %s: %w", t, err)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	minISR := "1"
	if cfg.ReplicationFactor >= 3 {
		minISR = "2"
	}

	if !exists {
		td := &sarama.TopicDetail{
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Info("kafka topic exists (race)", zap.String("topic", t))
				return nil
			}
			return fmt.Errorf("create topic %s: %w", t, err)
		}
		logger.Info("kafka topic created", zap.String("topic", t),
			zap.Int32("partitions", cfg.Partitions), zap.Int16("rf", cfg.ReplicationFactor))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if cfg.Partitions > cur {
		if err := admin.CreatePartitions(t, cfg.Partitions, nil, false); err != nil {
			return fmt.Errorf("expand partitions %s from %d to %d: %w", t, cur, cfg.Partitions, err)
		}
		logger.Info("kafka partitions expanded", zap.String("topic", t), zap.Int32("from", cur), zap.Int32("to", cfg.Partitions))
	}
	return nil
}

func strPtr(s string) *string { return &s }
