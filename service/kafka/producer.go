package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// BuildBaseConfig 生产者配置；按 chatId 做 Key，同一会话落同一分区
func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.kafkaVersion()

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.Retries <= 0 {
		c.Retries = 1
	}
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ 关键：Key 控制分区
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
