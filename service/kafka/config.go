package kafka

import "github.com/Shopify/sarama"

// Config kafka 配置段；Brokers 为空时不启用事件流
type Config struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int32    `mapstructure:"partitions"`        // 单机演示 8；生产按量调整
	ReplicationFactor int16    `mapstructure:"replicationFactor"` // 单机=1；生产=3
	Retries           int      `mapstructure:"retries"`
	Compression       string   `mapstructure:"compression"` // none/snappy/lz4/zstd
	Version           string   `mapstructure:"version"`
	AutoCreateTopic   bool     `mapstructure:"autoCreateTopic"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Topic:             "chat.events",
		Partitions:        8,
		ReplicationFactor: 1,
		Retries:           5,
		Compression:       "snappy",
		Version:           "2.1.0",
		AutoCreateTopic:   true,
	}
}

func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

func (c Config) kafkaVersion() sarama.KafkaVersion {
	v, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return sarama.V2_1_0_0
	}
	return v
}
