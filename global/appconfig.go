package global

import (
	"time"

	"PropChat/data/database/mgo/mongoutil"
	"PropChat/logger"
	"PropChat/service/chat"
	"PropChat/service/kafka"
	"PropChat/service/natsx"
	redisx "PropChat/service/storage/redis"
)

// AppConfig 对应 config/chat.yaml；每段都可以被 CHAT_<段>_<键> 环境变量覆盖
type AppConfig struct {
	Node    Node             `mapstructure:"node"`
	HTTP    HTTP             `mapstructure:"http"`
	Mongo   mongoutil.Config `mapstructure:"mongo"`
	Redis   redisx.Config    `mapstructure:"redis"`
	NATS    NATS             `mapstructure:"nats"`
	Kafka   kafka.Config     `mapstructure:"kafka"`
	JWT     JWT              `mapstructure:"jwt"`
	Gateway chat.Options     `mapstructure:"gateway"`
	Chat    Chat             `mapstructure:"chat"`
	Log     logger.Options   `mapstructure:"log"`
	CORS    CORS             `mapstructure:"cors"`
}

type Node struct {
	ID   int64  `mapstructure:"id"`   // 雪花节点号 0~1023
	Name string `mapstructure:"name"` // 房间总线上的来源节点名
}

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	Prefixes        []string      `mapstructure:"prefixes"` // 路由挂载前缀
}

type NATS struct {
	natsx.NatsxConfig `mapstructure:",squash"`
	RoomPrefix        string        `mapstructure:"roomPrefix"`
	IdemTTL           time.Duration `mapstructure:"idemTTL"`
}

func (n NATS) Enabled() bool { return len(n.Servers) > 0 }

type JWT struct {
	Secret string        `mapstructure:"secret"`
	Alg    string        `mapstructure:"alg"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type Chat struct {
	MaxContentLen int           `mapstructure:"maxContentLen"`
	UserCacheTTL  time.Duration `mapstructure:"userCacheTTL"` // redis 用户名缓存
}

type CORS struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}
