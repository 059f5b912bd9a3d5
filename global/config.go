package global

import (
	"os"
	"strings"
	"time"

	"PropChat/logger"
	"PropChat/tools/errs"
	"PropChat/tools/ids"
	toolsec "PropChat/tools/security"

	"github.com/spf13/viper"
)

const envPrefix = "CHAT"

// defaults 未在配置文件里出现的键；也让 AutomaticEnv 能识别这些键
var defaults = map[string]any{
	"node.id":   1,
	"node.name": "",

	"http.addr":            ":5000",
	"http.readTimeout":     "15s",
	"http.shutdownTimeout": "10s",
	"http.prefixes":        []string{"/api/chat", "/chat"},

	"mongo.uri":         "",
	"mongo.address":     []string{},
	"mongo.database":    "propchat",
	"mongo.username":    "",
	"mongo.password":    "",
	"mongo.authSource":  "",
	"mongo.maxPoolSize": 20,
	"mongo.maxRetry":    3,

	"redis.addr":        "",
	"redis.password":    "",
	"redis.db":          0,
	"redis.poolSize":    20,
	"redis.dialTimeout": "3s",

	"nats.servers":       []string{},
	"nats.name":          "propchat",
	"nats.user":          "",
	"nats.password":      "",
	"nats.reconnectWait": "500ms",
	"nats.timeout":       "3s",
	"nats.roomPrefix":    "propchat.room",
	"nats.idemTTL":       "2m",

	"kafka.brokers":           []string{},
	"kafka.topic":             "chat.events",
	"kafka.partitions":        8,
	"kafka.replicationFactor": 1,
	"kafka.retries":           5,
	"kafka.compression":       "snappy",
	"kafka.version":           "2.1.0",
	"kafka.autoCreateTopic":   true,

	"jwt.secret": "",
	"jwt.alg":    "HS256",
	"jwt.ttl":    "2h",

	"gateway.sendQueue":       256,
	"gateway.gapWait":         "2s",
	"gateway.readTimeout":     "60s",
	"gateway.eventTimeout":    "10s",
	"gateway.maxMessageBytes": 1 << 20,
	"gateway.allowedOrigins":  []string{"http://localhost:5173"},

	"chat.maxContentLen": 4000,
	"chat.userCacheTTL":  "10m",

	"log.level":    "info",
	"log.encoding": "console",

	"cors.allowedOrigins": []string{"http://localhost:5173"},
}

// Load 读取配置：默认值 < 配置文件 < CHAT_ 前缀环境变量。path 为空时只用默认值和环境变量
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.WrapMsg(err, "read config failed", "path", path)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.WrapMsg(err, "decode config failed", "path", path)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() error {
	if c.Node.ID < 0 || c.Node.ID > 1023 {
		return errs.ErrInvalidArgument.WithDetail("node.id must be within 0..1023").Wrap()
	}
	if c.Node.Name == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "node"
		}
		c.Node.Name = host
	}
	if c.JWT.Secret == "" {
		return errs.ErrInvalidArgument.WithDetail("jwt.secret is required").Wrap()
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if len(c.HTTP.Prefixes) == 0 {
		c.HTTP.Prefixes = []string{"/chat"}
	}
	return nil
}

// MongoEnabled 没配 uri/address 时走内存存储（单机联调）
func (c *AppConfig) MongoEnabled() bool {
	return c.Mongo.Uri != "" || len(c.Mongo.Address) > 0
}

// JWTOptions 令牌校验参数
func (c *AppConfig) JWTOptions() toolsec.Options {
	o := toolsec.DefaultOptions([]byte(c.JWT.Secret))
	if c.JWT.Alg != "" {
		o.Alg = c.JWT.Alg
	}
	if c.JWT.TTL > 0 {
		o.TTL = c.JWT.TTL
	}
	return o
}

// ConfigIds 设置雪花节点号
func ConfigIds(c *AppConfig) {
	logger.Infof("配置id生成 node=%d", c.Node.ID)
	ids.SetNodeID(c.Node.ID)
}
