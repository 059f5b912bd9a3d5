package redis

import (
	"context"
	"sync"
	"time"

	"PropChat/tools/errs"

	"github.com/redis/go-redis/v9"
)

var (
	redisMu  sync.Mutex
	redisMgr *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config redis 配置段；Addr 为空表示不启用
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"poolSize"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
}

func (c Config) Enabled() bool { return c.Addr != "" }

// NewClient 建连并 ping 一次
func NewClient(ctx context.Context, c Config) (*redis.Client, error) {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Addr,
		Password:    c.Password,
		DB:          c.DB,
		PoolSize:    c.PoolSize,
		DialTimeout: c.DialTimeout,
	})

	pctx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping failed", "addr", c.Addr)
	}
	return rdb, nil
}

// InitRedis 初始化全局 Redis（单例，重复调用直接返回）
func InitRedis(ctx context.Context, c Config) (*redis.Client, error) {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr != nil {
		return redisMgr.client, nil
	}
	rdb, err := NewClient(ctx, c)
	if err != nil {
		return nil, err
	}
	redisMgr = &RedisManager{client: rdb}
	return rdb, nil
}

// GetRedis 获取 Redis Client；未初始化返回 nil
func GetRedis() *redis.Client {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil {
		return nil
	}
	return redisMgr.client
}

// CloseRedis 关闭连接
func CloseRedis() error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil || redisMgr.client == nil {
		return nil
	}
	err := redisMgr.client.Close()
	redisMgr = nil
	return err
}
