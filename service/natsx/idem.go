package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ----- 抽象存储 -----
type IdemStore interface {
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> 过期时间
	ttl time.Duration
	now func() time.Time
}

// NewMemIdem ctx 结束时清理协程退出
func NewMemIdem(ctx context.Context, defaultTTL time.Duration) IdemStore {
	mi := &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				mi.sweep()
			}
		}
	}()
	return mi
}

func (mi *memIdem) sweep() {
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
}

func (mi *memIdem) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// ----- Redis 实现（多进程共享）-----
type redisIdem struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisIdem(rdb redis.UniversalClient, prefix string) IdemStore {
	return &redisIdem{rdb: rdb, prefix: prefix}
}

func (ri *redisIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := ri.rdb.SetNX(ctx, ri.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// ----- 按节点隔离 -----
// 所有节点广播订阅同一批 subject，每个节点都要各自处理一次；
// 共享存储（redis）里的键因此带上节点名
type nodeIdem struct {
	store IdemStore
	node  string
}

func NodeIdem(store IdemStore, node string) IdemStore {
	return nodeIdem{store: store, node: node}
}

func (n nodeIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return n.store.SeenOnce(ctx, n.node+":"+key, ttl)
}

// ----- 从消息头提取 msgID -----
func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// ----- 幂等中间件 -----
// 用法：NewNatsxConsumer(client, NatsxIdemMiddleware(store, ttl))
// 存储出错时放行
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				// 无ID时根据 subject+内容构造一个弱ID
				id = msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
			}
			seen, err := store.SeenOnce(ctx, id, ttl)
			if err == nil && seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
