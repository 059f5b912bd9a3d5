package storage

import (
	"context"
	"time"

	"PropChat/logger"
	"PropChat/module/chat/service"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	DefaultUserTTL = 10 * time.Minute
	userKeyPrefix  = "propchat:user:"
)

// user key: propchat:user:<id>  value: 用户名
func userKey(id primitive.ObjectID) string { return userKeyPrefix + id.Hex() }

type kv interface {
	mget(ctx context.Context, keys []string) ([]any, error)
	setMany(ctx context.Context, kvs map[string]string, ttl time.Duration) error
}

type redisKV struct{ rdb redis.UniversalClient }

func (r redisKV) mget(ctx context.Context, keys []string) ([]any, error) {
	return r.rdb.MGet(ctx, keys...).Result()
}

func (r redisKV) setMany(ctx context.Context, kvs map[string]string, ttl time.Duration) error {
	pipe := r.rdb.Pipeline()
	for k, v := range kvs {
		pipe.Set(ctx, k, v, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// UserCache 用户名缓存，挡在用户目录前面；缓存出错时直接读目录
type UserCache struct {
	dir   service.Directory
	kv    kv
	ttl   time.Duration
	onErr func(error)
}

var _ service.Directory = (*UserCache)(nil)

func NewUserCache(rdb redis.UniversalClient, dir service.Directory, ttl time.Duration) *UserCache {
	return newUserCache(redisKV{rdb: rdb}, dir, ttl)
}

func newUserCache(store kv, dir service.Directory, ttl time.Duration) *UserCache {
	if ttl <= 0 {
		ttl = DefaultUserTTL
	}
	return &UserCache{dir: dir, kv: store, ttl: ttl, onErr: func(err error) {
		logger.Warn("user cache unavailable, reading directory", zap.Error(err))
	}}
}

func (u *UserCache) UserNames(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	out := make(map[primitive.ObjectID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}
	missing := ids
	vals, err := u.kv.mget(ctx, keys)
	cacheUp := err == nil
	if !cacheUp {
		u.onErr(err)
	} else {
		missing = missing[:0:0]
		for i, v := range vals {
			if s, ok := v.(string); ok && s != "" {
				out[ids[i]] = s
				continue
			}
			missing = append(missing, ids[i])
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	names, err := u.dir.UserNames(ctx, missing)
	if err != nil {
		return nil, err
	}
	fill := make(map[string]string, len(names))
	for id, name := range names {
		out[id] = name
		if name != "" {
			fill[userKey(id)] = name
		}
	}
	if cacheUp && len(fill) > 0 {
		if err := u.kv.setMany(ctx, fill, u.ttl); err != nil {
			u.onErr(err)
		}
	}
	return out, nil
}

// PropertyTitles 不缓存
func (u *UserCache) PropertyTitles(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	return u.dir.PropertyTitles(ctx, ids)
}
