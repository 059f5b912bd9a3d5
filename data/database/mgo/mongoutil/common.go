package mongoutil

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// 认证类错误重试没有意义
var noRetryCodes = map[int32]bool{
	13: true, // Unauthorized
	18: true, // AuthenticationFailed
}

// buildMongoURI 由 address 列表拼出连接串，用户名密码做转义
func buildMongoURI(c *Config, authSource string) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   strings.Join(c.Address, ","),
		Path:   "/" + c.Database,
	}
	if c.Username != "" && c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	q := url.Values{}
	q.Set("authSource", authSource)
	q.Set("maxPoolSize", strconv.Itoa(c.MaxPoolSize))
	u.RawQuery = q.Encode()
	return u.String()
}

func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return !noRetryCodes[cmdErr.Code]
	}
	return true
}

// IsDuplicateKey 唯一索引冲突
func IsDuplicateKey(err error) bool {
	return err != nil && mongo.IsDuplicateKeyError(err)
}
