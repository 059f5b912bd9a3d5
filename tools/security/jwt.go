package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Identity 从令牌里取出的调用方
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == "admin" }

// Generate 签发令牌。账号服务才是真正的签发方，这里给本地联调和测试用
func Generate(opts Options, userID, role string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub":  userID,
		"id":   userID,
		"role": role,
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  exp.Unix(),
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify 校验签名与有效期，用户 id 取 sub，没有时取 id
func Verify(opts Options, token string) (Identity, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return Identity{}, err
	}
	// 只接受配置的算法，防止 alg 被换成 none 或非对称算法
	parsed, err := jwtlib.Parse(token, func(*jwtlib.Token) (interface{}, error) {
		return opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil {
		return Identity{}, err
	}
	if !parsed.Valid {
		return Identity{}, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return Identity{}, errors.New("claims type mismatch")
	}

	id := Identity{
		UserID: claimString(claims, "sub"),
		Role:   claimString(claims, "role"),
	}
	if id.UserID == "" {
		id.UserID = claimString(claims, "id")
	}
	if id.UserID == "" {
		return Identity{}, errors.New("token has no subject")
	}
	return id, nil
}

func claimString(c jwtlib.MapClaims, key string) string {
	s, _ := c[key].(string)
	return strings.TrimSpace(s)
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
