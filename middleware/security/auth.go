package security

import (
	"net/http"
	"strings"

	"PropChat/logger"
	"PropChat/module/chat/api"
	"PropChat/tools/errs"
	toolsec "PropChat/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// context key
// 后续模块统一用这两个 key 读取调用方
const (
	CtxUserIDKey = "userId" // string
	CtxRoleKey   = "role"   // string
)

type Options struct {
	// 读取哪个请求头（为空只看 Authorization）
	HeaderToken               string
	EnableAuthorizationBearer bool   // 默认 true
	QueryToken                string // websocket 握手用 ?token=

	JWT toolsec.Options
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		HeaderToken:               "x-access-token",
		EnableAuthorizationBearer: true,
		QueryToken:                "token",
		JWT:                       toolsec.DefaultOptions(secret),
	}
}

// TokenFrom 依次取：自定义头、Authorization: Bearer、query
func TokenFrom(c *gin.Context, opts *Options) string {
	token := ""
	if opts.HeaderToken != "" {
		token = strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	}
	// 兼容 Authorization: Bearer xxx
	if token == "" && opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); len(authz) > len("bearer ") &&
			strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			token = strings.TrimSpace(authz[len("bearer "):])
		}
	}
	if token == "" && opts.QueryToken != "" {
		token = strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return token
}

// Middleware 必须带有效令牌，否则 401
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFrom(c, opts)
		if token == "" {
			abort(c, errs.ErrTokenInvalid.WithDetail("Access token required").Wrap())
			return
		}
		id, err := toolsec.Verify(opts.JWT, token)
		if err != nil {
			logger.Debug("token rejected", zap.String("path", c.FullPath()), zap.Error(err))
			abort(c, errs.ErrTokenInvalid.Wrap())
			return
		}
		SetIdentity(c, id)
		c.Next()
	}
}

// Optional 有令牌就解析，没有也放行（websocket 握手）
func Optional(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := TokenFrom(c, opts); token != "" {
			id, err := toolsec.Verify(opts.JWT, token)
			if err != nil {
				abort(c, errs.ErrTokenInvalid.Wrap())
				return
			}
			SetIdentity(c, id)
		}
		c.Next()
	}
}

func SetIdentity(c *gin.Context, id toolsec.Identity) {
	c.Set(CtxUserIDKey, id.UserID)
	c.Set(CtxRoleKey, id.Role)
}

func IdentityFrom(c *gin.Context) (toolsec.Identity, bool) {
	uid := c.GetString(CtxUserIDKey)
	if uid == "" {
		return toolsec.Identity{}, false
	}
	return toolsec.Identity{UserID: uid, Role: c.GetString(CtxRoleKey)}, true
}

// RequireSelf 路径里的用户必须是令牌主体本人，admin 例外
func RequireSelf(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			abort(c, errs.ErrTokenInvalid.Wrap())
			return
		}
		if !id.IsAdmin() && !strings.EqualFold(c.Param(param), id.UserID) {
			abort(c, errs.ErrForbidden.WithDetail("Access denied").Wrap())
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("auth middleware", zap.Error(err))
	}
	c.AbortWithStatusJSON(status, api.ErrorBody{Error: errs.PublicMessage(err)})
}
