package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
	Auth   gin.HandlerFunc   // IsAuth 为 true 时挂在最前面
	Guards []gin.HandlerFunc // 鉴权之后、handler 之前
}

func (o RouteOpt) chain(handler gin.HandlerFunc) []gin.HandlerFunc {
	hs := make([]gin.HandlerFunc, 0, len(o.Guards)+2)
	if o.IsAuth && o.Auth != nil {
		hs = append(hs, o.Auth)
	}
	hs = append(hs, o.Guards...)
	return append(hs, handler)
}

// With 在原有选项上追加 guard
func (o RouteOpt) With(guards ...gin.HandlerFunc) RouteOpt {
	o.Guards = append(append([]gin.HandlerFunc{}, o.Guards...), guards...)
	return o
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.chain(handler)...)
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.chain(handler)...)
}
