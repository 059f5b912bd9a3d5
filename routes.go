package main

import (
	"context"
	"net/http"
	"time"

	mid "PropChat/middleware"
	midsec "PropChat/middleware/security"
	chatmod "PropChat/module/chat"

	"github.com/gin-gonic/gin"
)

func (a *app) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(mid.Recovery(), mid.AccessLog())

	mid.Manager().Add(mid.CORS(a.cfg.CORS.AllowedOrigins))
	r.Use(mid.Manager().Use())

	authOpts := midsec.DefaultOptions([]byte(a.cfg.JWT.Secret))
	authOpts.JWT = a.cfg.JWTOptions()
	auth := midsec.Middleware(authOpts)
	h := chatmod.NewHandler(a.svc)
	for _, prefix := range a.cfg.HTTP.Prefixes {
		h.Register(r.Group(prefix), auth)
	}

	// 令牌可选：带了就校验并限制在自己的会话里
	r.GET("/ws", midsec.Optional(authOpts), a.gw.HandleWS)
	r.GET("/healthz", a.healthz)
	return r
}

type healthStatus struct {
	Status string            `json:"status"`
	Deps   map[string]string `json:"deps"`
	Conns  int               `json:"conns"`
}

// healthz mongo 不可用时 503；redis / nats 只是降级
func (a *app) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	out := healthStatus{Status: "ok", Deps: map[string]string{}, Conns: a.gw.ConnMgr().Len()}
	code := http.StatusOK

	switch {
	case a.mgo == nil:
		out.Deps["mongo"] = "memory"
	default:
		db, err := a.mgo.DB()
		if err == nil {
			err = db.Client().Ping(ctx, nil)
		}
		if err != nil {
			out.Deps["mongo"] = err.Error()
			out.Status, code = "unavailable", http.StatusServiceUnavailable
		} else {
			out.Deps["mongo"] = "ok"
		}
	}

	switch {
	case a.rdb == nil:
		out.Deps["redis"] = "disabled"
	case a.rdb.Ping(ctx).Err() != nil:
		out.Deps["redis"] = "down"
		if code == http.StatusOK {
			out.Status = "degraded"
		}
	default:
		out.Deps["redis"] = "ok"
	}

	out.Deps["nats"] = a.nats.Status()
	if a.nats != nil && out.Deps["nats"] != "CONNECTED" && code == http.StatusOK {
		out.Status = "degraded"
	}
	c.JSON(code, out)
}
