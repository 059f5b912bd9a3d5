package middleware

import (
	"net/http"
	"time"

	"PropChat/logger"
	"PropChat/module/chat/api"
	"PropChat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLog 每个请求一行 zap 日志；5xx 记 error
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("cost", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if uid := c.GetString("userId"); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("http", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("http", fields...)
		default:
			logger.Debug("http", fields...)
		}
	}
}

// Recovery panic 转成 500 {error}，栈进日志
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("http panic", zap.String("path", c.Request.URL.Path), zap.Error(errs.ErrPanic(r)))
				c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorBody{Error: errs.ErrInternalServer.Msg})
			}
		}()
		c.Next()
	}
}
