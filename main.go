package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"PropChat/global"
	"PropChat/logger"

	"github.com/golang/glog"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "config/chat.yaml", "config file (empty: defaults + CHAT_* env)")
	flag.Parse()
	defer glog.Flush()

	cfg, err := global.Load(*cfgPath)
	if err != nil {
		logger.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Setup(cfg.Log)
	defer logger.Sync()

	// 配置生成的ids
	global.ConfigIds(cfg)
	global.Watch(*cfgPath, func(c *global.AppConfig) { logger.Setup(c.Log) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		os.Exit(1)
	}
	defer app.close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           app.router(),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}
	go func() {
		logger.Info("[HTTP] listening", zap.String("addr", cfg.HTTP.Addr), zap.String("node", cfg.Node.Name))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	// 先停实时连接，再停 HTTP
	app.gw.Shutdown(sctx)
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
