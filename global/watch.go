package global

import (
	"PropChat/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watch 配置文件变化时重新加载并回调；只有日志级别这类项能热更新，其余重启生效
func Watch(path string, onChange func(*AppConfig)) {
	if path == "" {
		return
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		logger.Warn("config watch disabled", zap.String("path", path), zap.Error(err))
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			logger.Warn("reload config failed", zap.String("path", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("path", e.Name), zap.String("op", e.Op.String()))
		onChange(cfg)
	})
	v.WatchConfig()
}
