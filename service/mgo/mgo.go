package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PropChat/data/database/mgo/mongoutil"
	"PropChat/logger"
	"PropChat/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var ErrNotReady = errs.New("mongo not ready")

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second // 健康检查周期
	failThresh  = 3                // 连续失败阈值
)

// Manager 持有 mongo 连接：后台连接、健康检查、掉线重连
type Manager struct {
	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 首次就绪时 close
	readyOnce sync.Once
	done      chan struct{}

	lastErr atomic.Value // error
	onReady []func(db *mongo.Database)
}

func NewManager() *Manager {
	return &Manager{readyCh: make(chan struct{}), done: make(chan struct{})}
}

// OnReady 注册每次（重新）连上后的回调，例如建索引；须在 StartAsync 之前调用
func (m *Manager) OnReady(fn func(db *mongo.Database)) {
	m.onReady = append(m.onReady, fn)
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func (m *Manager) StartAsync(ctx context.Context, cfg *mongoutil.Config) {
	go func() {
		defer close(m.done)
		for {
			// 1) 连接阶段（退避重试）
			if !m.connect(ctx, cfg) {
				return
			}
			// 2) 健康检查阶段；返回 false 表示 ctx 结束
			if !m.watch(ctx) {
				return
			}
		}
	}()
}

func (m *Manager) connect(ctx context.Context, cfg *mongoutil.Config) bool {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		cli, err := mongoutil.NewMongoDB(ctx, cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			for _, fn := range m.onReady {
				fn(cli.GetDB())
			}
			m.readyOnce.Do(func() { close(m.readyCh) })
			logger.Info("mongo connected", zap.String("database", cfg.Database))
			return true
		}

		m.lastErr.Store(err)
		logger.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		// 退避 + 抖动
		backoff := baseBackoff << attempt
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
		timer := time.NewTimer(backoff - jitter/2)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

func (m *Manager) watch(ctx context.Context) bool {
	fail := 0
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.GetDB().Client().Ping(pingCtx, nil)
			cancel()
			if err == nil {
				fail = 0
				continue
			}
			fail++
			m.lastErr.Store(err)
			if fail >= failThresh {
				logger.Warn("mongo unhealthy, reconnecting", zap.Error(err))
				m.drop()
				return true
			}
		}
	}
}

func (m *Manager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Close(context.Background())
		m.client = nil
	}
}

// Ready 首次连接成功时会 close；可 select 等待
func (m *Manager) Ready() <-chan struct{} {
	return m.readyCh
}

// Done 后台协程退出（连接已断开）后 close
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err 最近一次错误
func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// DB 当前连接；未就绪返回 ErrNotReady
func (m *Manager) DB() (*mongo.Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, ErrNotReady
	}
	return m.client.GetDB(), nil
}

func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Static 固定 database 的 provider（测试或单次连接场景）
type Static struct{ Database *mongo.Database }

func (s Static) DB() (*mongo.Database, error) {
	if s.Database == nil {
		return nil, ErrNotReady
	}
	return s.Database, nil
}
