package main

import (
	"context"
	"time"

	"PropChat/global"
	"PropChat/logger"
	"PropChat/module/chat/service"
	"PropChat/module/chat/store"
	"PropChat/service/chat"
	"PropChat/service/chat/handlers"
	"PropChat/service/kafka"
	mgoSrv "PropChat/service/mgo"
	"PropChat/service/natsx"
	"PropChat/service/storage"
	redisx "PropChat/service/storage/redis"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// app 进程内的全部组件；可选依赖没配置时为 nil
type app struct {
	cfg  *global.AppConfig
	svc  *service.Service
	gw   *chat.Gateway
	mgo  *mgoSrv.Manager
	rdb  *redis.Client
	nats *natsx.NatsManager
	sink *kafka.EventSink
}

func build(ctx context.Context, cfg *global.AppConfig) (*app, error) {
	a := &app{cfg: cfg}

	repo, dir := a.setupStore(ctx)

	if cfg.Redis.Enabled() {
		rdb, err := redisx.InitRedis(ctx, cfg.Redis)
		if err != nil {
			// 缓存可选，连不上就直连目录
			logger.Warn("redis unavailable, user cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			a.rdb = rdb
			dir = storage.NewUserCache(rdb, dir, cfg.Chat.UserCacheTTL)
		}
	}

	opts := []service.Option{service.WithMaxContentLen(cfg.Chat.MaxContentLen)}
	if cfg.Kafka.Enabled() {
		sink, err := kafka.NewEventSink(cfg.Kafka)
		if err != nil {
			logger.Warn("kafka unavailable, chat events disabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		} else {
			a.sink = sink
			opts = append(opts, service.WithEventSink(sink))
		}
	}

	a.svc = service.New(repo, dir, opts...)
	a.gw = chat.NewGateway(cfg.Node.Name, a.svc, cfg.Gateway)
	a.svc.AttachBroadcaster(a.gw)
	handlers.RegisterAll(a.gw)

	if cfg.NATS.Enabled() {
		if err := a.setupRoomBus(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// setupStore 配了 mongo 用 mongo，否则用进程内存储
func (a *app) setupStore(ctx context.Context) (service.ConversationRepo, service.Directory) {
	if !a.cfg.MongoEnabled() {
		logger.Warn("mongo not configured, using in-memory store")
		mem := store.NewMemory()
		return mem, mem
	}

	a.mgo = mgoSrv.NewManager()
	convs := store.NewConversationStore(a.mgo)
	a.mgo.OnReady(func(_ *mongo.Database) {
		ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := convs.EnsureIndexes(ictx); err != nil {
			logger.Error("ensure indexes failed", zap.Error(err))
		}
		if err := convs.Migrate(ictx); err != nil {
			logger.Error("migrate conversations failed", zap.Error(err))
		}
	})
	a.mgo.StartAsync(ctx, &a.cfg.Mongo)
	return convs, store.NewDirectory(a.mgo)
}

// setupRoomBus 多节点部署时房间事件经 NATS 扇出
func (a *app) setupRoomBus(ctx context.Context) error {
	var idem natsx.IdemStore
	if a.rdb != nil {
		idem = natsx.NodeIdem(natsx.NewRedisIdem(a.rdb, "propchat:idem:"), a.cfg.Node.Name)
	} else {
		idem = natsx.NewMemIdem(ctx, a.cfg.NATS.IdemTTL)
	}

	mgr, err := natsx.NewNatsManager(a.cfg.NATS.NatsxConfig,
		natsx.NatsxLogErrors(),
		natsx.NatsxIdemMiddleware(idem, a.cfg.NATS.IdemTTL))
	if err != nil {
		return err
	}
	a.nats = mgr

	pub := &natsx.NatsxSyncPublisher{P: mgr, Retries: 2, Backoff: 50 * time.Millisecond}
	bus, err := natsx.NewRoomBus(pub, mgr, a.cfg.NATS.RoomPrefix, a.gw.Deliver)
	if err != nil {
		return err
	}
	a.gw.SetBus(bus)
	logger.Info("room bus ready", zap.Strings("servers", a.cfg.NATS.Servers), zap.String("subject", bus.Subject(">")))
	return nil
}

func (a *app) close() {
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			logger.Warn("close nats", zap.Error(err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			logger.Warn("close kafka sink", zap.Error(err))
		}
		delivered, failed, dropped := a.sink.Stats()
		logger.Info("chat events", zap.Int64("delivered", delivered), zap.Int64("failed", failed), zap.Int64("dropped", dropped))
	}
	if a.rdb != nil {
		_ = redisx.CloseRedis()
	}
	if a.mgo != nil {
		select {
		case <-a.mgo.Done():
		case <-time.After(5 * time.Second):
			logger.Warn("mongo manager did not stop in time")
		}
	}
}
