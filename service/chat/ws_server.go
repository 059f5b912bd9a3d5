package chat

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"PropChat/logger"
	midsec "PropChat/middleware/security"
	"PropChat/module/chat/api"
	"PropChat/module/chat/service"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options 网关参数（gateway 配置段）
type Options struct {
	SendQueue       int           `mapstructure:"sendQueue"`
	GapWait         time.Duration `mapstructure:"gapWait"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	EventTimeout    time.Duration `mapstructure:"eventTimeout"`
	MaxMessageBytes int64         `mapstructure:"maxMessageBytes"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
}

func (o *Options) norm() {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.GapWait <= 0 {
		o.GapWait = defaultGapWait
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
}

// ChatService 网关用到的业务操作
type ChatService interface {
	ListMessages(ctx context.Context, chatID string) (api.Thread, error)
	AppendMessage(ctx context.Context, in service.AppendInput) (api.Message, error)
}

// RoomBus 跨节点转发；发布成功后由订阅回调 Deliver 到每个节点（包括自己）
type RoomBus interface {
	Publish(ctx context.Context, ev api.RoomEvent) error
}

type Gateway struct {
	nodeID string
	opts   Options
	svc    ChatService

	hub   *Hub
	conns *ConnManager
	disp  *Dispatcher
	bus   atomic.Pointer[busBox]

	upgrader websocket.Upgrader
	closing  atomic.Bool
	wg       sync.WaitGroup
}

type busBox struct{ b RoomBus }

func NewGateway(nodeID string, svc ChatService, opts Options) *Gateway {
	opts.norm()
	g := &Gateway{
		nodeID: nodeID,
		opts:   opts,
		svc:    svc,
		hub:    NewHub(opts.GapWait),
		conns:  NewConnManager(),
		disp:   NewDispatcher(),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

func (g *Gateway) NodeID() string { return g.nodeID }

// newConnID <节点名>:<snowflake>，跨节点唯一（各节点的雪花节点号可能相同）
func (g *Gateway) newConnID() string { return g.nodeID + ":" + genConnID() }
func (g *Gateway) Hub() *Hub { return g.hub }
func (g *Gateway) ConnMgr() *ConnManager { return g.conns }
func (g *Gateway) Disp() *Dispatcher { return g.disp }
func (g *Gateway) Service() ChatService { return g.svc }
func (g *Gateway) SetBus(b RoomBus) { g.bus.Store(&busBox{b: b}) }
func (g *Gateway) EventTimeout() time.Duration { return g.opts.EventTimeout }

// Publish 实现 service.Broadcaster
func (g *Gateway) Publish(ctx context.Context, chatID string, msg api.Message, ex api.Exclude) {
	g.route(ctx, api.RoomEvent{
		ID:      msg.ID,
		Kind:    api.RoomKindMessage,
		ChatID:  chatID,
		Origin:  g.nodeID,
		Message: &msg,
		Exclude: ex,
	})
}

// Typing 通知房间里的其他连接
func (g *Gateway) Typing(ctx context.Context, chatID, connID string) {
	g.route(ctx, api.RoomEvent{
		ID:     g.newConnID(),
		Kind:   api.RoomKindTyping,
		ChatID: chatID,
		Origin: g.nodeID,
		ConnID: connID,
	})
}

func (g *Gateway) route(ctx context.Context, ev api.RoomEvent) {
	if box := g.bus.Load(); box != nil && box.b != nil {
		err := box.b.Publish(ctx, ev)
		if err == nil {
			return
		}
		logger.Warn("room bus publish failed, delivering locally",
			zap.String("chat_id", ev.ChatID), zap.String("kind", ev.Kind), zap.Error(err))
	}
	g.Deliver(ev)
}

// Deliver 投递给本节点的成员（房间总线回调）
func (g *Gateway) Deliver(ev api.RoomEvent) {
	switch ev.Kind {
	case api.RoomKindMessage:
		if ev.Message != nil {
			g.hub.Publish(ev.ChatID, *ev.Message, ev.Exclude)
		}
	case api.RoomKindTyping:
		g.hub.Typing(ev.ChatID, ev.ConnID)
	default:
		glog.Infof("[gateway] unknown room event kind=%s", ev.Kind)
	}
}

// HandleWS 升级连接并运行读循环；写由 Client 的写协程负责
func (g *Gateway) HandleWS(ctx *gin.Context) {
	if g.closing.Load() {
		ctx.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	id, _ := midsec.IdentityFrom(ctx)

	ws, err := g.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Info("upgrade websocket failed", zap.Error(err))
		return
	}

	c := NewClient(g.newConnID(), id.UserID, ws, g.opts.SendQueue)
	c.Role = id.Role
	if err := g.conns.Add(c); err != nil {
		logger.Warn("register websocket failed", zap.Error(err))
		_ = ws.Close()
		return
	}
	g.wg.Add(1)
	defer g.wg.Done()

	go c.writeLoop()
	logger.Info("ws connected", zap.String("conn_id", c.ConnID), zap.String("user_id", c.UserID))

	connCtx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		g.hub.Drop(c)
		g.conns.Remove(c.ConnID)
		c.Close()
		logger.Info("ws closed", zap.String("conn_id", c.ConnID), zap.String("user_id", c.UserID))
	}()

	ws.SetReadLimit(g.opts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))
	})

	// ---- 读循环：只读，不写；出错即退出 ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			logReadErr(c, rerr)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			glog.Infof("[WS] ParseFrameJSON err conn=%s err=%v sample=%q", c.ConnID, perr, sample)
			SendError(c, "", "Invalid frame")
			continue
		}

		evCtx, evCancel := context.WithTimeout(connCtx, g.opts.EventTimeout)
		if err := g.disp.Dispatch(evCtx, c, f.Event, f.Data); err != nil {
			glog.V(1).Infof("[WS] dispatch conn=%s event=%s err=%v", c.ConnID, f.Event, err)
		}
		evCancel()
	}
}

// Shutdown 拒绝新连接并关闭现有连接，等读循环退出
func (g *Gateway) Shutdown(ctx context.Context) {
	g.closing.Store(true)
	g.conns.CloseAll()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("gateway shutdown timed out", zap.Int("conns", g.conns.Len()))
	}
}

func logReadErr(c *Client, err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		glog.V(1).Infof("[WS] peer closed conn=%s err=%v", c.ConnID, err)
	default:
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			logger.Info("ws read timeout", zap.String("conn_id", c.ConnID))
			return
		}
		glog.V(1).Infof("[WS] read err conn=%s err=%v", c.ConnID, err)
	}
}

// originChecker 为空或含 "*" 时不限制；没有 Origin 头的（非浏览器）放行
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
