package chat

import (
	"sync"
	"time"

	"PropChat/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ---- 常量参数（建议值） ----
const (
	pingInterval   = 25 * time.Second
	writeWait      = 10 * time.Second
	firstPingDelay = 5 * time.Second // 首个 ping 延后，避免刚连上即写超时
)

// Client 一条实时连接。UserID 为空表示匿名连接（握手时没带令牌）。
// 所有写操作走 send 队列，由唯一的写协程落到 socket 上。
type Client struct {
	ConnID string // <节点名>:<snowflake>，对外就是 connectionId
	UserID string
	Role   string
	WS     *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

// NewClient ws 为 nil 时只有队列没有写协程（单测直接读 Outbox）
func NewClient(connID, userID string, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		WS:     ws,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// Enqueue 非阻塞入队；队列满说明对端消费太慢，直接断开它
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		logger.Warn("ws send queue full, closing slow client",
			zap.String("conn_id", c.ConnID), zap.String("user_id", c.UserID))
		c.Close()
		return false
	}
}

// Offer 非阻塞入队，队列满直接丢弃（typing 这类可丢的信号）
func (c *Client) Offer(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbox 发送队列（只读）
func (c *Client) Outbox() <-chan []byte { return c.send }

// Done 连接关闭后可读
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.WS != nil {
			_ = c.WS.Close()
		}
	})
}

func (c *Client) joinRoom(chatID string) {
	c.mu.Lock()
	c.rooms[chatID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) leaveRoom(chatID string) {
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()
}

// Rooms 当前加入的会话
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// writeLoop 优先业务帧，其次首个 ping，再常规 ping；任一写失败即关闭连接
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	first := time.NewTimer(firstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()
		_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.WS.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Info("ws write failed", zap.String("conn_id", c.ConnID), zap.Error(err))
				return
			}
		case <-first.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (c *Client) ping() error {
	err := c.WS.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
	if err != nil {
		logger.Info("ws ping failed", zap.String("conn_id", c.ConnID), zap.Error(err))
	}
	return err
}
