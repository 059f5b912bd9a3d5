package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"PropChat/logger"
	"PropChat/module/chat/api"

	"github.com/golang/glog"
	"go.uber.org/zap"
)

const defaultGapWait = 2 * time.Second

// HistoryLoader 读取会话历史；加入房间时调用
type HistoryLoader func(ctx context.Context) (api.Thread, error)

// Hub 本节点的房间表。每个房间一把锁，房间表一把锁；
// 加锁顺序固定为 房间表 -> 房间，持有房间锁时不再碰房间表。
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*room
	gapWait time.Duration
}

type room struct {
	id string

	mu      sync.Mutex
	dead    bool // 已从房间表摘除
	members map[string]*member
	next    int64 // 下一个待投递的 seq；0 表示还没有成员完成同步
	pending map[int64]pendingMsg
	gap     *time.Timer
}

type member struct {
	c        *Client
	syncing  bool         // 历史还没发出去
	buffered []pendingMsg // 同步期间到达的消息
	floor    int64        // 历史末尾的 seq，<= floor 的消息不再推给它
}

type pendingMsg struct {
	msg api.Message
	ex  api.Exclude
}

func NewHub(gapWait time.Duration) *Hub {
	if gapWait <= 0 {
		gapWait = defaultGapWait
	}
	return &Hub{rooms: make(map[string]*room), gapWait: gapWait}
}

// acquire 返回已加锁、仍在房间表里的房间
func (h *Hub) acquire(chatID string) *room {
	for {
		h.mu.Lock()
		r := h.rooms[chatID]
		if r == nil {
			r = &room{
				id:      chatID,
				members: make(map[string]*member),
				pending: make(map[int64]pendingMsg),
			}
			h.rooms[chatID] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		if !r.dead {
			return r
		}
		r.mu.Unlock()
	}
}

func (h *Hub) lookup(chatID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[chatID]
}

// Join 先登记成员再读历史：读历史期间到达的消息先缓存，
// 历史发出后只补发 seq 大于历史末尾的部分，保证不重不漏。
func (h *Hub) Join(ctx context.Context, c *Client, chatID string, load HistoryLoader) error {
	r := h.acquire(chatID)
	r.members[c.ConnID] = &member{c: c, syncing: true}
	r.mu.Unlock()
	c.joinRoom(chatID)

	th, err := load(ctx)
	if err != nil {
		h.Leave(c, chatID)
		return err
	}

	frame, err := api.NewFrame(api.EvChatHistory, th.Messages)
	if err != nil {
		h.Leave(c, chatID)
		return err
	}
	tail := th.LastSeq()

	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.members[c.ConnID]
	if r.dead || m == nil {
		// 读历史期间已经离开
		return nil
	}
	c.Enqueue(frame)

	buffered := m.buffered
	m.syncing, m.buffered, m.floor = false, nil, tail
	sort.Slice(buffered, func(i, j int) bool { return buffered[i].msg.Seq < buffered[j].msg.Seq })
	for _, pm := range buffered {
		if pm.msg.Seq == 0 || pm.msg.Seq > tail {
			sendMessage(m.c, pm.msg)
		}
	}

	if r.next == 0 {
		r.next = tail + 1
		h.drainLocked(r)
	}
	glog.V(2).Infof("[hub] join chat=%s conn=%s tail=%d next=%d", chatID, c.ConnID, tail, r.next)
	return nil
}

// Leave 移除成员；房间空了就摘掉
func (h *Hub) Leave(c *Client, chatID string) {
	c.leaveRoom(chatID)

	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[chatID]
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, c.ConnID)
	if len(r.members) == 0 {
		r.dead = true
		if r.gap != nil {
			r.gap.Stop()
			r.gap = nil
		}
		delete(h.rooms, chatID)
	}
}

// Drop 连接断开：退出所有房间
func (h *Hub) Drop(c *Client) {
	for _, id := range c.Rooms() {
		h.Leave(c, id)
	}
}

// Publish 按 seq 顺序投递给本地成员。乱序到达的先挂起，
// 缺口超过 gapWait 还没补上就跳过。
func (h *Hub) Publish(chatID string, msg api.Message, ex api.Exclude) {
	r := h.lookup(chatID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return
	}
	pm := pendingMsg{msg: msg, ex: ex}

	switch {
	case msg.Seq == 0:
		// 无序号（不参与排序）
		r.deliverLocked(pm)
	case r.next == 0:
		r.pending[msg.Seq] = pm
	case msg.Seq < r.next:
		glog.V(2).Infof("[hub] drop stale chat=%s seq=%d next=%d", chatID, msg.Seq, r.next)
	case msg.Seq == r.next:
		r.deliverLocked(pm)
		r.next++
		h.drainLocked(r)
	default:
		r.pending[msg.Seq] = pm
		h.armGapLocked(r)
	}
}

// Typing 不排序、不落库，队列满直接丢
func (h *Hub) Typing(chatID, fromConn string) {
	r := h.lookup(chatID)
	if r == nil {
		return
	}
	frame, err := api.NewFrame(api.EvUserTyping, fromConn)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.members {
		if id == fromConn || m.syncing {
			continue
		}
		m.c.Offer(frame)
	}
}

// Members 房间内的连接数（健康检查 / 单测）
func (h *Hub) Members(chatID string) int {
	r := h.lookup(chatID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (r *room) deliverLocked(pm pendingMsg) {
	var frame []byte
	for _, m := range r.members {
		if pm.ex.Match(m.c.ConnID) {
			continue
		}
		if m.syncing {
			m.buffered = append(m.buffered, pm)
			continue
		}
		if pm.msg.Seq != 0 && pm.msg.Seq <= m.floor {
			continue
		}
		if frame == nil {
			var err error
			if frame, err = api.NewFrame(api.EvReceiveMessage, pm.msg); err != nil {
				logger.Error("encode receiveMessage", zap.String("chat_id", r.id), zap.Error(err))
				return
			}
		}
		m.c.Enqueue(frame)
	}
}

func (h *Hub) drainLocked(r *room) {
	for seq := range r.pending {
		if seq < r.next {
			delete(r.pending, seq)
		}
	}
	for {
		pm, ok := r.pending[r.next]
		if !ok {
			break
		}
		delete(r.pending, r.next)
		r.deliverLocked(pm)
		r.next++
	}
	if len(r.pending) == 0 {
		if r.gap != nil {
			r.gap.Stop()
			r.gap = nil
		}
		return
	}
	h.armGapLocked(r)
}

func (h *Hub) armGapLocked(r *room) {
	if r.gap != nil {
		return
	}
	r.gap = time.AfterFunc(h.gapWait, func() { h.skipGap(r) })
}

// skipGap 等不到的 seq 不再等，从挂起的最小 seq 继续
func (h *Hub) skipGap(r *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gap = nil
	if r.dead || len(r.pending) == 0 || r.next == 0 {
		return
	}
	lowest := int64(-1)
	for seq := range r.pending {
		if lowest < 0 || seq < lowest {
			lowest = seq
		}
	}
	if lowest > r.next {
		logger.Warn("skip missing messages",
			zap.String("chat_id", r.id), zap.Int64("from", r.next), zap.Int64("to", lowest-1))
		r.next = lowest
	}
	h.drainLocked(r)
}

func sendMessage(c *Client, msg api.Message) {
	frame, err := api.NewFrame(api.EvReceiveMessage, msg)
	if err != nil {
		logger.Error("encode receiveMessage", zap.String("conn_id", c.ConnID), zap.Error(err))
		return
	}
	c.Enqueue(frame)
}
