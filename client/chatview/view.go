// Package chatview 是前端聊天窗口的 Go 版本：拉历史、进房间、
// 维护乐观发送的消息状态。一个 View 只绑定一个会话和一个用户。
package chatview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"PropChat/module/chat/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int

const (
	StatePending State = iota
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Entry 窗口里的一行。LocalID 只有本地发出的消息才有
type Entry struct {
	LocalID    string
	ID         string
	Seq        int64
	SenderID   string
	SenderName string
	Content    string
	Timestamp  time.Time
	State      State
	Err        string

	order int
}

// Snapshot 某一时刻的渲染状态；已确认的按 seq，其余按发送顺序排在后面
type Snapshot struct {
	ChatID     string
	Entries    []Entry
	PeerTyping bool
	Connected  bool
	Joined     bool // 已收到 chatHistory
	LastError  string
}

type Config struct {
	BaseURL     string // REST 前缀，如 http://host:5000/api/chat
	WSURL       string // 为空时由 BaseURL 推出 ws://host:5000/ws
	ChatID      string
	UserID      string
	Token       string
	HTTPTimeout time.Duration
	TypingTTL   time.Duration
	Dialer      *websocket.Dialer
}

// RequestError 服务端返回的非 2xx
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("chat api %d: %s", e.Status, e.Message)
}

var (
	ErrNotOpen      = errors.New("chatview: not open")
	ErrEmptyContent = errors.New("chatview: empty content")
)

type View struct {
	cfg  Config
	http *resty.Client

	mu          sync.Mutex
	entries     []*Entry
	byID        map[string]*Entry
	byLocal     map[string]*Entry
	liveQueue   []string // 等待 messageAck 的 LocalID，按发送顺序
	peerTyping  bool
	typingTimer *time.Timer
	connected   bool
	joined      bool
	lastErr     string
	seq         int
	onChange    func(Snapshot)

	writeMu sync.Mutex
	ws      *websocket.Conn
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func New(cfg Config) *View {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 2 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &View{
		cfg:     cfg,
		http:    c,
		byID:    make(map[string]*Entry),
		byLocal: make(map[string]*Entry),
		closed:  make(chan struct{}),
	}
}

// OnChange 每次状态变化后回调（在内部协程里调用，不要阻塞）
func (v *View) OnChange(fn func(Snapshot)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Open 拉历史、连实时通道、加入房间
func (v *View) Open(ctx context.Context) error {
	var hist []api.Message
	if err := v.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(v.cfg.ChatID), nil, &hist); err != nil {
		return err
	}
	v.update(func() {
		for _, m := range hist {
			v.mergeLocked(m)
		}
	})

	wsURL, err := v.wsURL()
	if err != nil {
		return err
	}
	hdr := http.Header{}
	if v.cfg.Token != "" {
		hdr.Set("Authorization", "Bearer "+v.cfg.Token)
	}
	ws, _, err := v.cfg.Dialer.DialContext(ctx, wsURL, hdr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	v.writeMu.Lock()
	v.ws = ws
	v.writeMu.Unlock()

	if err := v.emit(api.EvJoinChat, v.cfg.ChatID); err != nil {
		_ = ws.Close()
		return err
	}
	v.update(func() { v.connected = true })

	v.wg.Add(1)
	go v.readLoop(ws)
	return nil
}

// Close 离开房间并断开；可重复调用
func (v *View) Close() error {
	var err error
	v.once.Do(func() {
		close(v.closed)
		v.writeMu.Lock()
		ws := v.ws
		if ws != nil {
			if frame, ferr := api.NewFrame(api.EvLeaveChat, v.cfg.ChatID); ferr == nil {
				_ = ws.SetWriteDeadline(time.Now().Add(time.Second))
				_ = ws.WriteMessage(websocket.TextMessage, frame)
			}
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = ws.Close()
		}
		v.writeMu.Unlock()
		v.wg.Wait()

		v.mu.Lock()
		if v.typingTimer != nil {
			v.typingTimer.Stop()
		}
		v.mu.Unlock()
	})
	return err
}

// Send 走 HTTP；以 HTTP 响应为准确认或标记失败
func (v *View) Send(ctx context.Context, content string) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, ErrEmptyContent
	}
	local := v.addPending(content, false)

	var msg api.Message
	err := v.do(ctx, http.MethodPost, "/send_message", api.SendRequest{
		ChatID:   v.cfg.ChatID,
		SenderID: v.cfg.UserID,
		Content:  content,
	}, &msg)

	var out Entry
	v.update(func() {
		if err != nil {
			out = v.failLocked(local, err.Error())
			return
		}
		out = v.confirmLocked(local, msg)
	})
	return out, err
}

// SendLive 走实时通道；由 messageAck 确认
func (v *View) SendLive(content string) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, ErrEmptyContent
	}
	local := v.addPending(content, true)
	err := v.emit(api.EvSendMessage, api.SendRequest{
		ChatID:   v.cfg.ChatID,
		SenderID: v.cfg.UserID,
		Content:  content,
	})
	var out Entry
	v.update(func() {
		if err != nil {
			v.dropLiveLocked(local)
			out = v.failLocked(local, err.Error())
			return
		}
		out = *v.byLocal[local]
	})
	return out, err
}

// Typing 通知对方正在输入
func (v *View) Typing() error {
	return v.emit(api.EvTyping, v.cfg.ChatID)
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	entries := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		entries = append(entries, *e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		ac, bc := a.State == StateConfirmed, b.State == StateConfirmed
		switch {
		case ac && bc:
			return a.Seq < b.Seq
		case ac != bc:
			return ac
		default:
			return a.order < b.order
		}
	})
	return Snapshot{
		ChatID:     v.cfg.ChatID,
		Entries:    entries,
		PeerTyping: v.peerTyping,
		Connected:  v.connected,
		Joined:     v.joined,
		LastError:  v.lastErr,
	}
}

// update 改状态并通知
func (v *View) update(fn func()) {
	v.mu.Lock()
	fn()
	cb := v.onChange
	var snap Snapshot
	if cb != nil {
		snap = v.snapshotLocked()
	}
	v.mu.Unlock()
	if cb != nil {
		cb(snap)
	}
}

func (v *View) addPending(content string, live bool) string {
	local := uuid.NewString()
	v.update(func() {
		v.seq++
		e := &Entry{
			LocalID:   local,
			SenderID:  v.cfg.UserID,
			Content:   content,
			Timestamp: time.Now(),
			State:     StatePending,
			order:     v.seq,
		}
		v.entries = append(v.entries, e)
		v.byLocal[local] = e
		if live {
			v.liveQueue = append(v.liveQueue, local)
		}
	})
	return local
}

// mergeLocked 按服务端 id 去重
func (v *View) mergeLocked(m api.Message) {
	if m.ID == "" {
		return
	}
	if e, ok := v.byID[m.ID]; ok {
		if e.SenderName == "" {
			e.SenderName = m.Sender.Username
		}
		return
	}
	v.seq++
	e := &Entry{order: v.seq}
	fill(e, m)
	v.entries = append(v.entries, e)
	v.byID[m.ID] = e
}

func (v *View) confirmLocked(local string, m api.Message) Entry {
	e := v.byLocal[local]
	if e == nil {
		return Entry{}
	}
	if dup, ok := v.byID[m.ID]; ok && dup != e {
		// 回显先到：保留已有的那条，去掉本地占位
		v.removeLocked(e)
		delete(v.byLocal, local)
		dup.LocalID = local
		v.byLocal[local] = dup
		return *dup
	}
	fill(e, m)
	v.byID[m.ID] = e
	return *e
}

func (v *View) failLocked(local, reason string) Entry {
	e := v.byLocal[local]
	if e == nil {
		return Entry{}
	}
	e.State = StateFailed
	e.Err = reason
	return *e
}

func (v *View) removeLocked(target *Entry) {
	for i, e := range v.entries {
		if e == target {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return
		}
	}
}

func (v *View) dropLiveLocked(local string) {
	for i, id := range v.liveQueue {
		if id == local {
			v.liveQueue = append(v.liveQueue[:i], v.liveQueue[i+1:]...)
			return
		}
	}
}

func (v *View) popLiveLocked() (string, bool) {
	if len(v.liveQueue) == 0 {
		return "", false
	}
	local := v.liveQueue[0]
	v.liveQueue = v.liveQueue[1:]
	return local, true
}

func fill(e *Entry, m api.Message) {
	e.ID = m.ID
	e.Seq = m.Seq
	e.SenderID = m.Sender.ID
	e.SenderName = m.Sender.Username
	e.Content = m.Content
	e.Timestamp = m.Timestamp
	e.State = StateConfirmed
	e.Err = ""
}

func (v *View) do(ctx context.Context, method, path string, body, out any) error {
	var apiErr api.ErrorBody
	req := v.http.R().SetContext(ctx).SetResult(out).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &RequestError{Status: resp.StatusCode(), Message: msg}
	}
	return nil
}

func (v *View) wsURL() (string, error) {
	if v.cfg.WSURL != "" {
		return v.cfg.WSURL, nil
	}
	u, err := url.Parse(v.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func (v *View) emit(event string, data any) error {
	frame, err := api.NewFrame(event, data)
	if err != nil {
		return err
	}
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	if v.ws == nil {
		return ErrNotOpen
	}
	select {
	case <-v.closed:
		return ErrNotOpen
	default:
	}
	_ = v.ws.SetWriteDeadline(time.Now().Add(v.cfg.HTTPTimeout))
	return v.ws.WriteMessage(websocket.TextMessage, frame)
}
