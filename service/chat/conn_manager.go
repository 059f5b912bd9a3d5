package chat

import (
	"errors"
	"sync"

	"PropChat/tools/ids"
)

// ConnManager 本节点的在线连接：connID 主索引 + userID 辅助索引
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Client            // connID -> client
	byUser map[string]map[string]*Client // userID -> (connID -> client)
}

func NewConnManager() *ConnManager {
	return &ConnManager{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
	}
}

func (m *ConnManager) Add(c *Client) error {
	if c == nil || c.ConnID == "" {
		return errors.New("client/connID empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byConn[c.ConnID]; exists {
		return errors.New("connID exists")
	}
	m.byConn[c.ConnID] = c
	if c.UserID != "" {
		mm := m.byUser[c.UserID]
		if mm == nil {
			mm = make(map[string]*Client)
			m.byUser[c.UserID] = mm
		}
		mm[c.ConnID] = c
	}
	return nil
}

// Remove 只移除索引，不负责关闭连接
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if !ok {
		return
	}
	delete(m.byConn, connID)
	if mm := m.byUser[c.UserID]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(m.byUser, c.UserID)
		}
	}
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

// ListUser 某用户在本节点的全部连接
func (m *ConnManager) ListUser(userID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.byUser[userID]))
	for _, c := range m.byUser[userID] {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// CloseAll 关闭并清空全部连接（停机用）
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	all := make([]*Client, 0, len(m.byConn))
	for _, c := range m.byConn {
		all = append(all, c)
	}
	m.byConn = make(map[string]*Client)
	m.byUser = make(map[string]map[string]*Client)
	m.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

func genConnID() string {
	return ids.GenerateString()
}
