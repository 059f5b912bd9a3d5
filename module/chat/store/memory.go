package store

import (
	"context"
	"sort"
	"sync"
	"time"

	chatmodel "PropChat/module/chat/model"
	"PropChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory 进程内实现，语义与 ConversationStore 一致（单节点调试与测试用）
type Memory struct {
	mu    sync.Mutex
	convs map[primitive.ObjectID]*chatmodel.Conversation
	pairs map[string]primitive.ObjectID // pairKey|property -> id
	users map[primitive.ObjectID]string
	props map[primitive.ObjectID]string
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		convs: make(map[primitive.ObjectID]*chatmodel.Conversation),
		pairs: make(map[string]primitive.ObjectID),
		users: make(map[primitive.ObjectID]string),
		props: make(map[primitive.ObjectID]string),
		now:   time.Now,
	}
}

// SetClock 替换时间源
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) AddUser(id primitive.ObjectID, name string) {
	m.mu.Lock()
	m.users[id] = name
	m.mu.Unlock()
}

func (m *Memory) AddProperty(id primitive.ObjectID, title string) {
	m.mu.Lock()
	m.props[id] = title
	m.mu.Unlock()
}

func memPairKey(a, b, property primitive.ObjectID) string {
	return chatmodel.PairKey(a, b) + "|" + property.Hex()
}

func (m *Memory) FindByPair(_ context.Context, a, b, property primitive.ObjectID) (*chatmodel.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pairs[memPairKey(a, b, property)]
	if !ok {
		return nil, false, nil
	}
	return cloneConv(m.convs[id]), true, nil
}

func (m *Memory) Upsert(_ context.Context, initiator, counterparty, property primitive.ObjectID) (primitive.ObjectID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memPairKey(initiator, counterparty, property)
	if id, ok := m.pairs[key]; ok {
		return id, false, nil
	}
	now := m.now().UTC()
	conv := &chatmodel.Conversation{
		ID:           primitive.NewObjectID(),
		Participants: []primitive.ObjectID{initiator, counterparty},
		PairKey:      chatmodel.PairKey(initiator, counterparty),
		Property:     property,
		Messages:     []chatmodel.Message{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.convs[conv.ID] = conv
	m.pairs[key] = conv.ID
	return conv.ID, true, nil
}

func (m *Memory) Get(_ context.Context, id primitive.ObjectID) (*chatmodel.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, errs.ErrNotFound.WithDetail("Chat not found").Wrap()
	}
	return cloneConv(conv), nil
}

func (m *Memory) Participants(_ context.Context, id primitive.ObjectID) ([]primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, errs.ErrNotFound.WithDetail("Chat not found").Wrap()
	}
	return append([]primitive.ObjectID(nil), conv.Participants...), nil
}

// Append 时间戳不早于上一条，与 Mongo 管道更新的 $max 一致
func (m *Memory) Append(_ context.Context, chatID primitive.ObjectID, msg chatmodel.Message) (chatmodel.Message, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[chatID]
	if !ok {
		return chatmodel.Message{}, 0, errs.ErrNotFound.WithDetail("Chat not found").Wrap()
	}
	if !conv.HasParticipant(msg.Sender) {
		return chatmodel.Message{}, 0, errs.ErrForbidden.WithDetail("You are not a participant in this chat").Wrap()
	}
	ts := m.now().UTC()
	if n := len(conv.Messages); n > 0 && ts.Before(conv.Messages[n-1].Timestamp) {
		ts = conv.Messages[n-1].Timestamp
	}
	msg.Timestamp = ts
	conv.Messages = append(conv.Messages, msg)
	conv.Seq++
	conv.UpdatedAt = ts
	return msg, conv.Seq, nil
}

func (m *Memory) ListByParticipant(_ context.Context, userID primitive.ObjectID) ([]chatmodel.Conversation, error) {
	return m.list(func(c *chatmodel.Conversation) bool {
		return !c.Property.IsZero() && c.HasParticipant(userID)
	}, func(a, b *chatmodel.Conversation) bool { return a.UpdatedAt.After(b.UpdatedAt) }), nil
}

func (m *Memory) ListByProperty(_ context.Context, property primitive.ObjectID) ([]chatmodel.Conversation, error) {
	return m.list(func(c *chatmodel.Conversation) bool {
		return c.Property == property
	}, func(a, b *chatmodel.Conversation) bool { return a.ID.Hex() < b.ID.Hex() }), nil
}

func (m *Memory) list(match func(*chatmodel.Conversation) bool, less func(a, b *chatmodel.Conversation) bool) []chatmodel.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []*chatmodel.Conversation
	for _, c := range m.convs {
		if match(c) {
			hits = append(hits, c)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return less(hits[i], hits[j]) })
	out := make([]chatmodel.Conversation, 0, len(hits))
	for _, c := range hits {
		out = append(out, *cloneConv(c))
	}
	return out
}

func (m *Memory) UserNames(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[primitive.ObjectID]string, len(ids))
	for _, id := range ids {
		if name, ok := m.users[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (m *Memory) PropertyTitles(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[primitive.ObjectID]string, len(ids))
	for _, id := range ids {
		if title, ok := m.props[id]; ok {
			out[id] = title
		}
	}
	return out, nil
}

func cloneConv(c *chatmodel.Conversation) *chatmodel.Conversation {
	cp := *c
	cp.Participants = append([]primitive.ObjectID(nil), c.Participants...)
	cp.Messages = append([]chatmodel.Message(nil), c.Messages...)
	return &cp
}
