// Package service implements the chat use cases: resolving the conversation
// for a buyer/owner pair, appending and listing messages, and the per-user
// and per-listing views. Persistence, directories, live fan-out and the event
// stream are injected.
package service

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"PropChat/logger"
	"PropChat/module/chat/api"
	chatmodel "PropChat/module/chat/model"
	"PropChat/tools/errs"
	"PropChat/tools/safe"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const defaultMaxContentLen = 4000

type Service struct {
	repo   ConversationRepo
	dir    Directory
	events EventSink
	bc     atomic.Pointer[broadcasterBox]

	maxContentLen int
	now           func() time.Time
}

type broadcasterBox struct{ b Broadcaster }

type Option func(*Service)

func WithEventSink(e EventSink) Option {
	return func(s *Service) { s.events = e }
}

// WithMaxContentLen 消息内容的最大字符数，<=0 表示默认值
func WithMaxContentLen(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxContentLen = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo ConversationRepo, dir Directory, opts ...Option) *Service {
	safe.MustNotNil(repo, "conversation repo")
	safe.MustNotNil(dir, "directory")
	s := &Service{
		repo:          repo,
		dir:           dir,
		maxContentLen: defaultMaxContentLen,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AttachBroadcaster 网关依赖 Service 读历史，所以在网关创建之后再挂上
func (s *Service) AttachBroadcaster(b Broadcaster) {
	s.bc.Store(&broadcasterBox{b: b})
}

func (s *Service) broadcaster() Broadcaster {
	if box := s.bc.Load(); box != nil {
		return box.b
	}
	return nil
}

func (s *Service) emit(ev api.ChatEvent) {
	if s.events == nil {
		return
	}
	ev.At = s.now().UTC()
	s.events.Emit(ev)
}

// ParseID 24 位十六进制 ObjectID；detail 为返回给调用方的文本
func ParseID(hex, detail string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(hex))
	if err != nil {
		return primitive.NilObjectID, errs.ErrInvalidReference.WithDetail(detail).Wrap()
	}
	return id, nil
}

// ResolveResult 会话 id 与是否由本次调用创建
type ResolveResult struct {
	ID      string
	Created bool
}

// ResolveOrCreate 返回 {initiator, counterparty} 在该房源下的唯一会话，不存在时创建。
// 参与者顺序无关；并发调用最终拿到同一个 id。
func (s *Service) ResolveOrCreate(ctx context.Context, initiatorID, counterpartyID, propertyID string) (ResolveResult, error) {
	const detail = "Invalid sender, receiver, or property ID"
	initiator, err := ParseID(initiatorID, detail)
	if err != nil {
		return ResolveResult{}, err
	}
	counterparty, err := ParseID(counterpartyID, detail)
	if err != nil {
		return ResolveResult{}, err
	}
	property, err := ParseID(propertyID, detail)
	if err != nil {
		return ResolveResult{}, err
	}
	if initiator == counterparty {
		return ResolveResult{}, errs.ErrInvalidArgument.WithDetail("Cannot start a chat with yourself").Wrap()
	}

	conv, found, err := s.repo.FindByPair(ctx, initiator, counterparty, property)
	if err != nil {
		return ResolveResult{}, err
	}
	if found {
		return ResolveResult{ID: conv.ID.Hex()}, nil
	}

	id, created, err := s.repo.Upsert(ctx, initiator, counterparty, property)
	if err != nil {
		return ResolveResult{}, err
	}
	if created {
		logger.Info("chat created",
			zap.String("chat_id", id.Hex()),
			zap.String("initiator", initiator.Hex()),
			zap.String("counterparty", counterparty.Hex()),
			zap.String("property", property.Hex()))
		s.emit(api.ChatEvent{
			Type:         api.EventConversationCreated,
			ChatID:       id.Hex(),
			Participants: []string{initiator.Hex(), counterparty.Hex()},
			PropertyID:   property.Hex(),
		})
	}
	return ResolveResult{ID: id.Hex(), Created: created}, nil
}

// AppendInput 一次追加请求；OriginConn 为实时通道发起时的连接 id，
// 广播只跳过这一条连接（HTTP 追加时为空，房间内全部送达）
type AppendInput struct {
	ChatID     string
	SenderID   string
	Content    string
	ReplyTo    string
	OriginConn string
}

// AppendMessage 校验顺序：id 格式、会话存在、成员资格、内容。
// 非成员无论内容如何都得到 Forbidden。
func (s *Service) AppendMessage(ctx context.Context, in AppendInput) (api.Message, error) {
	const detail = "Invalid chat ID or sender ID"
	chatID, err := ParseID(in.ChatID, detail)
	if err != nil {
		return api.Message{}, err
	}
	sender, err := ParseID(in.SenderID, detail)
	if err != nil {
		return api.Message{}, err
	}

	members, err := s.repo.Participants(ctx, chatID)
	if err != nil {
		return api.Message{}, err
	}
	if !containsID(members, sender) {
		return api.Message{}, errs.ErrForbidden.WithDetail("You are not a participant in this chat").Wrap()
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return api.Message{}, errs.ErrInvalidArgument.WithDetail("Message content is required").Wrap()
	}
	if utf8.RuneCountInString(content) > s.maxContentLen {
		return api.Message{}, errs.ErrInvalidArgument.WithDetail("Message content is too long").Wrap()
	}

	msg := chatmodel.Message{
		ID:        primitive.NewObjectID(),
		Sender:    sender,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
	if in.ReplyTo != "" {
		replyTo, err := ParseID(in.ReplyTo, "Invalid replyTo ID")
		if err != nil {
			return api.Message{}, err
		}
		msg.ReplyTo = &replyTo
	}

	// 成员资格在追加的过滤条件里再原子校验一次
	stored, seq, err := s.repo.Append(ctx, chatID, msg)
	if err != nil {
		return api.Message{}, err
	}

	names := s.userNames(ctx, []primitive.ObjectID{sender})
	out := toAPIMessage(chatID, stored, seq, names)

	if b := s.broadcaster(); b != nil {
		b.Publish(ctx, out.ChatID, out, api.Exclude{ConnID: in.OriginConn})
	}
	s.emit(api.ChatEvent{Type: api.EventMessageAppended, ChatID: out.ChatID, Message: &out})
	return out, nil
}

// ListMessages 会话的完整历史，按追加顺序
func (s *Service) ListMessages(ctx context.Context, chatID string) (api.Thread, error) {
	id, err := ParseID(chatID, "Invalid chat ID")
	if err != nil {
		return api.Thread{}, err
	}
	conv, err := s.repo.Get(ctx, id)
	if err != nil {
		return api.Thread{}, err
	}

	names := s.userNames(ctx, conversationUsers(conv))
	th := api.Thread{
		ChatID:       conv.ID.Hex(),
		Participants: make([]api.UserRef, 0, len(conv.Participants)),
		Messages:     toAPIMessages(conv, names),
	}
	for _, p := range conv.Participants {
		th.Participants = append(th.Participants, userRef(p, names))
	}
	return th, nil
}

// userNames 补全失败不影响主流程，缺失的展示名留空
func (s *Service) userNames(ctx context.Context, ids []primitive.ObjectID) map[primitive.ObjectID]string {
	names, err := s.dir.UserNames(ctx, ids)
	if err != nil {
		logger.Warn("resolve user names failed", zap.Int("count", len(ids)), zap.Error(err))
		return map[primitive.ObjectID]string{}
	}
	return names
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
