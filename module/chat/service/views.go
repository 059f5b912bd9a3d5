package service

import (
	"context"
	"sort"

	"PropChat/logger"
	"PropChat/module/chat/api"
	chatmodel "PropChat/module/chat/model"
	"PropChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Role 查询视角：发起方看到对方在 owner 下，被联系方看到对方在 buyer 下
type Role string

const (
	RoleInitiator    Role = "initiator"
	RoleCounterparty Role = "counterparty"
)

func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleCounterparty
}

// ListConversationsForUser 两个视角共用同一个查询，只是对方放在不同字段里
func (s *Service) ListConversationsForUser(ctx context.Context, userID string, role Role) ([]api.ConversationSummary, error) {
	if !role.Valid() {
		return nil, errs.ErrInvalidArgument.WrapMsg("unknown role", "role", string(role))
	}
	uid, err := ParseID(userID, "Invalid user ID")
	if err != nil {
		return nil, err
	}
	convs, err := s.repo.ListByParticipant(ctx, uid)
	if err != nil {
		return nil, err
	}

	var users, props []primitive.ObjectID
	for i := range convs {
		users = append(users, conversationUsers(&convs[i])...)
		props = append(props, convs[i].Property)
	}
	names := s.userNames(ctx, dedupIDs(users))
	titles, err := s.dir.PropertyTitles(ctx, dedupIDs(props))
	if err != nil {
		logger.Warn("resolve property titles failed", zap.Int("count", len(props)), zap.Error(err))
		titles = map[primitive.ObjectID]string{}
	}

	out := make([]api.ConversationSummary, 0, len(convs))
	for i := range convs {
		c := &convs[i]
		sum := api.ConversationSummary{
			ID:           c.ID.Hex(),
			Property:     &api.PropertyRef{ID: c.Property.Hex(), Title: titles[c.Property]},
			Participants: make([]api.UserRef, 0, len(c.Participants)),
			Messages:     toAPIMessages(c, names),
			UpdatedAt:    c.UpdatedAt,
		}
		for _, p := range c.Participants {
			sum.Participants = append(sum.Participants, userRef(p, names))
		}
		if n := len(sum.Messages); n > 0 {
			last := sum.Messages[n-1]
			sum.LastMessage = &last
		}
		if other, ok := c.Other(uid); ok {
			ref := userRef(other, names)
			if role == RoleInitiator {
				sum.Owner = &ref
			} else {
				sum.Buyer = &ref
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// ListPropertyMessages 某房源下所有会话的消息，时间倒序；没有消息时返回空数组
func (s *Service) ListPropertyMessages(ctx context.Context, propertyID string) ([]api.Message, error) {
	pid, err := ParseID(propertyID, "Invalid property ID")
	if err != nil {
		return nil, err
	}
	convs, err := s.repo.ListByProperty(ctx, pid)
	if err != nil {
		return nil, err
	}

	var senders []primitive.ObjectID
	for i := range convs {
		for _, m := range convs[i].Messages {
			senders = append(senders, m.Sender)
		}
	}
	names := s.userNames(ctx, dedupIDs(senders))

	out := make([]api.Message, 0)
	for i := range convs {
		out = append(out, toAPIMessages(&convs[i], names)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.ChatID != b.ChatID {
			return a.ChatID < b.ChatID
		}
		return a.Seq > b.Seq
	})
	return out, nil
}

func toAPIMessage(chatID primitive.ObjectID, m chatmodel.Message, seq int64, names map[primitive.ObjectID]string) api.Message {
	out := api.Message{
		ID:        m.ID.Hex(),
		ChatID:    chatID.Hex(),
		Seq:       seq,
		Sender:    userRef(m.Sender, names),
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.ReplyTo != nil {
		out.ReplyTo = m.ReplyTo.Hex()
	}
	return out
}

// toAPIMessages seq 即数组下标 + 1
func toAPIMessages(c *chatmodel.Conversation, names map[primitive.ObjectID]string) []api.Message {
	out := make([]api.Message, 0, len(c.Messages))
	for i, m := range c.Messages {
		out = append(out, toAPIMessage(c.ID, m, int64(i+1), names))
	}
	return out
}

func userRef(id primitive.ObjectID, names map[primitive.ObjectID]string) api.UserRef {
	return api.UserRef{ID: id.Hex(), Username: names[id]}
}

func conversationUsers(c *chatmodel.Conversation) []primitive.ObjectID {
	ids := append([]primitive.ObjectID{}, c.Participants...)
	for _, m := range c.Messages {
		ids = append(ids, m.Sender)
	}
	return dedupIDs(ids)
}

func dedupIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
