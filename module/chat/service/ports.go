package service

import (
	"context"

	"PropChat/module/chat/api"
	chatmodel "PropChat/module/chat/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConversationRepo 会话持久化；store.ConversationStore 是 Mongo 实现
type ConversationRepo interface {
	FindByPair(ctx context.Context, a, b, property primitive.ObjectID) (*chatmodel.Conversation, bool, error)
	Upsert(ctx context.Context, initiator, counterparty, property primitive.ObjectID) (primitive.ObjectID, bool, error)
	Get(ctx context.Context, id primitive.ObjectID) (*chatmodel.Conversation, error)
	Participants(ctx context.Context, id primitive.ObjectID) ([]primitive.ObjectID, error)
	Append(ctx context.Context, chatID primitive.ObjectID, msg chatmodel.Message) (chatmodel.Message, int64, error)
	ListByParticipant(ctx context.Context, userID primitive.ObjectID) ([]chatmodel.Conversation, error)
	ListByProperty(ctx context.Context, property primitive.ObjectID) ([]chatmodel.Conversation, error)
}

// Directory 用户名 / 房源标题的只读查询
type Directory interface {
	UserNames(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error)
	PropertyTitles(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error)
}

// Broadcaster 把已落库的消息推给会话里的在线成员
type Broadcaster interface {
	Publish(ctx context.Context, chatID string, msg api.Message, ex api.Exclude)
}

// EventSink 对外事件流（kafka）
type EventSink interface {
	Emit(ev api.ChatEvent)
}
