package model

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ConvFieldID           = "_id"
	ConvFieldParticipants = "participants"
	ConvFieldPairKey      = "pairKey"
	ConvFieldProperty     = "property"
	ConvFieldMessages     = "messages"
	ConvFieldSeq          = "seq"
	ConvFieldCreatedAt    = "createdAt"
	ConvFieldUpdatedAt    = "updatedAt"
)

// Conversation 两个用户围绕同一个房源的会话，消息内嵌
type Conversation struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty"`
	Participants []primitive.ObjectID `bson:"participants"`      // 创建顺序：[发起方, 对方]
	PairKey      string               `bson:"pairKey,omitempty"` // 排序后的参与者对，唯一索引的一部分
	Property     primitive.ObjectID   `bson:"property,omitempty"`
	Messages     []Message            `bson:"messages"` // 只追加
	Seq          int64                `bson:"seq"`      // 已追加的消息数，和 $push 同一次原子更新
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
}

func (c *Conversation) GetTableName() string {
	return "chats"
}

func (c *Conversation) HasParticipant(id primitive.ObjectID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Other 返回另一方；userID 不在会话里时 ok=false
func (c *Conversation) Other(userID primitive.ObjectID) (primitive.ObjectID, bool) {
	if !c.HasParticipant(userID) {
		return primitive.NilObjectID, false
	}
	for _, p := range c.Participants {
		if p != userID {
			return p, true
		}
	}
	return primitive.NilObjectID, false
}

// Message 内嵌消息，创建后不可变；seq 为数组下标 + 1
type Message struct {
	ID        primitive.ObjectID  `bson:"_id"`
	Sender    primitive.ObjectID  `bson:"sender"`
	Content   string              `bson:"content"`
	Timestamp time.Time           `bson:"timestamp"`
	ReplyTo   *primitive.ObjectID `bson:"replyTo,omitempty"`
}

// PairKey 与顺序无关的参与者键
func PairKey(a, b primitive.ObjectID) string {
	x, y := a.Hex(), b.Hex()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}

// SplitPairKey PairKey 的逆操作
func SplitPairKey(key string) (primitive.ObjectID, primitive.ObjectID, bool) {
	l, r, ok := strings.Cut(key, ":")
	if !ok {
		return primitive.NilObjectID, primitive.NilObjectID, false
	}
	a, err1 := primitive.ObjectIDFromHex(l)
	b, err2 := primitive.ObjectIDFromHex(r)
	if err1 != nil || err2 != nil {
		return primitive.NilObjectID, primitive.NilObjectID, false
	}
	return a, b, true
}

// ConversationIndexes chats 集合的索引
func ConversationIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: ConvFieldPairKey, Value: 1}, {Key: ConvFieldProperty, Value: 1}},
			Options: options.Index().SetName("uniq_pair_property").SetUnique(true).
				SetPartialFilterExpression(bson.M{ConvFieldPairKey: bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: ConvFieldParticipants, Value: 1}, {Key: ConvFieldUpdatedAt, Value: -1}},
			Options: options.Index().SetName("idx_participants_updated"),
		},
		{
			Keys:    bson.D{{Key: ConvFieldProperty, Value: 1}},
			Options: options.Index().SetName("idx_property"),
		},
	}
}
