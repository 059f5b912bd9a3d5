package store

import (
	"context"
	"errors"
	"time"

	"PropChat/data/database"
	"PropChat/data/database/mgo/mongoutil"
	"PropChat/logger"
	chatmodel "PropChat/module/chat/model"
	"PropChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// DBProvider 当前可用的 database；mgo.Manager 与 mgo.Static 都实现了它
type DBProvider interface {
	DB() (*mongo.Database, error)
}

type ConversationStore struct {
	p DBProvider
}

func NewConversationStore(p DBProvider) *ConversationStore {
	return &ConversationStore{p: p}
}

func (s *ConversationStore) coll() (*mongo.Collection, error) {
	db, err := s.p.DB()
	if err != nil {
		return nil, err
	}
	return database.Collection(db, &chatmodel.Conversation{}), nil
}

func (s *ConversationStore) EnsureIndexes(ctx context.Context) error {
	c, err := s.coll()
	if err != nil {
		return err
	}
	if _, err := c.Indexes().CreateMany(ctx, chatmodel.ConversationIndexes()); err != nil {
		return errs.WrapMsg(err, "create chat indexes")
	}
	return nil
}

// FindByPair 参与者集合恰好为 {a, b} 且房源相同的会话；没有 pairKey 的旧文档用 $all + $size 兜底
func (s *ConversationStore) FindByPair(ctx context.Context, a, b, property primitive.ObjectID) (*chatmodel.Conversation, bool, error) {
	c, err := s.coll()
	if err != nil {
		return nil, false, err
	}
	filter := bson.M{
		chatmodel.ConvFieldProperty: property,
		"$or": bson.A{
			bson.M{chatmodel.ConvFieldPairKey: chatmodel.PairKey(a, b)},
			bson.M{chatmodel.ConvFieldParticipants: bson.M{"$all": bson.A{a, b}, "$size": 2}},
		},
	}
	opts := options.FindOne().
		SetProjection(bson.M{chatmodel.ConvFieldMessages: 0}).
		SetSort(bson.D{{Key: chatmodel.ConvFieldCreatedAt, Value: 1}})

	var conv chatmodel.Conversation
	err = c.FindOne(ctx, filter, opts).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.WrapMsg(err, "find chat by pair", "property", property.Hex())
	}
	return &conv, true, nil
}

// Upsert 按 {pairKey, property} 原子 find-or-insert；并发插入撞唯一索引时回读胜出者
func (s *ConversationStore) Upsert(ctx context.Context, initiator, counterparty, property primitive.ObjectID) (primitive.ObjectID, bool, error) {
	c, err := s.coll()
	if err != nil {
		return primitive.NilObjectID, false, err
	}
	now := time.Now().UTC()
	filter := bson.M{
		chatmodel.ConvFieldPairKey:  chatmodel.PairKey(initiator, counterparty),
		chatmodel.ConvFieldProperty: property,
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			chatmodel.ConvFieldParticipants: bson.A{initiator, counterparty},
			chatmodel.ConvFieldMessages:     bson.A{},
			chatmodel.ConvFieldSeq:          int64(0),
			chatmodel.ConvFieldCreatedAt:    now,
			chatmodel.ConvFieldUpdatedAt:    now,
		},
	}

	res, err := c.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	switch {
	case mongoutil.IsDuplicateKey(err):
		// 另一个请求先插入了
		logger.Debug("chat upsert lost race", zap.String("pair", chatmodel.PairKey(initiator, counterparty)))
	case err != nil:
		return primitive.NilObjectID, false, errs.WrapMsg(err, "upsert chat", "property", property.Hex())
	case res.UpsertedID != nil:
		if id, ok := res.UpsertedID.(primitive.ObjectID); ok {
			return id, true, nil
		}
	}

	var out struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	err = c.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{chatmodel.ConvFieldID: 1})).Decode(&out)
	if err != nil {
		return primitive.NilObjectID, false, errs.WrapMsg(err, "read upserted chat", "property", property.Hex())
	}
	return out.ID, false, nil
}

// Get 读取整个会话（含消息）
func (s *ConversationStore) Get(ctx context.Context, id primitive.ObjectID) (*chatmodel.Conversation, error) {
	c, err := s.coll()
	if err != nil {
		return nil, err
	}
	var conv chatmodel.Conversation
	err = c.FindOne(ctx, bson.M{chatmodel.ConvFieldID: id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WithDetail("Chat not found").Wrap()
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get chat", "chat_id", id.Hex())
	}
	return &conv, nil
}

// Participants 只取成员列表（追加前的成员校验用）
func (s *ConversationStore) Participants(ctx context.Context, id primitive.ObjectID) ([]primitive.ObjectID, error) {
	c, err := s.coll()
	if err != nil {
		return nil, err
	}
	var out struct {
		Participants []primitive.ObjectID `bson:"participants"`
	}
	opts := options.FindOne().SetProjection(bson.M{chatmodel.ConvFieldParticipants: 1})
	err = c.FindOne(ctx, bson.M{chatmodel.ConvFieldID: id}, opts).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WithDetail("Chat not found").Wrap()
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get chat participants", "chat_id", id.Hex())
	}
	return out.Participants, nil
}

// Append 单文档原子追加（更新管道，不是读改写）：
// 时间戳取服务端 $$NOW 且不早于上一条消息，seq 与追加在同一次更新里 +1；
// 过滤条件包含 sender，成员校验也是原子的。返回实际落库的消息与它的 seq。
func (s *ConversationStore) Append(ctx context.Context, chatID primitive.ObjectID, msg chatmodel.Message) (chatmodel.Message, int64, error) {
	c, err := s.coll()
	if err != nil {
		return chatmodel.Message{}, 0, err
	}
	filter := bson.M{
		chatmodel.ConvFieldID:           chatID,
		chatmodel.ConvFieldParticipants: msg.Sender,
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{
			chatmodel.ConvFieldSeq:      1,
			chatmodel.ConvFieldMessages: bson.M{"$slice": -1},
		})

	var out struct {
		Seq      int64               `bson:"seq"`
		Messages []chatmodel.Message `bson:"messages"`
	}
	err = c.FindOneAndUpdate(ctx, filter, appendPipeline(msg), opts).Decode(&out)
	if err == nil {
		if len(out.Messages) == 0 {
			return chatmodel.Message{}, 0, errs.New("append returned no message", "chat_id", chatID.Hex())
		}
		return out.Messages[0], out.Seq, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return chatmodel.Message{}, 0, errs.WrapMsg(err, "append message", "chat_id", chatID.Hex())
	}

	// 没匹配上：会话不存在，或者 sender 不是成员
	n, err := c.CountDocuments(ctx, bson.M{chatmodel.ConvFieldID: chatID}, options.Count().SetLimit(1))
	if err != nil {
		return chatmodel.Message{}, 0, errs.WrapMsg(err, "probe chat", "chat_id", chatID.Hex())
	}
	if n == 0 {
		return chatmodel.Message{}, 0, errs.ErrNotFound.WithDetail("Chat not found").Wrap()
	}
	return chatmodel.Message{}, 0, errs.ErrForbidden.WithDetail("You are not a participant in this chat").Wrap()
}

func appendPipeline(msg chatmodel.Message) mongo.Pipeline {
	messages := "$" + chatmodel.ConvFieldMessages
	lastTS := bson.M{"$arrayElemAt": bson.A{messages + ".timestamp", -1}}

	doc := bson.M{
		"_id":       msg.ID,
		"sender":    msg.Sender,
		"content":   bson.M{"$literal": msg.Content},
		"timestamp": bson.M{"$max": bson.A{"$$NOW", bson.M{"$ifNull": bson.A{lastTS, "$$NOW"}}}},
	}
	if msg.ReplyTo != nil {
		doc["replyTo"] = *msg.ReplyTo
	}

	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			chatmodel.ConvFieldMessages: bson.M{"$concatArrays": bson.A{
				bson.M{"$ifNull": bson.A{messages, bson.A{}}},
				bson.A{doc},
			}},
			chatmodel.ConvFieldSeq: bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$" + chatmodel.ConvFieldSeq, 0}}, 1}},
		}}},
		{{Key: "$set", Value: bson.M{
			chatmodel.ConvFieldUpdatedAt: bson.M{"$arrayElemAt": bson.A{messages + ".timestamp", -1}},
		}}},
	}
}

// ListByParticipant userID 参与且绑定了房源的会话，最近活跃在前
func (s *ConversationStore) ListByParticipant(ctx context.Context, userID primitive.ObjectID) ([]chatmodel.Conversation, error) {
	filter := bson.M{
		chatmodel.ConvFieldParticipants: userID,
		chatmodel.ConvFieldProperty:     bson.M{"$exists": true, "$ne": nil},
	}
	return s.find(ctx, filter, bson.D{{Key: chatmodel.ConvFieldUpdatedAt, Value: -1}})
}

// ListByProperty 某个房源下的全部会话
func (s *ConversationStore) ListByProperty(ctx context.Context, property primitive.ObjectID) ([]chatmodel.Conversation, error) {
	return s.find(ctx, bson.M{chatmodel.ConvFieldProperty: property}, bson.D{{Key: chatmodel.ConvFieldID, Value: 1}})
}

func (s *ConversationStore) find(ctx context.Context, filter bson.M, sort bson.D) ([]chatmodel.Conversation, error) {
	c, err := s.coll()
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, errs.WrapMsg(err, "find chats")
	}
	var out []chatmodel.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode chats")
	}
	return out, nil
}
