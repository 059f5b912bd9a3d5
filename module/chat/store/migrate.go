package store

import (
	"context"

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

// Migrate 补齐旧文档（没有 seq / pairKey）：
// 1) seq = len(messages)，用管道更新一次完成
// 2) pairKey 逐条回填；旧数据里已经重复的会话跳过并告警
func (s *ConversationStore) Migrate(ctx context.Context) error {
	c, err := s.coll()
	if err != nil {
		return err
	}

	seqFix := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			chatmodel.ConvFieldSeq: bson.M{"$size": bson.M{"$ifNull": bson.A{"$" + chatmodel.ConvFieldMessages, bson.A{}}}},
		}}},
	}
	res, err := c.UpdateMany(ctx, bson.M{chatmodel.ConvFieldSeq: bson.M{"$exists": false}}, seqFix)
	if err != nil {
		return errs.WrapMsg(err, "backfill chat seq")
	}
	if res.ModifiedCount > 0 {
		logger.Info("chat seq backfilled", zap.Int64("count", res.ModifiedCount))
	}

	filter := bson.M{
		chatmodel.ConvFieldPairKey:      bson.M{"$exists": false},
		chatmodel.ConvFieldParticipants: bson.M{"$size": 2},
	}
	cur, err := c.Find(ctx, filter, options.Find().SetProjection(bson.M{
		chatmodel.ConvFieldParticipants: 1,
		chatmodel.ConvFieldProperty:     1,
	}))
	if err != nil {
		return errs.WrapMsg(err, "scan chats without pairKey")
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc struct {
			ID           primitive.ObjectID   `bson:"_id"`
			Participants []primitive.ObjectID `bson:"participants"`
		}
		if err := cur.Decode(&doc); err != nil {
			return errs.WrapMsg(err, "decode chat")
		}
		if len(doc.Participants) != 2 || doc.Participants[0] == doc.Participants[1] {
			continue
		}
		key := chatmodel.PairKey(doc.Participants[0], doc.Participants[1])
		_, err := c.UpdateOne(ctx, bson.M{chatmodel.ConvFieldID: doc.ID}, bson.M{"$set": bson.M{chatmodel.ConvFieldPairKey: key}})
		if mongoutil.IsDuplicateKey(err) {
			logger.Warn("duplicate legacy chat left without pairKey", zap.String("chat_id", doc.ID.Hex()), zap.String("pair", key))
			continue
		}
		if err != nil {
			return errs.WrapMsg(err, "backfill pairKey", "chat_id", doc.ID.Hex())
		}
	}
	return cur.Err()
}
