package store

import (
	"context"

	"PropChat/data/database"
	propmodel "PropChat/module/property/model"
	usermodel "PropChat/module/user/model"
	"PropChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Directory 只读的用户 / 房源目录，用于展示名与标题补全
type Directory struct {
	p DBProvider
}

func NewDirectory(p DBProvider) *Directory {
	return &Directory{p: p}
}

// UserNames 批量查用户名；不存在的 id 不出现在结果里
func (d *Directory) UserNames(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	out := make(map[primitive.ObjectID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	db, err := d.p.DB()
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetProjection(bson.M{"username": 1, "profile.displayName": 1})
	cur, err := database.Collection(db, &usermodel.User{}).Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find users", "count", len(ids))
	}
	var users []usermodel.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, errs.WrapMsg(err, "decode users")
	}
	for i := range users {
		out[users[i].ID] = users[i].Name()
	}
	return out, nil
}

// PropertyTitles 批量查房源标题
func (d *Directory) PropertyTitles(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	out := make(map[primitive.ObjectID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	db, err := d.p.DB()
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetProjection(bson.M{"title": 1})
	cur, err := database.Collection(db, &propmodel.Property{}).Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find properties", "count", len(ids))
	}
	var props []propmodel.Property
	if err := cur.All(ctx, &props); err != nil {
		return nil, errs.WrapMsg(err, "decode properties")
	}
	for i := range props {
		out[props[i].ID] = props[i].Title
	}
	return out, nil
}
