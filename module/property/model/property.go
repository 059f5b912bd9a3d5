package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Property 房源（由房源服务维护，聊天只读标题和发布人）
type Property struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Title    string             `bson:"title" json:"title"`
	PostedBy primitive.ObjectID `bson:"postedBy,omitempty" json:"postedBy,omitempty"`
	Status   string             `bson:"status,omitempty" json:"status,omitempty"` // active / inactive
	PostDate time.Time          `bson:"postDate,omitempty" json:"postDate,omitempty"`
}

func (p *Property) GetTableName() string {
	return "properties"
}
