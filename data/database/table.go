package database

import "go.mongodb.org/mongo-driver/mongo"

// Table 每个持久化模型对应一张集合
type Table interface {
	GetTableName() string
}

// Collection 从 db 中取模型对应的集合
func Collection(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
