package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User 用户主档（由账号服务维护，聊天只读 _id / username / profile.displayName）
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Username string             `bson:"username" json:"username"`
	Email    string             `bson:"email,omitempty" json:"-"`
	Role     string             `bson:"role,omitempty" json:"role,omitempty"` // user / admin
	Profile  Profile            `bson:"profile,omitempty" json:"profile"`

	CreatedAt time.Time `bson:"createdAt,omitempty" json:"-"`
	UpdatedAt time.Time `bson:"updatedAt,omitempty" json:"-"`
}

type Profile struct {
	DisplayName string `bson:"displayName,omitempty" json:"displayName,omitempty"`
	Avatar      string `bson:"avatar,omitempty" json:"avatar,omitempty"`
}

func (u *User) GetTableName() string {
	return "users"
}

// Name 展示名：username 优先，没有时退回 profile.displayName
func (u *User) Name() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Profile.DisplayName
}
