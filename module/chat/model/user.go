package model

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const UserTableName = "users"

// UserProfile 社交图谱服务维护的用户主档，这里只读其展示字段与好友列表。
type UserProfile struct {
	ID          primitive.ObjectID   `bson:"_id" json:"_id"`
	FirstName   string               `bson:"firstName" json:"firstName"`
	LastName    string               `bson:"lastName" json:"lastName"`
	Email       string               `bson:"email,omitempty" json:"email,omitempty"`
	PicturePath string               `bson:"picturePath,omitempty" json:"picturePath"`
	Friends     []primitive.ObjectID `bson:"friends,omitempty" json:"-"`
}

func (*UserProfile) TableName() string { return UserTableName }

func (u *UserProfile) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// UserSnippet 对端简要信息，会话列表和搜索结果用
type UserSnippet struct {
	ID          string `json:"_id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PicturePath string `json:"picturePath"`
	IsOnline    bool   `json:"isOnline"`
}

func (u *UserProfile) Snippet(online bool) UserSnippet {
	return UserSnippet{
		ID:          u.ID.Hex(),
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		PicturePath: u.PicturePath,
		IsOnline:    online,
	}
}
