package model

import (
	"time"
)

// SenderView 消息里的发送者快照
type SenderView struct {
	ID          string `json:"_id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PicturePath string `json:"picturePath"`
}

// MessageView is the denormalized projection returned to clients and kept in the message cache.
type MessageView struct {
	ID             string     `json:"_id"`
	ConversationID string     `json:"conversationId"`
	Sender         SenderView `json:"sender"`
	Content        string     `json:"content"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"readAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Project 组装消息投影；发送者资料缺失时只保留 id
func Project(m *Message, sender *UserProfile) MessageView {
	v := MessageView{
		ID:             m.ID.Hex(),
		ConversationID: m.ConversationID.Hex(),
		Sender:         SenderView{ID: m.Sender.Hex()},
		Content:        m.Content,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		v.ReadAt = &t
	}
	if sender != nil {
		v.Sender.FirstName = sender.FirstName
		v.Sender.LastName = sender.LastName
		v.Sender.PicturePath = sender.PicturePath
	}
	return v
}

// ProjectAll projects a page, resolving senders from the given profile map.
func ProjectAll(msgs []*Message, users map[string]*UserProfile) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Project(m, users[m.Sender.Hex()]))
	}
	return out
}

// Preview 截取前 n 个字符（按 rune）
func Preview(content string, n int) string {
	r := []rune(content)
	if len(r) <= n {
		return content
	}
	return string(r[:n])
}
