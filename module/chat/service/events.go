package service

import (
	"PChatGate/module/chat/model"
)

// 总线事件载荷。participants 一并下发，接收实例不必再查库即可定位用户房间。

type NewMessageEvent struct {
	ConversationID       string            `json:"conversationId"`
	Message              model.MessageView `json:"message"`
	Participants         []string          `json:"participants"`
	RecipientID          string            `json:"recipientId"`
	RecipientUnreadTotal int64             `json:"recipientUnreadTotal"`
}

type TypingUser struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type TypingEvent struct {
	ConversationID string      `json:"conversationId"`
	UserID         string      `json:"userId"`
	User           *TypingUser `json:"user,omitempty"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
}

type ReadEvent struct {
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId"`
	Participants   []string `json:"participants"`
	Marked         int64    `json:"marked"`
	UnreadTotal    int64    `json:"unreadTotal"`
}
