package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"PChatGate/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MessageTableName = "messages"
	MaxContentRunes  = 5000
)

// Message 会话内的一条消息。创建后只允许 read/readAt 从 false 变为 true。
type Message struct {
	ID             primitive.ObjectID `bson:"_id"`
	ConversationID primitive.ObjectID `bson:"conversationId"`
	Sender         primitive.ObjectID `bson:"sender"`
	Content        string             `bson:"content"`
	Read           bool               `bson:"read"`
	ReadAt         *time.Time         `bson:"readAt,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
}

func (*Message) TableName() string { return MessageTableName }

// NormalizeContent trims the text and rejects empty or oversized content.
func NormalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errs.ErrInvalidInput.WrapMsg("message content is empty")
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return "", errs.ErrInvalidInput.WrapMsg("message content too long", "max", MaxContentRunes)
	}
	return content, nil
}

// NewMessage creates an unread message authored by one of the conversation's participants.
func NewMessage(conv *Conversation, sender primitive.ObjectID, content string, now time.Time) (*Message, error) {
	if conv == nil {
		return nil, errs.ErrInternal.WrapMsg("message without conversation")
	}
	if !conv.HasParticipant(sender) {
		return nil, errs.ErrNotFound.WrapMsg("sender is not a participant", "conversationId", conv.ID.Hex(), "userId", sender.Hex())
	}
	text, err := NormalizeContent(content)
	if err != nil {
		return nil, err
	}
	now = Timestamp(now)
	return &Message{
		ID:             primitive.NewObjectID(),
		ConversationID: conv.ID,
		Sender:         sender,
		Content:        text,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// MarkRead flips the read flag once. Returns false if it was already read.
func (m *Message) MarkRead(at time.Time) bool {
	if m.Read {
		return false
	}
	at = Timestamp(at)
	m.Read = true
	m.ReadAt = &at
	m.UpdatedAt = at
	return true
}

func (m *Message) Clone() *Message {
	cp := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		cp.ReadAt = &t
	}
	return &cp
}
