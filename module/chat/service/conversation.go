package service

import (
	"context"
	"time"

	"PChatGate/module/chat/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type LastMessage struct {
	ID        string    `json:"_id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationSummary 会话列表项
type ConversationSummary struct {
	ID            string            `json:"_id"`
	OtherUser     model.UserSnippet `json:"otherUser"`
	LastMessage   *LastMessage      `json:"lastMessage"`
	LastMessageAt time.Time         `json:"lastMessageAt"`
	UnreadCount   int64             `json:"unreadCount"`
}

// Conversations lists the caller's conversations, most recent activity first.
func (s *ChatService) Conversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	uid, err := model.ParseID("userId", userID)
	if err != nil {
		return nil, err
	}
	convs, err := s.store.ListConversations(ctx, uid)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []ConversationSummary{}, nil
	}

	others := make([]primitive.ObjectID, 0, len(convs))
	lastIDs := make([]primitive.ObjectID, 0, len(convs))
	convIDs := make([]string, 0, len(convs))
	for _, c := range convs {
		if o, ok := c.Other(uid); ok {
			others = append(others, o)
		}
		if c.LastMessage != nil {
			lastIDs = append(lastIDs, *c.LastMessage)
		}
		convIDs = append(convIDs, c.ID.Hex())
	}

	users, err := s.store.GetUsers(ctx, others)
	if err != nil {
		return nil, err
	}
	lasts, err := s.store.GetMessages(ctx, lastIDs)
	if err != nil {
		return nil, err
	}

	online := map[string]bool{}
	if ids, err := s.cache.FilterOnline(ctx, model.Hexes(others)); err != nil {
		s.log.Warn("presence lookup failed", zap.String("userId", userID), zap.Error(err))
	} else {
		for _, id := range ids {
			online[id] = true
		}
	}
	cached, err := s.cache.UnreadMany(ctx, userID, convIDs)
	if err != nil {
		s.log.Warn("read cached unread failed", zap.String("userId", userID), zap.Error(err))
		cached = nil
	}

	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		other, _ := c.Other(uid)
		sum := ConversationSummary{
			ID:            c.ID.Hex(),
			LastMessageAt: c.LastMessageAt,
			UnreadCount:   c.Unread(uid),
		}
		if n, ok := cached[sum.ID]; ok {
			sum.UnreadCount = n
		}
		if u := users[other]; u != nil {
			sum.OtherUser = u.Snippet(online[other.Hex()])
		} else {
			sum.OtherUser = model.UserSnippet{ID: other.Hex(), IsOnline: online[other.Hex()]}
		}
		if c.LastMessage != nil {
			if m := lasts[*c.LastMessage]; m != nil {
				sum.LastMessage = &LastMessage{
					ID:        m.ID.Hex(),
					Content:   model.Preview(m.Content, s.conf.PreviewRunes),
					Sender:    m.Sender.Hex(),
					Read:      m.Read,
					CreatedAt: m.CreatedAt,
				}
			}
		}
		out = append(out, sum)
	}
	return out, nil
}
