package service

import (
	"context"

	"PChatGate/module/chat/model"
	"PChatGate/service/eventbus"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// StartTyping re-asserts the marker and announces it with the typist's name.
// The caller must already be a verified participant.
func (s *ChatService) StartTyping(ctx context.Context, convID string, user *model.UserProfile) error {
	uid := user.ID.Hex()
	if err := s.cache.SetTyping(ctx, convID, uid); err != nil {
		return err
	}
	s.publish(ctx, eventbus.ChannelTypingStart, TypingEvent{
		ConversationID: convID,
		UserID:         uid,
		User:           &TypingUser{FirstName: user.FirstName, LastName: user.LastName},
	}, convID)
	return nil
}

// StopTyping clears the marker. The stop event goes out even when the marker had already
// expired so that peers which missed the expiry still settle.
func (s *ChatService) StopTyping(ctx context.Context, convID, userID string) error {
	if _, err := s.cache.ClearTyping(ctx, convID, userID); err != nil {
		s.log.Warn("clear typing failed", zap.String("conversationId", convID), zap.Error(err))
	}
	s.publish(ctx, eventbus.ChannelTypingStop, TypingEvent{ConversationID: convID, UserID: userID}, convID)
	return nil
}

// LeaveConversation 离开房间时清掉输入状态，只在确有标记时广播
func (s *ChatService) LeaveConversation(ctx context.Context, convID, userID string) {
	existed, err := s.cache.ClearTyping(ctx, convID, userID)
	if err != nil {
		s.log.Warn("clear typing failed", zap.String("conversationId", convID), zap.Error(err))
		return
	}
	if existed {
		s.publish(ctx, eventbus.ChannelTypingStop, TypingEvent{ConversationID: convID, UserID: userID}, convID)
	}
}

// Typists lists who else is composing in the conversation right now, so a
// connection that just joined does not wait for the next typing:start.
func (s *ChatService) Typists(ctx context.Context, convID, userID string) ([]TypingEvent, error) {
	live, err := s.cache.TypingUsers(ctx, convID)
	if err != nil {
		return nil, err
	}
	others := make([]primitive.ObjectID, 0, len(live))
	for _, id := range live {
		if id == userID {
			continue
		}
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		others = append(others, oid)
	}
	if len(others) == 0 {
		return nil, nil
	}
	users, err := s.store.GetUsers(ctx, others)
	if err != nil {
		return nil, err
	}
	out := make([]TypingEvent, 0, len(others))
	for _, id := range others {
		e := TypingEvent{ConversationID: convID, UserID: id.Hex()}
		if u := users[id]; u != nil {
			e.User = &TypingUser{FirstName: u.FirstName, LastName: u.LastName}
		}
		out = append(out, e)
	}
	return out, nil
}
