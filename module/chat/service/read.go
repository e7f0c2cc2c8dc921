package service

import (
	"context"

	"PChatGate/module/chat/model"
	"PChatGate/service/eventbus"
	"PChatGate/tools/errs"

	"go.uber.org/zap"
)

// Participant loads a conversation and checks membership. Non members get NotFound.
func (s *ChatService) Participant(ctx context.Context, userID, convID string) (*model.Conversation, error) {
	uid, err := model.ParseID("userId", userID)
	if err != nil {
		return nil, err
	}
	cid, err := model.ParseID("conversationId", convID)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, cid)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(uid) {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found", "conversationId", convID)
	}
	return conv, nil
}

type ReadResult struct {
	ConversationID string `json:"conversationId"`
	Marked         int64  `json:"marked"`
	UnreadTotal    int64  `json:"unreadTotal"`
}

// MarkRead acknowledges every message the other participant sent, zeroes the
// reader's counters and announces the receipt.
func (s *ChatService) MarkRead(ctx context.Context, readerID, convID string) (*ReadResult, error) {
	conv, err := s.Participant(ctx, readerID, convID)
	if err != nil {
		return nil, err
	}
	reader, _ := model.ParseID("userId", readerID)

	marked, err := s.store.MarkRead(ctx, conv.ID, reader, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.store.ResetUnread(ctx, conv.ID, reader); err != nil {
		return nil, err
	}

	bctx, cancel := s.detached(ctx)
	defer cancel()
	log := s.log.With(zap.String("conversationId", convID))
	res := &ReadResult{ConversationID: convID, Marked: marked}

	if _, res.UnreadTotal, err = s.cache.ResetUnread(bctx, readerID, convID); err != nil {
		log.Warn("reset cached unread failed", zap.Error(err))
		res.UnreadTotal, _ = s.cache.TotalUnread(bctx, readerID)
	}
	// 缓存里的 read 标记已过期，下次首屏从库里重建
	if marked > 0 {
		if err := s.cache.DropMessages(bctx, convID); err != nil {
			log.Warn("drop message cache failed", zap.Error(err))
		}
	}

	s.publish(bctx, eventbus.ChannelMessageRead, ReadEvent{
		ConversationID: convID,
		UserID:         readerID,
		Participants:   model.Hexes(conv.Participants),
		Marked:         marked,
		UnreadTotal:    res.UnreadTotal,
	}, convID)
	return res, nil
}
