package service

import (
	"context"

	"PChatGate/module/chat/model"
	"PChatGate/service/eventbus"
	"PChatGate/service/notify"
	"PChatGate/tools/errs"
	"PChatGate/tools/safe"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type SendResult struct {
	ConversationID       string            `json:"conversationId"`
	Message              model.MessageView `json:"message"`
	Created              bool              `json:"-"`
	SenderUnreadTotal    int64             `json:"-"`
	RecipientUnreadTotal int64             `json:"-"`
}

// SendMessage runs the send pipeline: validate, persist, cache, count, publish.
// Only validation and persistence can fail the call; later steps log and continue.
func (s *ChatService) SendMessage(ctx context.Context, senderID, recipientID, content string) (*SendResult, error) {
	sender, err := model.ParseID("senderId", senderID)
	if err != nil {
		return nil, err
	}
	recipient, err := model.ParseID("recipientId", recipientID)
	if err != nil {
		return nil, err
	}
	if sender == recipient {
		return nil, errs.ErrInvalidInput.WrapMsg("cannot message yourself")
	}
	text, err := model.NormalizeContent(content)
	if err != nil {
		return nil, err
	}

	users, err := s.store.GetUsers(ctx, []primitive.ObjectID{sender, recipient})
	if err != nil {
		return nil, err
	}
	if users[recipient] == nil {
		return nil, errs.ErrNotFound.WrapMsg("recipient not found", "recipientId", recipientID)
	}
	profile := users[sender]
	if profile == nil {
		return nil, errs.ErrNotFound.WrapMsg("sender not found", "senderId", senderID)
	}

	// persisted
	conv, created, err := s.store.FindOrCreateConversation(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}
	msg, err := model.NewMessage(conv, sender, text, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	bctx, cancel := s.detached(ctx)
	defer cancel()
	convID := conv.ID.Hex()
	log := s.log.With(zap.String("conversationId", convID), zap.String("messageId", msg.ID.Hex()))

	if err := s.store.RecordMessage(bctx, msg, recipient); err != nil {
		log.Warn("update conversation counters failed", zap.Error(err))
	}

	view := model.Project(msg, profile)
	res := &SendResult{ConversationID: convID, Message: view, Created: created}

	// cached + counted
	if err := s.cache.PushMessage(bctx, view); err != nil {
		log.Warn("cache message failed", zap.Error(err))
	}
	if res.RecipientUnreadTotal, err = s.cache.IncrUnread(bctx, recipientID, convID); err != nil {
		log.Warn("incr unread failed", zap.Error(err))
		res.RecipientUnreadTotal, _ = s.cache.TotalUnread(bctx, recipientID)
	}

	// 发送即视为停止输入
	if stopped, err := s.cache.ClearTyping(bctx, convID, senderID); err != nil {
		log.Warn("clear typing failed", zap.Error(err))
	} else if stopped {
		s.publish(bctx, eventbus.ChannelTypingStop, TypingEvent{ConversationID: convID, UserID: senderID}, convID)
	}

	// published
	s.publish(bctx, eventbus.ChannelMessageNew, NewMessageEvent{
		ConversationID:       convID,
		Message:              view,
		Participants:         model.Hexes(conv.Participants),
		RecipientID:          recipientID,
		RecipientUnreadTotal: res.RecipientUnreadTotal,
	}, convID)

	s.notifyAsync(notify.MessageNotification{
		UserID:       recipientID,
		ActorID:      senderID,
		ActorName:    profile.DisplayName(),
		ActorPicture: profile.PicturePath,
		RelatedID:    convID,
		Metadata:     notify.MessageMetadata{MessagePreview: model.Preview(text, s.conf.PreviewRunes)},
	})

	if res.SenderUnreadTotal, err = s.cache.TotalUnread(bctx, senderID); err != nil {
		log.Warn("read sender unread total failed", zap.Error(err))
	}
	return res, nil
}

// notifyAsync 独立扇出，不阻塞也不影响发送结果
func (s *ChatService) notifyAsync(n notify.MessageNotification) {
	s.pending.Add(1)
	safe.Go("notify:message", func() {
		defer s.pending.Done()
		ctx, cancel := s.detached(context.Background())
		defer cancel()
		if err := s.notifier.NotifyMessage(ctx, n); err != nil {
			s.log.Warn("notification publish failed", zap.String("conversationId", n.RelatedID), zap.Error(err))
		}
	})
}
