package service

import (
	"context"

	"PChatGate/module/chat/model"
	"PChatGate/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type HistoryPage struct {
	Messages    []model.MessageView `json:"messages"`
	CurrentPage int                 `json:"currentPage"`
	TotalPages  int                 `json:"totalPages"`
	FromCache   bool                `json:"fromCache"`
}

// NormalizePage applies defaults (page 1, DefaultPageSize) and bounds.
func NormalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if page < 1 {
		return 0, 0, errs.ErrInvalidInput.WrapMsg("page must be at least 1", "page", page)
	}
	if limit < 1 || limit > MaxPageSize {
		return 0, 0, errs.ErrInvalidInput.WrapMsg("limit out of range", "limit", limit, "max", MaxPageSize)
	}
	return page, limit, nil
}

// History returns one page of a conversation in chronological order.
// The first page is served from the message cache when it can hold the whole page.
func (s *ChatService) History(ctx context.Context, userID, convID string, page, limit int) (*HistoryPage, error) {
	page, limit, err := NormalizePage(page, limit)
	if err != nil {
		return nil, err
	}
	conv, err := s.Participant(ctx, userID, convID)
	if err != nil {
		return nil, err
	}

	cacheable := page == 1 && limit <= s.conf.CacheMax
	if cacheable {
		cached, err := s.cache.RecentMessages(ctx, convID, limit)
		if err != nil {
			s.log.Warn("read message cache failed", zap.String("conversationId", convID), zap.Error(err))
		} else if len(cached) > 0 {
			return &HistoryPage{Messages: cached, CurrentPage: 1, TotalPages: 1, FromCache: true}, nil
		}
	}

	// 首屏未命中时按缓存窗口取，回填后整窗可复用
	fetch := limit
	if cacheable {
		fetch = s.conf.CacheMax
	}
	msgs, err := s.store.PageMessages(ctx, conv.ID, page, fetch)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	views, err := s.project(ctx, msgs)
	if err != nil {
		return nil, err
	}

	if cacheable && len(views) > 0 {
		bctx, cancel := s.detached(ctx)
		if err := s.cache.FillMessages(bctx, convID, views); err != nil {
			s.log.Warn("fill message cache failed", zap.String("conversationId", convID), zap.Error(err))
		}
		cancel()
	}
	if len(views) > limit {
		views = views[:limit]
	}
	reverse(views)
	return &HistoryPage{
		Messages:    views,
		CurrentPage: page,
		TotalPages:  int((total + int64(limit) - 1) / int64(limit)),
	}, nil
}

// project resolves the senders of a page once and builds the views, keeping order.
func (s *ChatService) project(ctx context.Context, msgs []*model.Message) ([]model.MessageView, error) {
	if len(msgs) == 0 {
		return []model.MessageView{}, nil
	}
	seen := make(map[primitive.ObjectID]struct{}, 2)
	ids := make([]primitive.ObjectID, 0, 2)
	for _, m := range msgs {
		if _, ok := seen[m.Sender]; !ok {
			seen[m.Sender] = struct{}{}
			ids = append(ids, m.Sender)
		}
	}
	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	byHex := make(map[string]*model.UserProfile, len(users))
	for id, u := range users {
		byHex[id.Hex()] = u
	}
	return model.ProjectAll(msgs, byHex), nil
}

func reverse(v []model.MessageView) {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
}
