package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"PChatGate/module/chat/model"
	"PChatGate/module/chat/store"
	"PChatGate/tools/errs"

	"go.uber.org/zap"
)

// SearchUsers matches a name fragment against first and last names, excluding the caller.
func (s *ChatService) SearchUsers(ctx context.Context, userID, query string) ([]model.UserSnippet, error) {
	uid, err := model.ParseID("userId", userID)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchRunes {
		return nil, errs.ErrInvalidInput.WrapMsg("search query too short", "min", MinSearchRunes)
	}
	users, err := s.store.SearchUsers(ctx, query, uid, store.SearchLimit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID.Hex())
	}
	online := s.onlineSet(ctx, ids)
	out := make([]model.UserSnippet, 0, len(users))
	for _, u := range users {
		out = append(out, u.Snippet(online[u.ID.Hex()]))
	}
	return out, nil
}

// OnlineStatus returns the subset of ids currently online, in request order.
func (s *ChatService) OnlineStatus(ctx context.Context, userIDs []string) ([]string, error) {
	ids, err := model.ParseIDs("userIds", userIDs)
	if err != nil {
		return nil, err
	}
	online, err := s.cache.FilterOnline(ctx, model.Hexes(ids))
	if err != nil {
		return nil, err
	}
	if online == nil {
		online = []string{}
	}
	return online, nil
}

// Bootstrap is what a fresh connection is told about: online friends and its unread total.
type Bootstrap struct {
	Profile       *model.UserProfile
	OnlineFriends []string
	UnreadTotal   int64
}

// Bootstrap never fails on missing profile data; presence and counters degrade to empty.
func (s *ChatService) Bootstrap(ctx context.Context, userID string) (*Bootstrap, error) {
	uid, err := model.ParseID("userId", userID)
	if err != nil {
		return nil, err
	}
	b := &Bootstrap{Profile: &model.UserProfile{ID: uid}, OnlineFriends: []string{}}
	if u, err := s.store.GetUser(ctx, uid); err == nil {
		b.Profile = u
	} else if !errors.Is(err, errs.ErrNotFound) {
		s.log.Warn("load profile failed", zap.String("userId", userID), zap.Error(err))
	}
	if len(b.Profile.Friends) > 0 {
		if ids, err := s.cache.FilterOnline(ctx, model.Hexes(b.Profile.Friends)); err != nil {
			s.log.Warn("friends presence failed", zap.String("userId", userID), zap.Error(err))
		} else if ids != nil {
			b.OnlineFriends = ids
		}
	}
	if b.UnreadTotal, err = s.cache.TotalUnread(ctx, userID); err != nil {
		s.log.Warn("read unread total failed", zap.String("userId", userID), zap.Error(err))
	}
	return b, nil
}

// UnreadTotal 当前用户未读总数
func (s *ChatService) UnreadTotal(ctx context.Context, userID string) (int64, error) {
	if _, err := model.ParseID("userId", userID); err != nil {
		return 0, err
	}
	return s.cache.TotalUnread(ctx, userID)
}

// Profile loads the caller's profile; typing events carry its display name.
func (s *ChatService) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	uid, err := model.ParseID("userId", userID)
	if err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, uid)
}

func (s *ChatService) onlineSet(ctx context.Context, ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return set
	}
	online, err := s.cache.FilterOnline(ctx, ids)
	if err != nil {
		s.log.Warn("presence lookup failed", zap.Error(err))
		return set
	}
	for _, id := range online {
		set[id] = true
	}
	return set
}
