package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"PChatGate/module/chat/model"
	"PChatGate/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemStore 进程内实现，单实例部署和测试用
type MemStore struct {
	mu     sync.RWMutex
	convs  map[primitive.ObjectID]*model.Conversation
	byPair map[string]primitive.ObjectID
	msgs   map[primitive.ObjectID]*model.Message
	byConv map[primitive.ObjectID][]primitive.ObjectID // 插入顺序
	users  map[primitive.ObjectID]*model.UserProfile
}

func NewMemStore() *MemStore {
	return &MemStore{
		convs:  make(map[primitive.ObjectID]*model.Conversation),
		byPair: make(map[string]primitive.ObjectID),
		msgs:   make(map[primitive.ObjectID]*model.Message),
		byConv: make(map[primitive.ObjectID][]primitive.ObjectID),
		users:  make(map[primitive.ObjectID]*model.UserProfile),
	}
}

// PutUser seeds a profile; the social graph owns users, so there is no other writer.
func (s *MemStore) PutUser(u *model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	cp.Friends = append([]primitive.ObjectID(nil), u.Friends...)
	s.users[u.ID] = &cp
}

func (s *MemStore) FindOrCreateConversation(ctx context.Context, a, b primitive.ObjectID) (*model.Conversation, bool, error) {
	fresh, err := model.NewConversation(a, b, time.Now())
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[fresh.PairKey]; ok {
		return s.convs[id].Clone(), false, nil
	}
	s.convs[fresh.ID] = fresh
	s.byPair[fresh.PairKey] = fresh.ID
	return fresh.Clone(), true, nil
}

func (s *MemStore) GetConversation(ctx context.Context, id primitive.ObjectID) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("get conversation", "conversationId", id.Hex())
	}
	return c.Clone(), nil
}

func (s *MemStore) ListConversations(ctx context.Context, userID primitive.ObjectID) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Conversation
	for _, c := range s.convs {
		if c.HasParticipant(userID) {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *MemStore) RecordMessage(ctx context.Context, m *model.Message, recipient primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[m.ConversationID]
	if !ok || !c.HasParticipant(recipient) {
		return errs.ErrNotFound.WrapMsg("conversation not found", "conversationId", m.ConversationID.Hex())
	}
	id := m.ID
	c.LastMessage = &id
	c.LastMessageAt = m.CreatedAt
	c.UpdatedAt = m.CreatedAt
	c.UnreadCount[recipient.Hex()]++
	return nil
}

func (s *MemStore) ResetUnread(ctx context.Context, convID, userID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok || !c.HasParticipant(userID) {
		return 0, errs.ErrNotFound.WrapMsg("reset unread", "conversationId", convID.Hex())
	}
	n := c.UnreadCount[userID.Hex()]
	c.UnreadCount[userID.Hex()] = 0
	return n, nil
}

func (s *MemStore) InsertMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[m.ConversationID]; !ok {
		return errs.ErrNotFound.WrapMsg("insert message", "conversationId", m.ConversationID.Hex())
	}
	if _, dup := s.msgs[m.ID]; dup {
		return errs.ErrInvalidInput.WrapMsg("duplicate message id", "messageId", m.ID.Hex())
	}
	s.msgs[m.ID] = m.Clone()
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return nil
}

func (s *MemStore) GetMessages(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[primitive.ObjectID]*model.Message, len(ids))
	for _, id := range ids {
		if m, ok := s.msgs[id]; ok {
			out[id] = m.Clone()
		}
	}
	return out, nil
}

// sortedDesc 创建时间倒序，同一毫秒按 id 倒序
func (s *MemStore) sortedDesc(convID primitive.ObjectID) []*model.Message {
	ids := s.byConv[convID]
	out := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.msgs[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})
	return out
}

func (s *MemStore) PageMessages(ctx context.Context, convID primitive.ObjectID, page, limit int) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sortedDesc(convID)
	from := int(skip(page, limit))
	if from >= len(all) {
		return nil, nil
	}
	to := from + limit
	if to > len(all) {
		to = len(all)
	}
	out := make([]*model.Message, 0, to-from)
	for _, m := range all[from:to] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemStore) CountMessages(ctx context.Context, convID primitive.ObjectID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byConv[convID])), nil
}

func (s *MemStore) MarkRead(ctx context.Context, convID, reader primitive.ObjectID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.byConv[convID] {
		m := s.msgs[id]
		if m.Sender == reader {
			continue
		}
		if m.MarkRead(at) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) GetUser(ctx context.Context, id primitive.ObjectID) (*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("get user", "userId", id.Hex())
	}
	cp := *u
	return &cp, nil
}

func (s *MemStore) GetUsers(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[primitive.ObjectID]*model.UserProfile, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *MemStore) SearchUsers(ctx context.Context, fragment string, exclude primitive.ObjectID, limit int) ([]*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(fragment)
	var out []*model.UserProfile
	for _, u := range s.users {
		if u.ID == exclude {
			continue
		}
		if strings.Contains(strings.ToLower(u.FirstName), q) || strings.Contains(strings.ToLower(u.LastName), q) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*MongoStore)(nil)
)
