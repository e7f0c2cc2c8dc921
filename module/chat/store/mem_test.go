package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"PChatGate/module/chat/model"
	"PChatGate/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func seed(t *testing.T) (*MemStore, primitive.ObjectID, primitive.ObjectID) {
	t.Helper()
	s := NewMemStore()
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	s.PutUser(&model.UserProfile{ID: a, FirstName: "Alice", LastName: "Ng"})
	s.PutUser(&model.UserProfile{ID: b, FirstName: "Bob", LastName: "Alvarez"})
	return s, a, b
}

func send(t *testing.T, s Store, conv *model.Conversation, from, to primitive.ObjectID, text string, at time.Time) *model.Message {
	t.Helper()
	m, err := model.NewMessage(conv, from, text, at)
	require.NoError(t, err)
	require.NoError(t, s.InsertMessage(context.Background(), m))
	require.NoError(t, s.RecordMessage(context.Background(), m, to))
	return m
}

func TestOneConversationPerPair(t *testing.T) {
	s, a, b := seed(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]primitive.ObjectID, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a, b
			if i%2 == 1 {
				x, y = b, a
			}
			c, _, err := s.FindOrCreateConversation(ctx, x, y)
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	list, err := s.ListConversations(ctx, a)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUnreadCountsAndReset(t *testing.T) {
	s, a, b := seed(t)
	ctx := context.Background()
	conv, created, err := s.FindOrCreateConversation(ctx, a, b)
	require.NoError(t, err)
	require.True(t, created)

	now := time.Now()
	for i := 0; i < 3; i++ {
		send(t, s, conv, a, b, "hi", now.Add(time.Duration(i)*time.Millisecond))
	}
	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Unread(b))
	assert.Equal(t, int64(0), got.Unread(a))

	cleared, err := s.ResetUnread(ctx, conv.ID, b)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)
	got, _ = s.GetConversation(ctx, conv.ID)
	assert.Equal(t, int64(0), got.Unread(b))

	_, err = s.ResetUnread(ctx, conv.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	s, a, b := seed(t)
	ctx := context.Background()
	conv, _, _ := s.FindOrCreateConversation(ctx, a, b)
	now := time.Now()
	m1 := send(t, s, conv, a, b, "one", now)
	m2 := send(t, s, conv, b, a, "two", now.Add(time.Millisecond))

	n, err := s.MarkRead(ctx, conv.ID, b, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgs, _ := s.GetMessages(ctx, []primitive.ObjectID{m1.ID, m2.ID})
	assert.True(t, msgs[m1.ID].Read)
	assert.NotNil(t, msgs[m1.ID].ReadAt)
	assert.False(t, msgs[m2.ID].Read)

	n, err = s.MarkRead(ctx, conv.ID, b, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	msgs, _ = s.GetMessages(ctx, []primitive.ObjectID{m1.ID})
	assert.Equal(t, model.Timestamp(now), *msgs[m1.ID].ReadAt)
}

func TestPageMessagesNewestFirst(t *testing.T) {
	s, a, b := seed(t)
	ctx := context.Background()
	conv, _, _ := s.FindOrCreateConversation(ctx, a, b)
	base := time.Now()
	var sent []*model.Message
	for i := 0; i < 5; i++ {
		sent = append(sent, send(t, s, conv, a, b, "m", base.Add(time.Duration(i)*time.Second)))
	}

	p1, err := s.PageMessages(ctx, conv.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, p1, 2)
	assert.Equal(t, sent[4].ID, p1[0].ID)
	assert.Equal(t, sent[3].ID, p1[1].ID)

	p3, _ := s.PageMessages(ctx, conv.ID, 3, 2)
	require.Len(t, p3, 1)
	assert.Equal(t, sent[0].ID, p3[0].ID)

	p4, _ := s.PageMessages(ctx, conv.ID, 4, 2)
	assert.Empty(t, p4)

	n, _ := s.CountMessages(ctx, conv.ID)
	assert.Equal(t, int64(5), n)
}

func TestListConversationsByActivity(t *testing.T) {
	s, a, b := seed(t)
	c := primitive.NewObjectID()
	s.PutUser(&model.UserProfile{ID: c, FirstName: "Cleo"})
	ctx := context.Background()

	ab, _, _ := s.FindOrCreateConversation(ctx, a, b)
	ac, _, _ := s.FindOrCreateConversation(ctx, a, c)
	now := time.Now()
	send(t, s, ab, b, a, "old", now)
	send(t, s, ac, c, a, "new", now.Add(time.Minute))

	list, err := s.ListConversations(ctx, a)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ac.ID, list[0].ID)
	assert.Equal(t, ab.ID, list[1].ID)
}

func TestSearchUsers(t *testing.T) {
	s, a, b := seed(t)
	ctx := context.Background()

	res, err := s.SearchUsers(ctx, "AL", primitive.NilObjectID, SearchLimit)
	require.NoError(t, err)
	assert.Len(t, res, 2)

	res, _ = s.SearchUsers(ctx, "al", a, SearchLimit)
	require.Len(t, res, 1)
	assert.Equal(t, b, res[0].ID)

	_, err = s.GetUser(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
