package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PChatGate/module/chat/model"
	"PChatGate/module/chat/store"
	"PChatGate/service/eventbus"
	"PChatGate/service/notify"
	"PChatGate/service/storage"
	"PChatGate/tools/errs"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type published struct {
	ch   eventbus.Channel
	data any
}

type fakeBus struct {
	mu   sync.Mutex
	evs  []published
	fail error
}

func (b *fakeBus) Publish(_ context.Context, ch eventbus.Channel, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.evs = append(b.evs, published{ch: ch, data: data})
	return nil
}

func (b *fakeBus) on(ch eventbus.Channel) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for _, e := range b.evs {
		if e.ch == ch {
			out = append(out, e.data)
		}
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.MessageNotification
}

func (n *fakeNotifier) NotifyMessage(_ context.Context, m notify.MessageNotification) error {
	n.mu.Lock()
	n.sent = append(n.sent, m)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) Close() error { return nil }

type fixture struct {
	svc   *ChatService
	st    *store.MemStore
	cache *storage.Cache
	mr    *miniredis.Miniredis
	bus   *fakeBus
	note  *fakeNotifier
	u1    primitive.ObjectID
	u2    primitive.ObjectID
	u3    primitive.ObjectID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		st:    store.NewMemStore(),
		cache: storage.NewCache(rdb, storage.Config{NodeID: "gw-test"}),
		mr:    mr,
		bus:   &fakeBus{},
		note:  &fakeNotifier{},
		u1:    primitive.NewObjectID(),
		u2:    primitive.NewObjectID(),
		u3:    primitive.NewObjectID(),
	}
	f.st.PutUser(&model.UserProfile{ID: f.u1, FirstName: "Ana", LastName: "Lima", PicturePath: "ana.png", Friends: []primitive.ObjectID{f.u2, f.u3}})
	f.st.PutUser(&model.UserProfile{ID: f.u2, FirstName: "Ben", LastName: "Okafor"})
	f.st.PutUser(&model.UserProfile{ID: f.u3, FirstName: "Cai", LastName: "Wen"})

	f.svc = New(f.st, f.cache, f.bus, f.note, Config{})
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var tick int64
	var mu sync.Mutex
	f.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return f
}

func TestSendCreatesConversationAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2 := f.u1.Hex(), f.u2.Hex()

	res, err := f.svc.SendMessage(ctx, u1, u2, "  hi  ")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "hi", res.Message.Content)
	assert.False(t, res.Message.Read)
	assert.Equal(t, "Ana", res.Message.Sender.FirstName)
	assert.Equal(t, int64(1), res.RecipientUnreadTotal)
	assert.Equal(t, int64(0), res.SenderUnreadTotal)

	cid, _ := primitive.ObjectIDFromHex(res.ConversationID)
	conv, err := f.st.GetConversation(ctx, cid)
	require.NoError(t, err)
	assert.ElementsMatch(t, []primitive.ObjectID{f.u1, f.u2}, conv.Participants)
	assert.Equal(t, map[string]int64{u1: 0, u2: 1}, conv.UnreadCount)

	evs := f.bus.on(eventbus.ChannelMessageNew)
	require.Len(t, evs, 1)
	ev := evs[0].(NewMessageEvent)
	assert.Equal(t, res.ConversationID, ev.ConversationID)
	assert.Equal(t, u2, ev.RecipientID)
	assert.ElementsMatch(t, []string{u1, u2}, ev.Participants)

	f.svc.Close()
	require.Len(t, f.note.sent, 1)
	assert.Equal(t, u2, f.note.sent[0].UserID)
	assert.Equal(t, "Ana Lima", f.note.sent[0].ActorName)
	assert.Equal(t, "hi", f.note.sent[0].Metadata.MessagePreview)

	// 反向发送复用同一会话
	back, err := f.svc.SendMessage(ctx, u2, u1, "hey")
	require.NoError(t, err)
	assert.False(t, back.Created)
	assert.Equal(t, res.ConversationID, back.ConversationID)
}

func TestSendRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, f.u1.Hex(), f.u2.Hex(), "   ")
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
	_, err = f.svc.SendMessage(ctx, f.u1.Hex(), "not-an-id", "hi")
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
	_, err = f.svc.SendMessage(ctx, f.u1.Hex(), f.u1.Hex(), "hi")
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
	_, err = f.svc.SendMessage(ctx, f.u1.Hex(), primitive.NewObjectID().Hex(), "hi")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Empty(t, f.bus.on(eventbus.ChannelMessageNew))
}

func TestSendSurvivesBusFailure(t *testing.T) {
	f := newFixture(t)
	f.bus.fail = errs.ErrTransient.WrapMsg("bus down")
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, f.u1.Hex(), f.u2.Hex(), "still stored")
	require.NoError(t, err)
	page, err := f.svc.History(ctx, f.u2.Hex(), res.ConversationID, 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "still stored", page.Messages[0].Content)
}

func TestSendStopsTyping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.SendMessage(ctx, f.u1.Hex(), f.u2.Hex(), "one")
	require.NoError(t, err)

	p, err := f.svc.Profile(ctx, f.u1.Hex())
	require.NoError(t, err)
	require.NoError(t, f.svc.StartTyping(ctx, first.ConversationID, p))
	_, err = f.svc.SendMessage(ctx, f.u1.Hex(), f.u2.Hex(), "two")
	require.NoError(t, err)

	stops := f.bus.on(eventbus.ChannelTypingStop)
	require.Len(t, stops, 1)
	assert.Equal(t, f.u1.Hex(), stops[0].(TypingEvent).UserID)
	on, err := f.cache.IsTyping(ctx, first.ConversationID, f.u1.Hex())
	require.NoError(t, err)
	assert.False(t, on)
}

func TestMarkReadResetsCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2 := f.u1.Hex(), f.u2.Hex()

	var convID string
	for i := 0; i < 3; i++ {
		res, err := f.svc.SendMessage(ctx, u1, u2, "ping")
		require.NoError(t, err)
		convID = res.ConversationID
	}
	// 另一个会话的未读不受影响
	_, err := f.svc.SendMessage(ctx, f.u3.Hex(), u2, "other")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, u2, u1, "pong")
	require.NoError(t, err)

	total, err := f.cache.TotalUnread(ctx, u2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	res, err := f.svc.MarkRead(ctx, u2, convID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Marked)
	assert.Equal(t, int64(1), res.UnreadTotal)

	cid, _ := primitive.ObjectIDFromHex(convID)
	conv, err := f.st.GetConversation(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, int64(0), conv.Unread(f.u2))
	assert.Equal(t, int64(1), conv.Unread(f.u1))

	page, err := f.svc.History(ctx, u1, convID, 1, 10)
	require.NoError(t, err)
	for _, m := range page.Messages {
		if m.Sender.ID == u1 {
			assert.True(t, m.Read)
			assert.NotNil(t, m.ReadAt)
		} else {
			assert.False(t, m.Read)
		}
	}

	reads := f.bus.on(eventbus.ChannelMessageRead)
	require.Len(t, reads, 1)
	assert.Equal(t, u2, reads[0].(ReadEvent).UserID)

	// 再次已读不会回退
	again, err := f.svc.MarkRead(ctx, u2, convID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Marked)
	page, err = f.svc.History(ctx, u1, convID, 1, 10)
	require.NoError(t, err)
	for _, m := range page.Messages {
		if m.Sender.ID == u1 {
			assert.True(t, m.Read)
		}
	}
}

func TestMarkReadRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.SendMessage(ctx, f.u1.Hex(), f.u2.Hex(), "private")
	require.NoError(t, err)

	_, err = f.svc.MarkRead(ctx, f.u3.Hex(), res.ConversationID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	_, err = f.svc.MarkRead(ctx, f.u2.Hex(), primitive.NewObjectID().Hex())
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestHistoryCacheMatchesStoreOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2 := f.u1.Hex(), f.u2.Hex()

	var convID string
	for i, text := range []string{"a", "b", "c", "d"} {
		from, to := u1, u2
		if i%2 == 1 {
			from, to = u2, u1
		}
		res, err := f.svc.SendMessage(ctx, from, to, text)
		require.NoError(t, err)
		convID = res.ConversationID
	}

	// 发送不建窗口，首屏从库里取并回填
	fromStore, err := f.svc.History(ctx, u1, convID, 1, 10)
	require.NoError(t, err)
	assert.False(t, fromStore.FromCache)
	assert.Equal(t, 1, fromStore.TotalPages)

	cached, err := f.svc.History(ctx, u1, convID, 1, 10)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)

	assert.Equal(t, []string{"a", "b", "c", "d"}, contents(fromStore))
	assert.Equal(t, contents(fromStore), contents(cached))

	// 窗口存在时新消息追加进去
	_, err = f.svc.SendMessage(ctx, u1, u2, "e")
	require.NoError(t, err)
	again, err := f.svc.History(ctx, u1, convID, 1, 10)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, contents(again))
}

func TestHistoryAfterReadMatchesStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2 := f.u1.Hex(), f.u2.Hex()

	var convID string
	for _, text := range []string{"one", "two", "three"} {
		res, err := f.svc.SendMessage(ctx, u1, u2, text)
		require.NoError(t, err)
		convID = res.ConversationID
	}
	warm, err := f.svc.History(ctx, u1, convID, 1, 50)
	require.NoError(t, err)
	require.Len(t, warm.Messages, 3)

	read, err := f.svc.MarkRead(ctx, u2, convID)
	require.NoError(t, err)
	require.EqualValues(t, 3, read.Marked)
	_, err = f.svc.SendMessage(ctx, u1, u2, "four")
	require.NoError(t, err)

	first, err := f.svc.History(ctx, u1, convID, 1, 50)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, []string{"one", "two", "three", "four"}, contents(first))

	require.NoError(t, f.cache.DropMessages(ctx, convID))
	fromStore, err := f.svc.History(ctx, u1, convID, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, contents(fromStore), contents(first))
	assert.Equal(t, fromStore.TotalPages, first.TotalPages)

	cached, err := f.svc.History(ctx, u1, convID, 1, 50)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Equal(t, contents(fromStore), contents(cached))
	for _, m := range cached.Messages {
		assert.Equal(t, m.Content != "four", m.Read, m.Content)
	}
}

func contents(p *HistoryPage) []string {
	var out []string
	for _, m := range p.Messages {
		out = append(out, m.Content)
	}
	return out
}

func TestHistoryPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var convID string
	for i := 0; i < 5; i++ {
		res, err := f.svc.SendMessage(ctx, f.u1.Hex(), f.u2.Hex(), string(rune('a'+i)))
		require.NoError(t, err)
		convID = res.ConversationID
	}

	p2, err := f.svc.History(ctx, f.u2.Hex(), convID, 2, 2)
	require.NoError(t, err)
	assert.False(t, p2.FromCache)
	assert.Equal(t, 3, p2.TotalPages)
	assert.Equal(t, 2, p2.CurrentPage)
	require.Len(t, p2.Messages, 2)
	assert.Equal(t, "b", p2.Messages[0].Content)
	assert.Equal(t, "c", p2.Messages[1].Content)

	_, err = f.svc.History(ctx, f.u2.Hex(), convID, -1, 10)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
	_, err = f.svc.History(ctx, f.u2.Hex(), convID, 1, MaxPageSize+1)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
	_, err = f.svc.History(ctx, f.u3.Hex(), convID, 1, 10)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestConversationsList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.u1.Hex()

	_, err := f.svc.SendMessage(ctx, f.u2.Hex(), u1, "older")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, f.u3.Hex(), u1, "newer")
	require.NoError(t, err)
	_, err = f.cache.Connect(ctx, f.u3.Hex(), "conn-3")
	require.NoError(t, err)

	list, err := f.svc.Conversations(ctx, u1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, f.u3.Hex(), list[0].OtherUser.ID)
	assert.True(t, list[0].OtherUser.IsOnline)
	assert.Equal(t, "newer", list[0].LastMessage.Content)
	assert.Equal(t, int64(1), list[0].UnreadCount)
	assert.Equal(t, f.u2.Hex(), list[1].OtherUser.ID)
	assert.False(t, list[1].OtherUser.IsOnline)

	// 缓存丢失时回落到持久化计数
	f.mr.FlushAll()
	list, err = f.svc.Conversations(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), list[0].UnreadCount)
	assert.Equal(t, int64(1), list[1].UnreadCount)
}

func TestSearchAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.Connect(ctx, f.u1.Hex(), "conn-1")
	require.NoError(t, err)

	_, err = f.svc.SearchUsers(ctx, f.u1.Hex(), "b")
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))

	found, err := f.svc.SearchUsers(ctx, f.u2.Hex(), "AN")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, f.u1.Hex(), found[0].ID)
	assert.True(t, found[0].IsOnline)

	u9 := primitive.NewObjectID().Hex()
	online, err := f.svc.OnlineStatus(ctx, []string{f.u1.Hex(), f.u3.Hex(), u9})
	require.NoError(t, err)
	assert.Equal(t, []string{f.u1.Hex()}, online)

	_, err = f.svc.OnlineStatus(ctx, []string{"u1"})
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.Connect(ctx, f.u3.Hex(), "conn-3")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, f.u2.Hex(), f.u1.Hex(), "hello")
	require.NoError(t, err)

	b, err := f.svc.Bootstrap(ctx, f.u1.Hex())
	require.NoError(t, err)
	assert.Equal(t, []string{f.u3.Hex()}, b.OnlineFriends)
	assert.Equal(t, int64(1), b.UnreadTotal)

	stranger, err := f.svc.Bootstrap(ctx, primitive.NewObjectID().Hex())
	require.NoError(t, err)
	assert.Empty(t, stranger.OnlineFriends)
}

func TestLeaveClearsTyping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Profile(ctx, f.u1.Hex())
	require.NoError(t, err)

	require.NoError(t, f.svc.StartTyping(ctx, "conv-x", p))
	starts := f.bus.on(eventbus.ChannelTypingStart)
	require.Len(t, starts, 1)
	assert.Equal(t, "Ana", starts[0].(TypingEvent).User.FirstName)

	f.svc.LeaveConversation(ctx, "conv-x", f.u1.Hex())
	f.svc.LeaveConversation(ctx, "conv-x", f.u1.Hex())
	assert.Len(t, f.bus.on(eventbus.ChannelTypingStop), 1)
}

func TestTypistsSkipSelfAndExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Profile(ctx, f.u1.Hex())
	require.NoError(t, err)
	require.NoError(t, f.svc.StartTyping(ctx, "conv-y", p))

	got, err := f.svc.Typists(ctx, "conv-y", f.u2.Hex())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.u1.Hex(), got[0].UserID)
	assert.Equal(t, "conv-y", got[0].ConversationID)
	require.NotNil(t, got[0].User)
	assert.Equal(t, "Lima", got[0].User.LastName)

	got, err = f.svc.Typists(ctx, "conv-y", f.u1.Hex())
	require.NoError(t, err)
	assert.Empty(t, got)

	f.mr.FastForward(6 * time.Second)
	got, err = f.svc.Typists(ctx, "conv-y", f.u2.Hex())
	require.NoError(t, err)
	assert.Empty(t, got)
}
