package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqPayload struct {
	ConversationID string `json:"conversationId"`
	N              int    `json:"n"`
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func startSupervisor(t *testing.T, bus *Bus, rec *recorder) (*Supervisor, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	sup := NewSupervisor(bus, rec.handle, SupervisorConfig{MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(ctx)
	}()
	select {
	case <-sup.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never became ready")
	}
	return sup, cancel, done
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, b, err := encode("gw-1", seqPayload{ConversationID: "c1", N: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)

	ev, err := decode(Message{Channel: ChannelMessageNew, Payload: b})
	require.NoError(t, err)
	assert.Equal(t, ChannelMessageNew, ev.Channel)
	assert.Equal(t, "gw-1", ev.Origin)
	assert.Equal(t, env.ID, ev.ID)

	var p seqPayload
	require.NoError(t, ev.Bind(&p))
	assert.Equal(t, 7, p.N)

	_, err = decode(Message{Channel: ChannelMessageNew, Payload: []byte("nope")})
	assert.Error(t, err)
}

func TestMemoryBusPreservesPublishOrder(t *testing.T) {
	bus := New(NewMemoryDriver(16), "gw-1")
	rec := &recorder{}
	sup, cancel, done := startSupervisor(t, bus, rec)
	defer func() { cancel(); <-done }()
	assert.True(t, sup.Healthy())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, bus.Publish(ctx, ChannelMessageNew, seqPayload{ConversationID: "c1", N: i}))
	}
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 100 }, 2*time.Second, 5*time.Millisecond)
	for i, ev := range rec.snapshot() {
		var p seqPayload
		require.NoError(t, ev.Bind(&p))
		assert.Equal(t, i, p.N)
	}
}

func TestSupervisorResubscribesAfterBreak(t *testing.T) {
	drv := NewMemoryDriver(16)
	bus := New(drv, "gw-1")
	rec := &recorder{}

	var (
		mu     sync.Mutex
		states []State
	)
	sup := NewSupervisor(bus, rec.handle, SupervisorConfig{MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})
	sup.Watch(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = sup.Run(ctx) }()
	<-sup.Ready()

	drv.Break(errors.New("connection reset"))
	require.Eventually(t, func() bool { return sup.Gaps() == 1 && sup.Healthy() }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), ChannelUserOnline, map[string]string{"userId": "u1"}))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, StateStopped, sup.State())
	mu.Lock()
	assert.Equal(t, []State{StateSubscribed, StateReconnecting, StateSubscribed, StateStopped}, states)
	mu.Unlock()
}

func TestSupervisorSurvivesPanickingHandler(t *testing.T) {
	bus := New(NewMemoryDriver(16), "gw-1")
	rec := &recorder{}
	calls := 0
	h := func(ctx context.Context, ev Event) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		rec.handle(ctx, ev)
	}
	sup := NewSupervisor(bus, h, SupervisorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()
	<-sup.Ready()

	require.NoError(t, bus.Publish(ctx, ChannelTypingStart, map[string]string{"n": "1"}))
	require.NoError(t, bus.Publish(ctx, ChannelTypingStart, map[string]string{"n": "2"}))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, sup.Healthy())
}

func TestRedisBusAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newBus := func(origin string) *Bus {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return New(NewRedisDriver(rdb, 64), origin)
	}
	a, b := newBus("gw-a"), newBus("gw-b")
	recA, recB := &recorder{}, &recorder{}
	_, cancelA, doneA := startSupervisor(t, a, recA)
	defer func() { cancelA(); <-doneA }()
	_, cancelB, doneB := startSupervisor(t, b, recB)
	defer func() { cancelB(); <-doneB }()

	require.NoError(t, a.Publish(context.Background(), ChannelMessageRead, seqPayload{ConversationID: "c1", N: 1}))
	require.Eventually(t, func() bool {
		return len(recA.snapshot()) == 1 && len(recB.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	ev := recB.snapshot()[0]
	assert.Equal(t, ChannelMessageRead, ev.Channel)
	assert.Equal(t, "gw-a", ev.Origin)
}

func TestRedisBusRecoversFromServerRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	bus := New(NewRedisDriver(rdb, 64), "gw-a")
	rec := &recorder{}
	sup, cancel, done := startSupervisor(t, bus, rec)
	defer func() { cancel(); <-done }()

	mr.Close()
	require.Eventually(t, func() bool { return !sup.Healthy() }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, mr.Restart())
	require.Eventually(t, func() bool { return sup.Healthy() && sup.Gaps() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), ChannelUserOffline, map[string]string{"userId": "u1"}))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
}
