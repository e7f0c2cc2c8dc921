package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"PChatGate/module/chat/model"
	"PChatGate/module/chat/service"
	"PChatGate/service/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, eventbus.Channel, any) error { return nil }

func newTestServer(t *testing.T) *Server {
	s := NewServer(Config{NodeID: "gw-test"}, nil, nil, nopPublisher{})
	t.Cleanup(s.Close)
	return s
}

func event(t *testing.T, ch eventbus.Channel, v any) eventbus.Event {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return eventbus.Event{Channel: ch, Envelope: eventbus.Envelope{ID: "e1", Origin: "gw-x", Data: b}}
}

func connect(t *testing.T, s *Server, user string, rooms ...string) *WsConn {
	w := s.connMgr.NewConn(user, nil)
	require.NoError(t, s.connMgr.Add(w))
	for _, r := range rooms {
		s.connMgr.Join(w, r)
	}
	return w
}

// drain collects the events queued on a connection until the queue stays quiet.
func drain(w *WsConn) []string {
	var out []string
	for {
		select {
		case b := <-w.send:
			f, err := ParseFrame(b)
			if err == nil {
				out = append(out, f.Event)
			}
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func TestMessageFanoutReachesRoomsOnce(t *testing.T) {
	s := newTestServer(t)
	sender := connect(t, s, "u1", ConvRoom("c1"))
	recipient := connect(t, s, "u2")
	other := connect(t, s, "u3")

	s.HandleEvent(context.Background(), event(t, eventbus.ChannelMessageNew, service.NewMessageEvent{
		ConversationID:       "c1",
		Message:              model.MessageView{ID: "m1", ConversationID: "c1", Content: "hi"},
		Participants:         []string{"u1", "u2"},
		RecipientID:          "u2",
		RecipientUnreadTotal: 3,
	}))

	assert.Equal(t, []string{EventMessageNew}, drain(sender))
	assert.Equal(t, []string{EventMessageNew, EventUnreadTotal}, drain(recipient))
	assert.Empty(t, drain(other))
}

func TestTypingSkipsTypist(t *testing.T) {
	s := newTestServer(t)
	typist := connect(t, s, "u1", ConvRoom("c1"))
	peer := connect(t, s, "u2", ConvRoom("c1"))

	s.HandleEvent(context.Background(), event(t, eventbus.ChannelTypingStart, service.TypingEvent{
		ConversationID: "c1", UserID: "u1", User: &service.TypingUser{FirstName: "Ana"},
	}))
	s.HandleEvent(context.Background(), event(t, eventbus.ChannelTypingStop, service.TypingEvent{ConversationID: "c1", UserID: "u1"}))

	assert.Empty(t, drain(typist))
	assert.Equal(t, []string{EventTypingStart, EventTypingStop}, drain(peer))
}

func TestPresenceBroadcastAndRead(t *testing.T) {
	s := newTestServer(t)
	a := connect(t, s, "u1", ConvRoom("c1"))
	b := connect(t, s, "u2")

	s.HandleEvent(context.Background(), event(t, eventbus.ChannelUserOnline, service.PresenceEvent{UserID: "u1"}))
	assert.Empty(t, drain(a))
	assert.Equal(t, []string{EventUserOnline}, drain(b))

	s.HandleEvent(context.Background(), event(t, eventbus.ChannelMessageRead, service.ReadEvent{
		ConversationID: "c1", UserID: "u2", Participants: []string{"u1", "u2"}, Marked: 1,
	}))
	assert.Equal(t, []string{EventRead}, drain(a))
	assert.Equal(t, []string{EventRead, EventUnreadTotal}, drain(b))
}

func TestMalformedBusEventIsDropped(t *testing.T) {
	s := newTestServer(t)
	w := connect(t, s, "u1")
	s.HandleEvent(context.Background(), eventbus.Event{
		Channel:  eventbus.ChannelUserOnline,
		Envelope: eventbus.Envelope{Data: json.RawMessage(`"nope"`)},
	})
	assert.Empty(t, drain(w))
}
