package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"PChatGate/logger"
	"PChatGate/module/chat/service"
	"PChatGate/service/eventbus"
	"PChatGate/tools/security"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	NodeID          string
	JWT             security.Options
	AllowedOrigins  []string
	SendQueue       int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
	TouchEvery      time.Duration // 刷新缓存映射 TTL 的最小间隔
	HandlerTimeout  time.Duration
	FanoutWorkers   int
}

func (c *Config) setDefaults() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = c.PingInterval * 2
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.TouchEvery <= 0 {
		c.TouchEvery = time.Minute
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Second
	}
}

// Server is one gateway instance: it terminates client websockets and re-emits
// bus events to the connections it holds.
type Server struct {
	conf     Config
	chat     *service.ChatService
	connMgr  *ConnManager
	registry *SessionRegistry
	disp     *Dispatcher
	fanout   *Fanout
	upgrader websocket.Upgrader
	log      *zap.Logger

	sessions sync.WaitGroup
}

func NewServer(conf Config, chat *service.ChatService, presence Presence, bus eventbus.Publisher) *Server {
	conf.setDefaults()
	log := logger.With(zap.String("component", "gateway"), zap.String("node", conf.NodeID))
	conns := NewConnManager(ManagerConf{IdleTTL: conf.PongTimeout, SendQueue: conf.SendQueue})
	s := &Server{
		conf:     conf,
		chat:     chat,
		connMgr:  conns,
		registry: NewSessionRegistry(conf.JWT, presence, bus, conns, log),
		disp:     NewDispatcher(),
		fanout:   NewFanout(conf.FanoutWorkers, 0),
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) ConnMgr() *ConnManager      { return s.connMgr }
func (s *Server) Disp() *Dispatcher          { return s.disp }
func (s *Server) Chat() *service.ChatService { return s.chat }

// Close drops every connection, waits for their disconnect paths and stops fanout.
func (s *Server) Close() {
	s.connMgr.Close()
	s.sessions.Wait()
	s.fanout.Close()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.conf.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.conf.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// sendTo encodes once and queues the frame on each connection directly.
func (s *Server) sendTo(conns []*WsConn, event string, data any) {
	if len(conns) == 0 {
		return
	}
	frame, err := EncodeFrame(event, data)
	if err != nil {
		s.log.Error("encode frame failed", zap.String("event", event), zap.Error(err))
		return
	}
	for _, c := range conns {
		c.enqueue(frame)
	}
}

// broadcast hands the frame to the fanout worker owning key.
func (s *Server) broadcast(key string, conns []*WsConn, event string, data any) {
	if len(conns) == 0 {
		return
	}
	frame, err := EncodeFrame(event, data)
	if err != nil {
		s.log.Error("encode frame failed", zap.String("event", event), zap.Error(err))
		return
	}
	s.fanout.Broadcast(key, conns, frame)
}

// HandleEvent is the bus subscriber's handler. It only touches local
// connections; no matching connection is a no-op.
func (s *Server) HandleEvent(_ context.Context, ev eventbus.Event) {
	switch ev.Channel {
	case eventbus.ChannelMessageNew:
		var e service.NewMessageEvent
		if s.bind(ev, &e) {
			rooms := append([]string{ConvRoom(e.ConversationID)}, userRooms(e.Participants)...)
			s.broadcast(e.ConversationID, s.connMgr.Members(rooms, ""), EventMessageNew,
				MessageNewFrame{ConversationID: e.ConversationID, Message: e.Message})
			s.broadcast(e.ConversationID, s.connMgr.Members([]string{UserRoom(e.RecipientID)}, ""), EventUnreadTotal,
				CountFrame{Count: e.RecipientUnreadTotal})
		}
	case eventbus.ChannelTypingStart, eventbus.ChannelTypingStop:
		var e service.TypingEvent
		if s.bind(ev, &e) {
			event := EventTypingStart
			if ev.Channel == eventbus.ChannelTypingStop {
				event = EventTypingStop
			}
			f := TypingFrame{ConversationID: e.ConversationID, UserID: e.UserID}
			if e.User != nil {
				f.User = e.User
			}
			s.broadcast(e.ConversationID, s.connMgr.Members([]string{ConvRoom(e.ConversationID)}, e.UserID), event, f)
		}
	case eventbus.ChannelUserOnline, eventbus.ChannelUserOffline:
		var e service.PresenceEvent
		if s.bind(ev, &e) {
			event := EventUserOnline
			if ev.Channel == eventbus.ChannelUserOffline {
				event = EventUserOffline
			}
			s.broadcast(e.UserID, s.connMgr.All(e.UserID), event, UserFrame{UserID: e.UserID})
		}
	case eventbus.ChannelMessageRead:
		var e service.ReadEvent
		if s.bind(ev, &e) {
			rooms := append([]string{ConvRoom(e.ConversationID)}, userRooms(e.Participants)...)
			s.broadcast(e.ConversationID, s.connMgr.Members(rooms, ""), EventRead,
				ReadFrame{ConversationID: e.ConversationID, UserID: e.UserID})
			s.broadcast(e.ConversationID, s.connMgr.Members([]string{UserRoom(e.UserID)}, ""), EventUnreadTotal,
				CountFrame{Count: e.UnreadTotal})
		}
	default:
		s.log.Debug("ignore bus event", zap.String("channel", string(ev.Channel)))
	}
}

func (s *Server) bind(ev eventbus.Event, v any) bool {
	if err := ev.Bind(v); err != nil {
		s.log.Warn("drop malformed bus event", zap.String("channel", string(ev.Channel)), zap.String("id", ev.ID), zap.Error(err))
		return false
	}
	return true
}

func userRooms(users []string) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, UserRoom(u))
	}
	return out
}
