package service

import (
	"context"
	"sync"
	"time"

	"PChatGate/logger"
	"PChatGate/module/chat/model"
	"PChatGate/module/chat/store"
	"PChatGate/service/eventbus"
	"PChatGate/service/notify"

	"go.uber.org/zap"
)

// Cache is the slice of the shared cache the chat service uses.
type Cache interface {
	IncrUnread(ctx context.Context, userID, convID string) (int64, error)
	ResetUnread(ctx context.Context, userID, convID string) (cleared, total int64, err error)
	UnreadMany(ctx context.Context, userID string, convIDs []string) (map[string]int64, error)
	TotalUnread(ctx context.Context, userID string) (int64, error)

	PushMessage(ctx context.Context, v model.MessageView) error
	RecentMessages(ctx context.Context, convID string, n int) ([]model.MessageView, error)
	FillMessages(ctx context.Context, convID string, newestFirst []model.MessageView) error
	DropMessages(ctx context.Context, convID string) error

	SetTyping(ctx context.Context, convID, userID string) error
	ClearTyping(ctx context.Context, convID, userID string) (bool, error)
	TypingUsers(ctx context.Context, convID string) ([]string, error)

	FilterOnline(ctx context.Context, userIDs []string) ([]string, error)
}

type Config struct {
	PreviewRunes      int           // 通知预览长度
	CacheMax          int           // 最近消息缓存条数，首屏 limit 不超过它才走缓存
	BestEffortTimeout time.Duration // 落库之后的尽力而为步骤
}

func (c *Config) setDefaults() {
	if c.PreviewRunes <= 0 {
		c.PreviewRunes = notify.PreviewRunes
	}
	if c.CacheMax <= 0 {
		c.CacheMax = 50
	}
	if c.BestEffortTimeout <= 0 {
		c.BestEffortTimeout = 3 * time.Second
	}
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	MinSearchRunes  = 2
)

// ChatService implements the chat operations shared by the websocket gateway and the REST surface.
type ChatService struct {
	store    store.Store
	cache    Cache
	bus      eventbus.Publisher
	notifier notify.Notifier
	conf     Config
	now      func() time.Time
	log      *zap.Logger

	pending sync.WaitGroup // 异步通知
}

func New(st store.Store, cache Cache, bus eventbus.Publisher, n notify.Notifier, conf Config) *ChatService {
	conf.setDefaults()
	if n == nil {
		n = notify.Noop{}
	}
	return &ChatService{
		store:    st,
		cache:    cache,
		bus:      bus,
		notifier: n,
		conf:     conf,
		now:      time.Now,
		log:      logger.With(zap.String("component", "chat")),
	}
}

// Close waits for in-flight notifications.
func (s *ChatService) Close() {
	s.pending.Wait()
}

// detached 落库后的步骤不随请求取消
func (s *ChatService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.conf.BestEffortTimeout)
}

func (s *ChatService) publish(ctx context.Context, ch eventbus.Channel, data any, convID string) {
	if err := s.bus.Publish(ctx, ch, data); err != nil {
		s.log.Warn("publish failed", zap.String("channel", string(ch)), zap.String("conversationId", convID), zap.Error(err))
	}
}
