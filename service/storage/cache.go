package storage

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Config 缓存与在线状态的过期策略
type Config struct {
	NodeID      string        // 写入 presence:<uid>，便于排查用户落在哪个实例
	SessionTTL  time.Duration // socket 映射过期，心跳续期
	TypingTTL   time.Duration // 输入中标记
	MessagesTTL time.Duration // 最近消息缓存
	MessagesMax int           // 最近消息条数上限
}

func (c *Config) setDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 5 * time.Second
	}
	if c.MessagesTTL <= 0 {
		c.MessagesTTL = time.Hour
	}
	if c.MessagesMax <= 0 {
		c.MessagesMax = 50
	}
}

// Cache is the shared fast-path state of every gateway instance. All counters
// and presence edges are single Redis commands or Lua scripts.
type Cache struct {
	rdb  redis.UniversalClient
	conf Config
	now  func() time.Time

	luaConnect     *redis.Script
	luaDisconnect  *redis.Script
	luaTouch       *redis.Script
	luaFilter      *redis.Script
	luaResetUnread *redis.Script
}

func NewCache(rdb redis.UniversalClient, conf Config) *Cache {
	conf.setDefaults()
	return &Cache{
		rdb:            rdb,
		conf:           conf,
		now:            time.Now,
		luaConnect:     redis.NewScript(luaConnect),
		luaDisconnect:  redis.NewScript(luaDisconnect),
		luaTouch:       redis.NewScript(luaTouch),
		luaFilter:      redis.NewScript(luaFilterOnline),
		luaResetUnread: redis.NewScript(luaResetUnread),
	}
}

func (c *Cache) Config() Config { return c.conf }

// ===== Key 构造 =====

const onlineUsersKey = "online:users"

func userSocketsKey(userID string) string       { return "socket:user:" + userID }
func socketKey(connID string) string            { return "socket:id:" + connID }
func presenceConnsKey(userID string) string     { return "presence:conns:" + userID }
func presenceKey(userID string) string          { return "presence:" + userID }
func typingKey(convID, userID string) string    { return "typing:" + convID + ":" + userID }
func typingPattern(convID string) string        { return "typing:" + convID + ":*" }
func messagesKey(convID string) string          { return "messages:" + convID }
func unreadKey(userID, convID string) string    { return "unread:" + userID + ":" + convID }
func unreadTotalKey(userID string) string       { return "unread:" + userID + ":total" }
