package storage

import (
	"context"
	"errors"
	"strconv"

	"PChatGate/tools/errs"

	"github.com/redis/go-redis/v9"
)

// 清零单会话未读，并从总数里减去恰好被清掉的值
// KEYS[1]=unread:<uid>:<conv> KEYS[2]=unread:<uid>:total
// 返回：{被清掉的值, 清零后的总数}
const luaResetUnread = `
local n = tonumber(redis.call("GET", KEYS[1]) or "0") or 0
redis.call("DEL", KEYS[1])
local total = tonumber(redis.call("GET", KEYS[2]) or "0") or 0
if n > 0 then
  total = redis.call("DECRBY", KEYS[2], n)
end
if total < 0 then
  redis.call("SET", KEYS[2], 0)
  total = 0
end
return {n, total}
`

// IncrUnread counts one more unread message for (user, conversation) and returns the user's new total.
func (c *Cache) IncrUnread(ctx context.Context, userID, convID string) (int64, error) {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, unreadKey(userID, convID))
	total := pipe.Incr(ctx, unreadTotalKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errs.Transient(err, "incr unread", "userId", userID, "conversationId", convID)
	}
	return total.Val(), nil
}

// ResetUnread zeroes one conversation and returns the amount cleared and the new total.
func (c *Cache) ResetUnread(ctx context.Context, userID, convID string) (cleared, total int64, err error) {
	res, err := c.luaResetUnread.Run(ctx, c.rdb, []string{unreadKey(userID, convID), unreadTotalKey(userID)}).Int64Slice()
	if err != nil {
		return 0, 0, errs.Transient(err, "reset unread", "userId", userID, "conversationId", convID)
	}
	if len(res) != 2 {
		return 0, 0, errs.ErrInternal.WrapMsg("reset unread: unexpected reply", "len", len(res))
	}
	return res[0], res[1], nil
}

// Unread returns the cached counter; ok is false when the key is absent.
func (c *Cache) Unread(ctx context.Context, userID, convID string) (n int64, ok bool, err error) {
	n, err = c.rdb.Get(ctx, unreadKey(userID, convID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.Transient(err, "get unread", "userId", userID, "conversationId", convID)
	}
	return n, true, nil
}

func (c *Cache) TotalUnread(ctx context.Context, userID string) (int64, error) {
	n, err := c.rdb.Get(ctx, unreadTotalKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Transient(err, "get unread total", "userId", userID)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// UnreadMany reads several conversation counters in one MGET; absent keys are left out.
func (c *Cache) UnreadMany(ctx context.Context, userID string, convIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(convIDs))
	if len(convIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(convIDs))
	for i, id := range convIDs {
		keys[i] = unreadKey(userID, id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errs.Transient(err, "mget unread", "userId", userID)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out[convIDs[i]] = n
	}
	return out, nil
}
