package storage

import (
	"context"
	"encoding/json"

	"PChatGate/logger"
	"PChatGate/module/chat/model"
	"PChatGate/tools/errs"

	"go.uber.org/zap"
)

// 会话最近消息：LIST，头部最新。只有 FillMessages 建窗口，LPUSHX + LTRIM 保持滚动
// 追加不续期，窗口最多比库旧一个 MessagesTTL

// PushMessage prepends one projection to an existing window and trims it to
// MessagesMax. A missing window stays missing until FillMessages rebuilds it.
func (c *Cache) PushMessage(ctx context.Context, v model.MessageView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errs.WrapMsg(err, "marshal message view")
	}
	key := messagesKey(v.ConversationID)
	pipe := c.rdb.TxPipeline()
	pipe.LPushX(ctx, key, b)
	pipe.LTrim(ctx, key, 0, int64(c.conf.MessagesMax-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Transient(err, "cache message", "conversationId", v.ConversationID)
	}
	return nil
}

// RecentMessages returns up to n cached entries in chronological order.
// An empty result means a cache miss.
func (c *Cache) RecentMessages(ctx context.Context, convID string, n int) ([]model.MessageView, error) {
	if n <= 0 || n > c.conf.MessagesMax {
		n = c.conf.MessagesMax
	}
	raw, err := c.rdb.LRange(ctx, messagesKey(convID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, errs.Transient(err, "read message cache", "conversationId", convID)
	}
	out := make([]model.MessageView, 0, len(raw))
	// 存储是倒序，反转成时间正序
	for i := len(raw) - 1; i >= 0; i-- {
		var v model.MessageView
		if err := json.Unmarshal([]byte(raw[i]), &v); err != nil {
			logger.Warn("drop corrupt message cache", zap.String("conversationId", convID), zap.Error(err))
			_ = c.DropMessages(ctx, convID)
			return nil, nil
		}
		out = append(out, v)
	}
	return out, nil
}

// FillMessages replaces the cached list with a page fetched from the store (newest first).
func (c *Cache) FillMessages(ctx context.Context, convID string, newestFirst []model.MessageView) error {
	if len(newestFirst) == 0 {
		return nil
	}
	if len(newestFirst) > c.conf.MessagesMax {
		newestFirst = newestFirst[:c.conf.MessagesMax]
	}
	vals := make([]any, 0, len(newestFirst))
	for _, v := range newestFirst {
		b, err := json.Marshal(v)
		if err != nil {
			return errs.WrapMsg(err, "marshal message view")
		}
		vals = append(vals, b)
	}
	key := messagesKey(convID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.RPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, 0, int64(c.conf.MessagesMax-1))
	pipe.Expire(ctx, key, c.conf.MessagesTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Transient(err, "fill message cache", "conversationId", convID)
	}
	return nil
}

func (c *Cache) DropMessages(ctx context.Context, convID string) error {
	if err := c.rdb.Del(ctx, messagesKey(convID)).Err(); err != nil {
		return errs.Transient(err, "drop message cache", "conversationId", convID)
	}
	return nil
}
