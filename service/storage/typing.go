package storage

import (
	"context"
	"strings"

	"PChatGate/tools/errs"
)

// SetTyping (re)asserts the marker; it disappears on its own after TypingTTL.
func (c *Cache) SetTyping(ctx context.Context, convID, userID string) error {
	if err := c.rdb.Set(ctx, typingKey(convID, userID), "1", c.conf.TypingTTL).Err(); err != nil {
		return errs.Transient(err, "set typing", "conversationId", convID)
	}
	return nil
}

// ClearTyping 返回标记此前是否存在
func (c *Cache) ClearTyping(ctx context.Context, convID, userID string) (bool, error) {
	n, err := c.rdb.Del(ctx, typingKey(convID, userID)).Result()
	if err != nil {
		return false, errs.Transient(err, "clear typing", "conversationId", convID)
	}
	return n > 0, nil
}

func (c *Cache) IsTyping(ctx context.Context, convID, userID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, typingKey(convID, userID)).Result()
	if err != nil {
		return false, errs.Transient(err, "get typing", "conversationId", convID)
	}
	return n > 0, nil
}

// TypingUsers scans the live markers of a conversation.
func (c *Cache) TypingUsers(ctx context.Context, convID string) ([]string, error) {
	prefix := strings.TrimSuffix(typingPattern(convID), "*")
	var out []string
	iter := c.rdb.Scan(ctx, 0, typingPattern(convID), 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errs.Transient(err, "scan typing", "conversationId", convID)
	}
	return out, nil
}
