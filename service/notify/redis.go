package notify

import (
	"context"

	"PChatGate/tools/errs"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes on the notification channel.
type RedisNotifier struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisNotifier(rdb redis.UniversalClient, channel string) *RedisNotifier {
	if channel == "" {
		channel = Channel
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (r *RedisNotifier) NotifyMessage(ctx context.Context, n MessageNotification) error {
	b, err := marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "marshal notification")
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		return errs.Transient(err, "publish notification", "channel", r.channel)
	}
	return nil
}

func (r *RedisNotifier) Close() error { return nil }
