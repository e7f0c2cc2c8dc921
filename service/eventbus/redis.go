package eventbus

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisDriver uses Redis Pub/Sub. Per-channel order is the server's publish order.
type RedisDriver struct {
	rdb redis.UniversalClient
	buf int
}

func NewRedisDriver(rdb redis.UniversalClient, buf int) *RedisDriver {
	return &RedisDriver{rdb: rdb, buf: buf}
}

func (d *RedisDriver) Name() string { return "redis" }

func (d *RedisDriver) Publish(ctx context.Context, ch Channel, payload []byte, _ string) error {
	return d.rdb.Publish(ctx, string(ch), payload).Err()
}

func (d *RedisDriver) Subscribe(ctx context.Context, chs []Channel) (Subscription, error) {
	names := make([]string, len(chs))
	for i, c := range chs {
		names[i] = string(c)
	}
	ps := d.rdb.Subscribe(ctx, names...)
	// 等服务端确认订阅
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := newChanSub(d.buf, ps.Close)
	go func() {
		for {
			m, err := ps.ReceiveMessage(ctx)
			if err != nil {
				sub.finish(err)
				return
			}
			if !sub.push(Message{Channel: Channel(m.Channel), Payload: []byte(m.Payload)}) {
				return
			}
		}
	}()
	return sub, nil
}

// Close is a no-op; the redis client is shared and closed by its owner.
func (d *RedisDriver) Close() error { return nil }
