package eventbus

import (
	"context"
	"errors"
	"sync"

	"PChatGate/tools/errs"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// Message 驱动层的原始投递
type Message struct {
	Channel Channel
	Payload []byte
}

// Subscription delivers messages in per-channel publish order. C is closed
// when the subscription breaks or is closed; Err then reports why.
type Subscription interface {
	C() <-chan Message
	Err() error
	Close() error
}

// Driver is one pub/sub transport.
type Driver interface {
	Name() string
	Publish(ctx context.Context, ch Channel, payload []byte, id string) error
	// Subscribe returns once the transport confirmed the subscription.
	Subscribe(ctx context.Context, chs []Channel) (Subscription, error)
	Close() error
}

// Publisher is what the chat service needs from the bus.
type Publisher interface {
	Publish(ctx context.Context, ch Channel, data any) error
}

// Bus wraps a driver with the envelope codec.
type Bus struct {
	driver Driver
	origin string
}

func New(driver Driver, origin string) *Bus {
	return &Bus{driver: driver, origin: origin}
}

func (b *Bus) Driver() string { return b.driver.Name() }

func (b *Bus) Publish(ctx context.Context, ch Channel, data any) error {
	env, payload, err := encode(b.origin, data)
	if err != nil {
		return err
	}
	if err := b.driver.Publish(ctx, ch, payload, env.ID); err != nil {
		return errs.Transient(err, "bus publish", "channel", string(ch), "driver", b.driver.Name())
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, chs []Channel) (Subscription, error) {
	sub, err := b.driver.Subscribe(ctx, chs)
	if err != nil {
		return nil, errs.Transient(err, "bus subscribe", "driver", b.driver.Name())
	}
	return sub, nil
}

func (b *Bus) Close() error {
	return b.driver.Close()
}

// chanSub 通用的订阅实现：一个缓冲 channel + 一次性结束
type chanSub struct {
	ch      chan Message
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	err     error
	onClose func() error
}

func newChanSub(buf int, onClose func() error) *chanSub {
	if buf <= 0 {
		buf = 1024
	}
	return &chanSub{
		ch:      make(chan Message, buf),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *chanSub) C() <-chan Message { return s.ch }

func (s *chanSub) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// push 满了就阻塞（背压），订阅结束时放弃
func (s *chanSub) push(m Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- m:
		return true
	case <-s.done:
		return false
	}
}

func (s *chanSub) finish(err error) {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.err = err
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *chanSub) Close() error {
	s.finish(ErrSubscriptionClosed)
	if s.onClose != nil {
		return s.onClose()
	}
	return nil
}
