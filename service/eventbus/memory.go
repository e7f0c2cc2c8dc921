package eventbus

import (
	"context"
	"errors"
	"sync"
)

// MemoryDriver 进程内总线，单实例部署和测试用
type MemoryDriver struct {
	mu     sync.RWMutex
	subs   map[*chanSub]map[Channel]struct{}
	buf    int
	closed bool
}

func NewMemoryDriver(buf int) *MemoryDriver {
	return &MemoryDriver{subs: make(map[*chanSub]map[Channel]struct{}), buf: buf}
}

func (d *MemoryDriver) Name() string { return "memory" }

func (d *MemoryDriver) Publish(ctx context.Context, ch Channel, payload []byte, _ string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("memory bus closed")
	}
	for s, chs := range d.subs {
		if _, ok := chs[ch]; !ok {
			continue
		}
		s.push(Message{Channel: ch, Payload: append([]byte(nil), payload...)})
	}
	return nil
}

func (d *MemoryDriver) Subscribe(ctx context.Context, chs []Channel) (Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("memory bus closed")
	}
	set := make(map[Channel]struct{}, len(chs))
	for _, c := range chs {
		set[c] = struct{}{}
	}
	var s *chanSub
	s = newChanSub(d.buf, func() error {
		d.mu.Lock()
		delete(d.subs, s)
		d.mu.Unlock()
		return nil
	})
	d.subs[s] = set
	return s, nil
}

// Break ends every live subscription with err, as a transport drop would.
func (d *MemoryDriver) Break(err error) {
	d.mu.Lock()
	victims := make([]*chanSub, 0, len(d.subs))
	for s := range d.subs {
		victims = append(victims, s)
		delete(d.subs, s)
	}
	d.mu.Unlock()
	for _, s := range victims {
		s.finish(err)
	}
}

func (d *MemoryDriver) Close() error {
	d.Break(ErrSubscriptionClosed)
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
