package eventbus

import (
	"context"
	"strings"
	"sync"
	"time"

	"PChatGate/logger"
	"PChatGate/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsConfig 客户端配置
type NatsConfig struct {
	Servers       []string
	Name          string
	User          string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
	Buffer        int
}

// NatsDriver publishes on core NATS subjects named after the channels.
// The client reconnects and resubscribes on its own; disconnect gaps are logged.
type NatsDriver struct {
	nc  *nats.Conn
	buf int

	mu     sync.Mutex
	subs   map[*chanSub]struct{}
	downAt time.Time
}

func NewNatsDriver(cfg NatsConfig) (*NatsDriver, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	d := &NatsDriver{buf: cfg.Buffer, subs: make(map[*chanSub]struct{})}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(d.onDisconnect),
		nats.ReconnectHandler(d.onReconnect),
		nats.ClosedHandler(d.onClosed),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.Transient(err, "nats connect")
	}
	d.nc = nc
	return d, nil
}

func (d *NatsDriver) Name() string { return "nats" }

func (d *NatsDriver) Publish(ctx context.Context, ch Channel, payload []byte, id string) error {
	msg := &nats.Msg{Subject: string(ch), Data: payload, Header: nats.Header{}}
	if id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	return d.nc.PublishMsg(msg)
}

func (d *NatsDriver) Subscribe(ctx context.Context, chs []Channel) (Subscription, error) {
	var (
		subs []*nats.Subscription
		cs   *chanSub
	)
	unsubscribe := func() error {
		d.mu.Lock()
		delete(d.subs, cs)
		d.mu.Unlock()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		return nil
	}
	cs = newChanSub(d.buf, unsubscribe)

	// 每个 subject 的回调串行执行，保证单频道内有序
	for _, c := range chs {
		s, err := d.nc.Subscribe(string(c), func(m *nats.Msg) {
			cs.push(Message{Channel: Channel(m.Subject), Payload: append([]byte(nil), m.Data...)})
		})
		if err != nil {
			_ = cs.Close()
			return nil, err
		}
		_ = s.SetPendingLimits(1_000_000, 64*1024*1024)
		subs = append(subs, s)
	}
	fctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := d.nc.FlushWithContext(fctx)
	cancel()
	if err != nil {
		_ = cs.Close()
		return nil, err
	}
	d.mu.Lock()
	d.subs[cs] = struct{}{}
	d.mu.Unlock()
	return cs, nil
}

func (d *NatsDriver) onDisconnect(_ *nats.Conn, err error) {
	d.mu.Lock()
	d.downAt = time.Now()
	d.mu.Unlock()
	logger.Warn("nats disconnected", zap.Error(err))
}

func (d *NatsDriver) onReconnect(nc *nats.Conn) {
	d.mu.Lock()
	gap := time.Since(d.downAt)
	d.mu.Unlock()
	logger.Warn("nats reconnected", zap.String("url", nc.ConnectedUrl()), zap.Duration("gap", gap))
}

// onClosed 连接彻底关闭：结束所有订阅，交给上层重建
func (d *NatsDriver) onClosed(_ *nats.Conn) {
	d.mu.Lock()
	victims := make([]*chanSub, 0, len(d.subs))
	for s := range d.subs {
		victims = append(victims, s)
	}
	d.subs = make(map[*chanSub]struct{})
	d.mu.Unlock()
	for _, s := range victims {
		s.finish(nats.ErrConnectionClosed)
	}
}

func (d *NatsDriver) Close() error {
	if err := d.nc.Drain(); err != nil {
		d.nc.Close()
	}
	return nil
}
