package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"PChatGate/logger"
	"PChatGate/tools/backoff"
	"PChatGate/tools/safe"

	"go.uber.org/zap"
)

type State int32

const (
	StateIdle State = iota
	StateSubscribed
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Handler consumes one event; it runs on the subscriber goroutine.
type Handler func(ctx context.Context, ev Event)

type SupervisorConfig struct {
	Channels   []Channel
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Supervisor owns the instance's single long-lived subscription: it
// resubscribes with backoff whenever the transport drops and logs the gap.
type Supervisor struct {
	bus     *Bus
	handler Handler
	conf    SupervisorConfig
	log     *zap.Logger

	state     atomic.Int32
	gaps      atomic.Int64
	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	watches []func(State)
}

func NewSupervisor(bus *Bus, h Handler, conf SupervisorConfig) *Supervisor {
	if len(conf.Channels) == 0 {
		conf.Channels = AllChannels()
	}
	if conf.MinBackoff <= 0 {
		conf.MinBackoff = 200 * time.Millisecond
	}
	if conf.MaxBackoff < conf.MinBackoff {
		conf.MaxBackoff = 5 * time.Second
	}
	return &Supervisor{
		bus:     bus,
		handler: h,
		conf:    conf,
		log:     logger.With(zap.String("component", "bus-subscriber"), zap.String("driver", bus.Driver())),
		ready:   make(chan struct{}),
	}
}

// Watch registers a callback for state transitions. Call before Run.
func (s *Supervisor) Watch(f func(State)) {
	s.mu.Lock()
	s.watches = append(s.watches, f)
	s.mu.Unlock()
}

// Ready is closed after the first successful subscription.
func (s *Supervisor) Ready() <-chan struct{} { return s.ready }

func (s *Supervisor) State() State  { return State(s.state.Load()) }
func (s *Supervisor) Healthy() bool { return s.State() == StateSubscribed }
func (s *Supervisor) Gaps() int64   { return s.gaps.Load() }

func (s *Supervisor) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.mu.Lock()
	ws := append([]func(State){}, s.watches...)
	s.mu.Unlock()
	for _, f := range ws {
		f(st)
	}
}

// Run blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateStopped)
	var (
		attempt int
		lostAt  time.Time
	)
	for {
		sub, err := s.bus.Subscribe(ctx, s.conf.Channels)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("bus subscribe failed", zap.Int("attempt", attempt), zap.Error(err))
			s.setState(StateReconnecting)
			if !backoff.Sleep(ctx, backoff.Exponential(attempt, s.conf.MinBackoff, s.conf.MaxBackoff)) {
				return nil
			}
			attempt++
			continue
		}

		attempt = 0
		if !lostAt.IsZero() {
			s.gaps.Add(1)
			s.log.Warn("bus resubscribed", zap.Duration("gap", time.Since(lostAt)))
		} else {
			s.log.Info("bus subscribed", zap.Int("channels", len(s.conf.Channels)))
		}
		s.setState(StateSubscribed)
		s.readyOnce.Do(func() { close(s.ready) })

		s.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		lostAt = time.Now()
		s.log.Warn("bus subscription lost", zap.Error(sub.Err()))
		s.setState(StateReconnecting)
	}
}

func (s *Supervisor) consume(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.C():
			if !ok {
				return
			}
			ev, err := decode(m)
			if err != nil {
				s.log.Warn("drop undecodable event", zap.Error(err))
				continue
			}
			s.dispatch(ctx, ev)
		}
	}
}

func (s *Supervisor) dispatch(ctx context.Context, ev Event) {
	defer safe.Recover("bus:" + string(ev.Channel))
	s.handler(ctx, ev)
}
