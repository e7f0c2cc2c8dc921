package mgo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"PChatGate/data/database/mgo/mongoutil"
	"PChatGate/logger"
	"PChatGate/tools/backoff"
	"PChatGate/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second // 健康检查周期
	failThresh  = 3                // 连续失败阈值
)

// Manager keeps one Mongo client alive: connect with backoff, ping periodically,
// reconnect after repeated failures.
type Manager struct {
	cfg *mongoutil.Config

	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
	// OnConnect 每次（重）连成功后回调，用于建索引
	OnConnect func(ctx context.Context, db *mongo.Database) error
}

func NewManager(cfg *mongoutil.Config) *Manager {
	return &Manager{cfg: cfg, readyCh: make(chan struct{})}
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func (m *Manager) StartAsync(ctx context.Context) {
	go func() {
		for {
			if !m.connect(ctx) {
				return
			}
			if !m.watch(ctx) {
				return
			}
		}
	}()
}

// connect 带退避重试，直到成功或 ctx 结束
func (m *Manager) connect(ctx context.Context) bool {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		cli, err := mongoutil.NewMongoDB(ctx, m.cfg)
		if err == nil && m.OnConnect != nil {
			if err = m.OnConnect(ctx, cli.GetDB()); err != nil {
				_ = cli.Disconnect(context.Background())
			}
		}
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			logger.Info("mongo connected", zap.String("database", m.cfg.Database))
			m.readyOnce.Do(func() { close(m.readyCh) })
			return true
		}

		m.lastErr.Store(err)
		logger.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		if !backoff.Sleep(ctx, backoff.Exponential(attempt, baseBackoff, maxBackoff)) {
			return false
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// watch 健康检查；返回 false 表示 ctx 结束
func (m *Manager) watch(ctx context.Context) bool {
	fail := 0
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.Ping(pctx)
			cancel()
			if err == nil {
				fail = 0
				continue
			}
			fail++
			m.lastErr.Store(err)
			logger.Warn("mongo ping failed", zap.Int("fail", fail), zap.Error(err))
			if fail >= failThresh {
				m.drop()
				return true
			}
		}
	}
}

func (m *Manager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// Ready 首次连接成功时会 close；可 select 等待
func (m *Manager) Ready() <-chan struct{} {
	return m.readyCh
}

// Err 最近一次错误
func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Database returns the live database handle or a Transient error while reconnecting.
func (m *Manager) Database() (*mongo.Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, errs.ErrTransient.WrapMsg("mongo not connected")
	}
	return m.client.GetDB(), nil
}

func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return errs.Transient(ctx.Err(), "wait mongo ready")
	}
}
