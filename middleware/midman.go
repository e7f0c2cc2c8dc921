package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// 全局单例
var (
	globalMgr *MiddlewareManager
	once      sync.Once
)

type namedHandler struct {
	name string
	h    gin.HandlerFunc
}

// MiddlewareManager 按注册顺序执行全局中间件，可在运行时增删
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []namedHandler
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Manager 惰性初始化的全局实例
func Manager() *MiddlewareManager {
	once.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}

// Add 注册一个中间件；同名替换
func (m *MiddlewareManager) Add(name string, h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mids {
		if m.mids[i].name == name {
			m.mids[i].h = h
			return
		}
	}
	m.mids = append(m.mids, namedHandler{name: name, h: h})
}

func (m *MiddlewareManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.mids[:0]
	for _, nh := range m.mids {
		if nh.name != name {
			out = append(out, nh)
		}
	}
	m.mids = out
}

func (m *MiddlewareManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.mids))
	for _, nh := range m.mids {
		out = append(out, nh.name)
	}
	return out
}

// Use 返回总控 handler，挂到 Engine 上。
// 每个中间件只负责前置逻辑，c.Next() 由总控统一调用。
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]namedHandler(nil), m.mids...) // 快照
		m.mu.RUnlock()

		for _, nh := range handlers {
			nh.h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
