package chat

import (
	"sync"
	"time"

	"PChatGate/logger"
	"PChatGate/tools/errs"
	"PChatGate/tools/ids"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userRoomPrefix = "u:"
	convRoomPrefix = "c:"
)

// UserRoom 用户私有房间：该用户在本实例上的全部连接
func UserRoom(userID string) string { return userRoomPrefix + userID }

// ConvRoom 会话房间：加入了该会话的连接
func ConvRoom(convID string) string { return convRoomPrefix + convID }

type ManagerConf struct {
	IdleTTL    time.Duration    // 无心跳多久视为失联
	SweepEvery time.Duration    // 清理周期
	SendQueue  int              // 每连接发送队列
	Clock      func() time.Time // 单测注入
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 60 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
}

// ConnManager is the in-process half of the session registry: connections by
// id, by user and by room. It is owned by one Server; there is no global table.
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*WsConn            // connID -> conn
	byUser map[string]map[string]*WsConn // userID -> connID -> conn
	rooms  map[string]map[string]*WsConn // room -> connID -> conn

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySnow: make(map[string]*WsConn),
		byUser: make(map[string]map[string]*WsConn),
		rooms:  make(map[string]map[string]*WsConn),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

// Close 关闭全部连接并停止清理协程
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	all := make([]*WsConn, 0, len(m.bySnow))
	for _, w := range m.bySnow {
		all = append(all, w)
	}
	m.mu.Unlock()
	for _, w := range all {
		w.Close()
	}
}

// NewConn allocates a session with a fresh snowflake id; it is not yet indexed.
func (m *ConnManager) NewConn(userID string, ws *websocket.Conn) *WsConn {
	w := newWsConn(ids.GenerateString(), userID, ws, m.conf.SendQueue, m.conf.Clock())
	w.expireAt = w.CreatedAt.Add(m.conf.IdleTTL)
	return w
}

// Add indexes an authenticated connection and joins it to its user room.
func (m *ConnManager) Add(w *WsConn) error {
	if w == nil || w.ConnID == "" || w.UserID == "" {
		return errs.ErrInvalidInput.WrapMsg("connection id and user required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySnow[w.ConnID]; exists {
		return errs.ErrInternal.WrapMsg("connection id exists", "connId", w.ConnID)
	}
	m.bySnow[w.ConnID] = w
	if m.byUser[w.UserID] == nil {
		m.byUser[w.UserID] = make(map[string]*WsConn)
	}
	m.byUser[w.UserID][w.ConnID] = w
	m.joinLocked(w, UserRoom(w.UserID))
	return nil
}

// Remove drops every index entry of the connection. ok is false when it was
// already gone, so that the disconnect path runs once.
func (m *ConnManager) Remove(connID string) (*WsConn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.bySnow[connID]
	if !ok {
		return nil, false
	}
	delete(m.bySnow, connID)
	if mm := m.byUser[w.UserID]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(m.byUser, w.UserID)
		}
	}
	for _, room := range w.Rooms() {
		m.leaveLocked(w, room)
	}
	return w, true
}

func (m *ConnManager) Join(w *WsConn, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySnow[w.ConnID]; !ok {
		return
	}
	m.joinLocked(w, room)
}

func (m *ConnManager) Leave(w *WsConn, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(w, room)
}

func (m *ConnManager) joinLocked(w *WsConn, room string) {
	mm := m.rooms[room]
	if mm == nil {
		mm = make(map[string]*WsConn)
		m.rooms[room] = mm
	}
	mm[w.ConnID] = w
	w.mu.Lock()
	w.rooms[room] = struct{}{}
	w.mu.Unlock()
}

func (m *ConnManager) leaveLocked(w *WsConn, room string) {
	if mm := m.rooms[room]; mm != nil {
		delete(mm, w.ConnID)
		if len(mm) == 0 {
			delete(m.rooms, room)
		}
	}
	w.mu.Lock()
	delete(w.rooms, room)
	w.mu.Unlock()
}

// Members returns the local connections in any of the rooms, each once,
// skipping connections owned by exceptUser.
func (m *ConnManager) Members(rooms []string, exceptUser string) []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []*WsConn
	for _, room := range rooms {
		for id, w := range m.rooms[room] {
			if _, dup := seen[id]; dup || (exceptUser != "" && w.UserID == exceptUser) {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

// All 本实例全部连接（全局广播用）
func (m *ConnManager) All(exceptUser string) []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WsConn, 0, len(m.bySnow))
	for _, w := range m.bySnow {
		if exceptUser != "" && w.UserID == exceptUser {
			continue
		}
		out = append(out, w)
	}
	return out
}

// UserConns 某用户在本实例的连接数
func (m *ConnManager) UserConns(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// Heartbeat pushes the idle deadline of a connection forward.
func (m *ConnManager) Heartbeat(w *WsConn) time.Time {
	now := m.conf.Clock()
	w.mu.Lock()
	w.heartbeat = now
	w.expireAt = now.Add(m.conf.IdleTTL)
	w.mu.Unlock()
	return now
}

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

// sweepOnce closes idle connections. Index cleanup happens in the read loop's
// disconnect path so presence edges stay in one place.
func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*WsConn
	m.mu.RLock()
	for _, w := range m.bySnow {
		w.mu.Lock()
		idle := now.After(w.expireAt)
		w.mu.Unlock()
		if idle {
			expired = append(expired, w)
		}
	}
	m.mu.RUnlock()

	for _, w := range expired {
		logger.Info("close idle connection", zap.String("connId", w.ConnID), zap.String("userId", w.UserID))
		w.Close()
	}
	return len(expired)
}
