package chat

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"PChatGate/module/chat/model"

	"github.com/gorilla/websocket"
)

// WsConn is one authenticated websocket session on this instance.
// A user may hold several at once (tabs, devices); each has its own send queue
// drained by a single writer goroutine.
type WsConn struct {
	ConnID  string // snowflake，本实例内唯一
	UserID  string
	Profile *model.UserProfile // 连接时加载，typing 事件带名字

	Conn   *websocket.Conn
	Remote net.Addr

	CreatedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	rooms     map[string]struct{}
	heartbeat time.Time
	expireAt  time.Time

	touchedAt atomic.Int64 // 上次刷新缓存映射 TTL（unix ms）
}

func newWsConn(connID, userID string, ws *websocket.Conn, queue int, now time.Time) *WsConn {
	w := &WsConn{
		ConnID:    connID,
		UserID:    userID,
		Conn:      ws,
		CreatedAt: now,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
		heartbeat: now,
	}
	if ws != nil {
		w.Remote = ws.RemoteAddr()
	}
	w.touchedAt.Store(now.UnixMilli())
	return w
}

// enqueue never blocks; a full queue means the peer is not draining and the
// connection is closed so the client reconnects and refetches.
func (w *WsConn) enqueue(frame []byte) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.send <- frame:
		return true
	default:
		w.Close()
		return false
	}
}

// Close stops the writer and closes the socket once. The read loop then exits
// and runs the disconnect path.
func (w *WsConn) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.Conn != nil {
			_ = w.Conn.Close()
		}
	})
}

func (w *WsConn) Done() <-chan struct{} { return w.done }

func (w *WsConn) InRoom(room string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.rooms[room]
	return ok
}

func (w *WsConn) Rooms() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.rooms))
	for r := range w.rooms {
		out = append(out, r)
	}
	return out
}

// shouldTouch reports whether the cache mapping TTL is due for a refresh.
func (w *WsConn) shouldTouch(now time.Time, every time.Duration) bool {
	last := w.touchedAt.Load()
	if now.UnixMilli()-last < every.Milliseconds() {
		return false
	}
	return w.touchedAt.CompareAndSwap(last, now.UnixMilli())
}
