package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"PChatGate/logger"
	"PChatGate/tools/errs"
	"PChatGate/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// HandleWS authenticates before upgrading: a bad credential gets a plain 401
// and no session ever exists for it.
func (s *Server) HandleWS(c *gin.Context) {
	uid, err := s.registry.Authenticate(c.Request)
	if err != nil {
		ce := errs.From(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, ce)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 非 websocket 请求/握手失败，Upgrade 已写回响应
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := s.connMgr.NewConn(uid, ws)
	if err := s.registry.OnConnect(ctx, w); err != nil {
		s.log.Warn("session rejected", zap.String("userId", uid), zap.Error(err))
		if frame, ferr := EncodeFrame(EventError, NewErrorFrame("", err)); ferr == nil {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.TextMessage, frame)
		}
		_ = ws.Close()
		return
	}

	writerDone := make(chan struct{})
	go s.writeLoop(w, writerDone)

	s.bootstrap(ctx, w)
	s.readLoop(ctx, w)

	w.Close()
	<-writerDone

	dctx, dcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dcancel()
	s.registry.OnDisconnect(dctx, w.ConnID)
}

// bootstrap tells a fresh connection which friends are online and its unread total.
func (s *Server) bootstrap(ctx context.Context, w *WsConn) {
	b, err := s.chat.Bootstrap(ctx, w.UserID)
	if err != nil {
		s.log.Warn("bootstrap failed", zap.String("userId", w.UserID), zap.Error(err))
		return
	}
	w.Profile = b.Profile
	s.sendTo([]*WsConn{w}, EventFriendsOnline, FriendsOnlineFrame{UserIDs: b.OnlineFriends})
	s.sendTo([]*WsConn{w}, EventUnreadTotal, CountFrame{Count: b.UnreadTotal})
}

// writeLoop is the only writer of data frames for the connection.
func (s *Server) writeLoop(w *WsConn, done chan<- struct{}) {
	ticker := time.NewTicker(s.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = w.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.Close()
		close(done)
	}()
	for {
		select {
		case <-w.Done():
			return
		case frame := <-w.send:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("write frame failed", zap.String("connId", w.ConnID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := w.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug("ping failed", zap.String("connId", w.ConnID), zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, w *WsConn) {
	ws := w.Conn
	ws.SetReadLimit(s.conf.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
	ws.SetPongHandler(func(string) error {
		s.alive(w)
		return nil
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				logger.Debug("peer closed", zap.String("connId", w.ConnID))
			case errors.As(err, &ne) && ne.Timeout():
				logger.Infof("[WS] read timeout connId=%s user=%s", w.ConnID, w.UserID)
			default:
				logger.Debug("read failed", zap.String("connId", w.ConnID), zap.Error(err))
			}
			return
		}
		s.alive(w)
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		f, err := ParseFrame(data)
		if err != nil {
			s.replyError(w, "", err)
			continue
		}
		if !s.handle(ctx, w, f) {
			return
		}
	}
}

// handle runs one client event. It returns false when the handler panicked and
// the connection must be dropped.
func (s *Server) handle(ctx context.Context, w *WsConn, f *Frame) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", zap.String("event", f.Event), zap.String("connId", w.ConnID),
				zap.Error(errs.ErrPanic(r)), zap.Stack("stack"))
			ok = false
		}
	}()
	hctx, cancel := context.WithTimeout(ctx, s.conf.HandlerTimeout)
	defer cancel()
	if err := s.disp.Dispatch(hctx, &Context{S: s, Conn: w}, f); err != nil {
		s.replyError(w, f.Event, err)
	}
	return true
}

func (s *Server) replyError(w *WsConn, event string, err error) {
	ef := NewErrorFrame(event, err)
	if ef.Code >= 500 {
		s.log.Warn("client event failed", zap.String("event", event), zap.String("connId", w.ConnID), zap.Error(err))
	}
	s.sendTo([]*WsConn{w}, EventError, ef)
}

// alive extends the idle deadline and, at most every TouchEvery, the cache mapping TTL.
func (s *Server) alive(w *WsConn) {
	now := s.connMgr.Heartbeat(w)
	_ = w.Conn.SetReadDeadline(now.Add(s.conf.PongTimeout))
	if w.shouldTouch(now, s.conf.TouchEvery) {
		safe.Go("presence:touch", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			s.registry.Touch(ctx, w)
		})
	}
}
