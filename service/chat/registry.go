package chat

import (
	"context"
	"net/http"

	"PChatGate/module/chat/model"
	"PChatGate/module/chat/service"
	"PChatGate/service/eventbus"
	"PChatGate/tools/errs"
	"PChatGate/tools/security"

	"go.uber.org/zap"
)

// Presence is the shared connection/presence state the registry writes through.
type Presence interface {
	Connect(ctx context.Context, userID, connID string) (first bool, err error)
	Disconnect(ctx context.Context, userID, connID string) (last bool, err error)
	Touch(ctx context.Context, userID, connID string) (bool, error)
}

// SessionRegistry binds authenticated connections to users for their lifetime
// and turns the first connect and last disconnect of a user into presence events.
type SessionRegistry struct {
	jwt      security.Options
	presence Presence
	bus      eventbus.Publisher
	conns    *ConnManager
	log      *zap.Logger
}

func NewSessionRegistry(jwt security.Options, p Presence, bus eventbus.Publisher, conns *ConnManager, log *zap.Logger) *SessionRegistry {
	return &SessionRegistry{jwt: jwt, presence: p, bus: bus, conns: conns, log: log}
}

// Authenticate resolves the handshake credential (?token= or a bearer header) to a user id.
func (r *SessionRegistry) Authenticate(req *http.Request) (string, error) {
	token := req.URL.Query().Get("token")
	if token == "" {
		token = security.BearerToken(req.Header.Get("Authorization"))
	}
	uid, err := security.Verify(r.jwt, token)
	if err != nil {
		return "", err
	}
	if _, err := model.ParseID("userId", uid); err != nil {
		return "", errs.ErrUnauthorized.WrapMsg("credential carries a malformed user id")
	}
	return uid, nil
}

// OnConnect indexes the connection, records the mapping in the shared cache and
// announces the user when this is their first live connection anywhere.
func (r *SessionRegistry) OnConnect(ctx context.Context, w *WsConn) error {
	if err := r.conns.Add(w); err != nil {
		return err
	}
	first, err := r.presence.Connect(ctx, w.UserID, w.ConnID)
	if err != nil {
		r.conns.Remove(w.ConnID)
		return err
	}
	r.log.Debug("session opened", zap.String("userId", w.UserID), zap.String("connId", w.ConnID), zap.Bool("first", first))
	if first {
		r.publish(ctx, eventbus.ChannelUserOnline, w.UserID)
	}
	return nil
}

// OnDisconnect is idempotent; unknown connections (never authenticated, or
// already removed) are a no-op.
func (r *SessionRegistry) OnDisconnect(ctx context.Context, connID string) {
	w, ok := r.conns.Remove(connID)
	if !ok {
		return
	}
	last, err := r.presence.Disconnect(ctx, w.UserID, w.ConnID)
	if err != nil {
		// 映射带 TTL，缓存恢复后自愈
		r.log.Warn("presence disconnect failed", zap.String("userId", w.UserID), zap.String("connId", connID), zap.Error(err))
		return
	}
	r.log.Debug("session closed", zap.String("userId", w.UserID), zap.String("connId", connID), zap.Bool("last", last))
	if last {
		r.publish(ctx, eventbus.ChannelUserOffline, w.UserID)
	}
}

// Touch refreshes the cache mapping TTL of a live connection.
func (r *SessionRegistry) Touch(ctx context.Context, w *WsConn) {
	if _, err := r.presence.Touch(ctx, w.UserID, w.ConnID); err != nil {
		r.log.Warn("presence touch failed", zap.String("connId", w.ConnID), zap.Error(err))
	}
}

func (r *SessionRegistry) publish(ctx context.Context, ch eventbus.Channel, userID string) {
	if err := r.bus.Publish(ctx, ch, service.PresenceEvent{UserID: userID}); err != nil {
		r.log.Warn("publish presence failed", zap.String("channel", string(ch)), zap.String("userId", userID), zap.Error(err))
	}
}
