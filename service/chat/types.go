package chat

import (
	"context"
	"encoding/json"

	"PChatGate/module/chat/service"
)

// Handler serves one client event name.
type Handler interface {
	Event() string
	Handle(ctx context.Context, c *Context, data json.RawMessage) error
}

// Context is what a handler sees of the gateway for one client event.
type Context struct {
	S    *Server
	Conn *WsConn
}

func (c *Context) UserID() string             { return c.Conn.UserID }
func (c *Context) Chat() *service.ChatService { return c.S.chat }
func (c *Context) Conns() *ConnManager        { return c.S.connMgr }

// Reply sends a frame to this connection only.
func (c *Context) Reply(event string, data any) {
	c.S.sendTo([]*WsConn{c.Conn}, event, data)
}

// EmitUser sends a frame to every local connection of a user.
func (c *Context) EmitUser(userID, event string, data any) {
	c.S.sendTo(c.S.connMgr.Members([]string{UserRoom(userID)}, ""), event, data)
}

// JoinConversation verifies membership once per connection and joins the room.
func (c *Context) JoinConversation(ctx context.Context, convID string) error {
	room := ConvRoom(convID)
	if c.Conn.InRoom(room) {
		return nil
	}
	if _, err := c.Chat().Participant(ctx, c.UserID(), convID); err != nil {
		return err
	}
	c.S.connMgr.Join(c.Conn, room)
	return nil
}

// EnsureParticipant is the cheap membership check for events on a conversation:
// a joined room was verified at join time.
func (c *Context) EnsureParticipant(ctx context.Context, convID string) error {
	if c.Conn.InRoom(ConvRoom(convID)) {
		return nil
	}
	_, err := c.Chat().Participant(ctx, c.UserID(), convID)
	return err
}
