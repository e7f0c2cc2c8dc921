package handlers

import (
	"context"
	"encoding/json"

	"PChatGate/logger"
	"PChatGate/service/chat"
	"PChatGate/tools/decode"

	"go.uber.org/zap"
)

// JoinHandler joins the conversation room, replays who is typing there and
// acknowledges everything the other participant sent so far.
type JoinHandler struct{}

func NewJoinHandler() chat.Handler   { return &JoinHandler{} }
func (h *JoinHandler) Event() string { return chat.EventJoin }

func (h *JoinHandler) Handle(ctx context.Context, c *chat.Context, data json.RawMessage) error {
	in, err := decode.Raw[chat.ConversationRef](data)
	if err != nil {
		return err
	}
	if err := c.JoinConversation(ctx, in.ConversationID); err != nil {
		return err
	}
	typists, err := c.Chat().Typists(ctx, in.ConversationID, c.UserID())
	if err != nil {
		logger.Warn("load typists failed", zap.String("conversationId", in.ConversationID), zap.Error(err))
	}
	for _, e := range typists {
		f := chat.TypingFrame{ConversationID: e.ConversationID, UserID: e.UserID}
		if e.User != nil {
			f.User = e.User
		}
		c.Reply(chat.EventTypingStart, f)
	}
	_, err = c.Chat().MarkRead(ctx, c.UserID(), in.ConversationID)
	return err
}

type LeaveHandler struct{}

func NewLeaveHandler() chat.Handler   { return &LeaveHandler{} }
func (h *LeaveHandler) Event() string { return chat.EventLeave }

func (h *LeaveHandler) Handle(ctx context.Context, c *chat.Context, data json.RawMessage) error {
	in, err := decode.Raw[chat.ConversationRef](data)
	if err != nil {
		return err
	}
	room := chat.ConvRoom(in.ConversationID)
	if !c.Conn.InRoom(room) {
		return nil
	}
	c.Conns().Leave(c.Conn, room)
	c.Chat().LeaveConversation(ctx, in.ConversationID, c.UserID())
	return nil
}

// ReadHandler is the explicit read acknowledgment.
type ReadHandler struct{}

func NewReadHandler() chat.Handler   { return &ReadHandler{} }
func (h *ReadHandler) Event() string { return chat.EventRead }

func (h *ReadHandler) Handle(ctx context.Context, c *chat.Context, data json.RawMessage) error {
	in, err := decode.Raw[chat.ConversationRef](data)
	if err != nil {
		return err
	}
	_, err = c.Chat().MarkRead(ctx, c.UserID(), in.ConversationID)
	return err
}
