package handlers

import (
	"context"
	"encoding/json"

	"PChatGate/service/chat"
	"PChatGate/tools/decode"
)

type TypingStartHandler struct{}

func NewTypingStartHandler() chat.Handler   { return &TypingStartHandler{} }
func (h *TypingStartHandler) Event() string { return chat.EventTypingStart }

func (h *TypingStartHandler) Handle(ctx context.Context, c *chat.Context, data json.RawMessage) error {
	in, err := decode.Raw[chat.ConversationRef](data)
	if err != nil {
		return err
	}
	if err := c.EnsureParticipant(ctx, in.ConversationID); err != nil {
		return err
	}
	p := c.Conn.Profile
	if p == nil {
		if p, err = c.Chat().Profile(ctx, c.UserID()); err != nil {
			return err
		}
		c.Conn.Profile = p
	}
	return c.Chat().StartTyping(ctx, in.ConversationID, p)
}

type TypingStopHandler struct{}

func NewTypingStopHandler() chat.Handler   { return &TypingStopHandler{} }
func (h *TypingStopHandler) Event() string { return chat.EventTypingStop }

func (h *TypingStopHandler) Handle(ctx context.Context, c *chat.Context, data json.RawMessage) error {
	in, err := decode.Raw[chat.ConversationRef](data)
	if err != nil {
		return err
	}
	if err := c.EnsureParticipant(ctx, in.ConversationID); err != nil {
		return err
	}
	return c.Chat().StopTyping(ctx, in.ConversationID, c.UserID())
}
