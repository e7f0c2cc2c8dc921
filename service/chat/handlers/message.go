package handlers

import (
	"context"
	"encoding/json"

	"PChatGate/service/chat"
	"PChatGate/tools/decode"
)

// SendHandler persists and publishes a message. Delivery to rooms comes back
// through the bus; the sender's connection gets its own unread total here.
type SendHandler struct{}

func NewSendHandler() chat.Handler   { return &SendHandler{} }
func (h *SendHandler) Event() string { return chat.EventSend }

func (h *SendHandler) Handle(ctx context.Context, c *chat.Context, data json.RawMessage) error {
	in, err := decode.Raw[chat.SendPayload](data)
	if err != nil {
		return err
	}
	res, err := c.Chat().SendMessage(ctx, c.UserID(), in.RecipientID, in.Content)
	if err != nil {
		return err
	}
	c.Reply(chat.EventUnreadTotal, chat.CountFrame{Count: res.SenderUnreadTotal})
	return nil
}
