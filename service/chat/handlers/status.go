package handlers

import (
	"context"
	"encoding/json"

	"PChatGate/service/chat"
	"PChatGate/tools/decode"
)

// StatusHandler answers a bulk presence query on the asking connection only.
type StatusHandler struct{}

func NewStatusHandler() chat.Handler   { return &StatusHandler{} }
func (h *StatusHandler) Event() string { return chat.EventUsersStatus }

func (h *StatusHandler) Handle(ctx context.Context, c *chat.Context, data json.RawMessage) error {
	in, err := decode.Raw[chat.StatusPayload](data)
	if err != nil {
		return err
	}
	online, err := c.Chat().OnlineStatus(ctx, in.UserIDs)
	if err != nil {
		return err
	}
	c.Reply(chat.EventUsersStatus, chat.UsersStatusFrame{OnlineUsers: online})
	return nil
}
