package chat

import (
	"encoding/json"

	"PChatGate/tools/errs"
)

// 客户端 -> 服务端
const (
	EventJoin        = "conversation:join"
	EventLeave       = "conversation:leave"
	EventSend        = "message:send"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
	EventRead        = "messages:read"
	EventUsersStatus = "users:status"
)

// 服务端 -> 客户端
const (
	EventMessageNew    = "message:new"
	EventUserOnline    = "user:online"
	EventUserOffline   = "user:offline"
	EventUnreadTotal   = "unread:total"
	EventFriendsOnline = "friends:online"
	EventError         = "error"
)

// Frame is the JSON text frame used in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrInvalidInput.WrapMsg("malformed frame")
	}
	if f.Event == "" {
		return nil, errs.ErrInvalidInput.WrapMsg("frame event missing")
	}
	return f, nil
}

func EncodeFrame(event string, data any) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal frame data", "event", event)
	}
	return json.Marshal(Frame{Event: event, Data: b})
}

type ConversationRef struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type SendPayload struct {
	RecipientID string `json:"recipientId" validate:"required"`
	Content     string `json:"content" validate:"required"`
}

type StatusPayload struct {
	UserIDs []string `json:"userIds" validate:"required"`
}

type MessageNewFrame struct {
	ConversationID string `json:"conversationId"`
	Message        any    `json:"message"`
}

type TypingFrame struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	User           any    `json:"user,omitempty"`
}

type UserFrame struct {
	UserID string `json:"userId"`
}

type ReadFrame struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type CountFrame struct {
	Count int64 `json:"count"`
}

type FriendsOnlineFrame struct {
	UserIDs []string `json:"userIds"`
}

type UsersStatusFrame struct {
	OnlineUsers []string `json:"onlineUsers"`
}

// ErrorFrame names the failure category so clients can tell retryable failures apart.
type ErrorFrame struct {
	Event    string `json:"event,omitempty"` // 触发的客户端事件
	Message  string `json:"message"`
	Code     int    `json:"code"`
	Category string `json:"category"`
}

func NewErrorFrame(event string, err error) ErrorFrame {
	ce := errs.From(err)
	msg := ce.Msg
	if ce.Detail != "" {
		msg = ce.Detail
	}
	if ce.Code == errs.CodeInternal {
		msg = "internal error"
	}
	return ErrorFrame{Event: event, Message: msg, Code: ce.Code, Category: ce.Category()}
}
