package notify

import (
	"context"
	"encoding/json"
)

const (
	// Channel Redis 通知频道，通知服务订阅
	Channel = "notification:message"
	// PreviewRunes 预览截取长度
	PreviewRunes = 50
)

// MessageMetadata 附加信息
type MessageMetadata struct {
	MessagePreview string `json:"messagePreview"`
}

// MessageNotification is what the notification relay consumes for a new chat message.
type MessageNotification struct {
	UserID       string          `json:"userId"`  // 接收方
	ActorID      string          `json:"actorId"` // 发送方
	ActorName    string          `json:"actorName"`
	ActorPicture string          `json:"actorPicture"`
	RelatedID    string          `json:"relatedId"` // 会话 id
	Metadata     MessageMetadata `json:"metadata"`
}

// Notifier publishes toward the notification relay. It is never on the chat delivery path.
type Notifier interface {
	NotifyMessage(ctx context.Context, n MessageNotification) error
	Close() error
}

type Noop struct{}

func (Noop) NotifyMessage(context.Context, MessageNotification) error { return nil }
func (Noop) Close() error                                             { return nil }

func marshal(n MessageNotification) ([]byte, error) {
	return json.Marshal(n)
}
