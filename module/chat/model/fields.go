package model

// 文档字段名，供 bson 过滤/更新使用
const (
	FieldID = "_id"

	ConvFieldParticipants  = "participants"
	ConvFieldPairKey       = "pairKey"
	ConvFieldLastMessage   = "lastMessage"
	ConvFieldLastMessageAt = "lastMessageAt"
	ConvFieldUnreadCount   = "unreadCount"
	ConvFieldCreatedAt     = "createdAt"
	ConvFieldUpdatedAt     = "updatedAt"

	MsgFieldConversationID = "conversationId"
	MsgFieldSender         = "sender"
	MsgFieldContent        = "content"
	MsgFieldRead           = "read"
	MsgFieldReadAt         = "readAt"
	MsgFieldCreatedAt      = "createdAt"
	MsgFieldUpdatedAt      = "updatedAt"

	UserFieldFirstName = "firstName"
	UserFieldLastName  = "lastName"
)

// UnreadField is the dotted path of one participant's durable counter.
func UnreadField(userHex string) string {
	return ConvFieldUnreadCount + "." + userHex
}
