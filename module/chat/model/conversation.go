package model

import (
	"time"

	"PChatGate/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const ConversationTableName = "conversations"

// Conversation 两人会话。参与者对创建后不可变，unreadCount 的 key 恰好是两位参与者。
type Conversation struct {
	ID            primitive.ObjectID   `bson:"_id" json:"_id"`
	Participants  []primitive.ObjectID `bson:"participants" json:"participants"` // 升序
	PairKey       string               `bson:"pairKey" json:"-"`                 // 唯一索引
	LastMessage   *primitive.ObjectID  `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	LastMessageAt time.Time            `bson:"lastMessageAt" json:"lastMessageAt"`
	UnreadCount   map[string]int64     `bson:"unreadCount" json:"unreadCount"` // participant hex -> count
	CreatedAt     time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt" json:"updatedAt"`
}

func (*Conversation) TableName() string { return ConversationTableName }

// NewConversation builds a fresh conversation for a pair with both counters at zero.
func NewConversation(a, b primitive.ObjectID, now time.Time) (*Conversation, error) {
	if a.IsZero() || b.IsZero() {
		return nil, errs.ErrInvalidInput.WrapMsg("conversation participant missing")
	}
	if a == b {
		return nil, errs.ErrInvalidInput.WrapMsg("cannot open a conversation with yourself", "userId", a.Hex())
	}
	now = Timestamp(now)
	p := SortedPair(a, b)
	return &Conversation{
		ID:            primitive.NewObjectID(),
		Participants:  []primitive.ObjectID{p[0], p[1]},
		PairKey:       PairKey(a, b),
		LastMessageAt: now,
		UnreadCount:   map[string]int64{p[0].Hex(): 0, p[1].Hex(): 0},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Validate checks the two-participant invariants of a loaded record.
func (c *Conversation) Validate() error {
	if len(c.Participants) != 2 || c.Participants[0] == c.Participants[1] {
		return errs.ErrInternal.WrapMsg("conversation must have two distinct participants", "conversationId", c.ID.Hex())
	}
	if c.PairKey != PairKey(c.Participants[0], c.Participants[1]) {
		return errs.ErrInternal.WrapMsg("conversation pair key mismatch", "conversationId", c.ID.Hex())
	}
	for k := range c.UnreadCount {
		if k != c.Participants[0].Hex() && k != c.Participants[1].Hex() {
			return errs.ErrInternal.WrapMsg("unread counter for non participant", "conversationId", c.ID.Hex(), "key", k)
		}
	}
	return nil
}

func (c *Conversation) HasParticipant(id primitive.ObjectID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Other returns the participant that is not id.
func (c *Conversation) Other(id primitive.ObjectID) (primitive.ObjectID, bool) {
	if !c.HasParticipant(id) || len(c.Participants) != 2 {
		return primitive.NilObjectID, false
	}
	if c.Participants[0] == id {
		return c.Participants[1], true
	}
	return c.Participants[0], true
}

// Unread 读取某参与者的持久化未读数
func (c *Conversation) Unread(id primitive.ObjectID) int64 {
	return c.UnreadCount[id.Hex()]
}

// Clone 深拷贝，内存存储用
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = append([]primitive.ObjectID(nil), c.Participants...)
	cp.UnreadCount = make(map[string]int64, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		cp.UnreadCount[k] = v
	}
	if c.LastMessage != nil {
		id := *c.LastMessage
		cp.LastMessage = &id
	}
	return &cp
}

// Timestamp truncates to the millisecond precision the document store keeps.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
