package store

import (
	"context"
	"time"

	"PChatGate/module/chat/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const SearchLimit = 10

// Store is the durable source of truth for conversations, messages and the
// read-only user profiles owned by the social graph.
// Lookups that do not resolve return errs.ErrNotFound; backend failures errs.ErrTransient.
type Store interface {
	// FindOrCreateConversation resolves the conversation of an unordered pair,
	// creating it with zero counters when absent. created reports the insert.
	FindOrCreateConversation(ctx context.Context, a, b primitive.ObjectID) (conv *model.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id primitive.ObjectID) (*model.Conversation, error)
	// ListConversations returns the user's conversations, most recent activity first.
	ListConversations(ctx context.Context, userID primitive.ObjectID) ([]*model.Conversation, error)
	// RecordMessage moves the last-message pointer and increments the recipient's counter.
	RecordMessage(ctx context.Context, m *model.Message, recipient primitive.ObjectID) error
	// ResetUnread zeroes one participant's counter and returns the value cleared.
	ResetUnread(ctx context.Context, convID, userID primitive.ObjectID) (int64, error)

	InsertMessage(ctx context.Context, m *model.Message) error
	GetMessages(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*model.Message, error)
	// PageMessages returns one page ordered by creation time descending. page starts at 1.
	PageMessages(ctx context.Context, convID primitive.ObjectID, page, limit int) ([]*model.Message, error)
	CountMessages(ctx context.Context, convID primitive.ObjectID) (int64, error)
	// MarkRead flips every unread message not sent by reader; returns the number flipped.
	MarkRead(ctx context.Context, convID, reader primitive.ObjectID, at time.Time) (int64, error)

	GetUser(ctx context.Context, id primitive.ObjectID) (*model.UserProfile, error)
	GetUsers(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*model.UserProfile, error)
	// SearchUsers matches first or last name case-insensitively, excluding one user.
	SearchUsers(ctx context.Context, fragment string, exclude primitive.ObjectID, limit int) ([]*model.UserProfile, error)
}

func skip(page, limit int) int64 {
	if page < 1 {
		page = 1
	}
	return int64((page - 1) * limit)
}
