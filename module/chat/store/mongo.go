package store

import (
	"context"
	"regexp"
	"time"

	"PChatGate/data/database/mgo/mongoutil"
	"PChatGate/module/chat/model"
	"PChatGate/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DBProvider hands out the current database handle; it fails while the client reconnects.
type DBProvider interface {
	Database() (*mongo.Database, error)
}

type MongoStore struct {
	db DBProvider
}

func NewMongoStore(db DBProvider) *MongoStore {
	return &MongoStore{db: db}
}

// Indexes 会话按 pairKey 唯一，消息按会话 + 时间倒序分页
func Indexes() []mongoutil.IndexSpec {
	return []mongoutil.IndexSpec{
		{
			Collection: model.ConversationTableName,
			Models: []mongo.IndexModel{
				{Keys: bson.D{{Key: model.ConvFieldPairKey, Value: 1}}, Options: options.Index().SetUnique(true)},
				{Keys: bson.D{{Key: model.ConvFieldParticipants, Value: 1}, {Key: model.ConvFieldLastMessageAt, Value: -1}}},
			},
		},
		{
			Collection: model.MessageTableName,
			Models: []mongo.IndexModel{
				{Keys: bson.D{{Key: model.MsgFieldConversationID, Value: 1}, {Key: model.MsgFieldCreatedAt, Value: -1}, {Key: model.FieldID, Value: -1}}},
				{Keys: bson.D{{Key: model.MsgFieldConversationID, Value: 1}, {Key: model.MsgFieldRead, Value: 1}, {Key: model.MsgFieldSender, Value: 1}}},
			},
		},
	}
}

// EnsureIndexes is meant for mgo.Manager.OnConnect.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return mongoutil.EnsureIndexes(ctx, db, Indexes()...)
}

func (s *MongoStore) coll(name string) (*mongo.Collection, error) {
	db, err := s.db.Database()
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

func (s *MongoStore) FindOrCreateConversation(ctx context.Context, a, b primitive.ObjectID) (*model.Conversation, bool, error) {
	fresh, err := model.NewConversation(a, b, time.Now())
	if err != nil {
		return nil, false, err
	}
	c, err := s.coll(model.ConversationTableName)
	if err != nil {
		return nil, false, err
	}
	filter, update := upsertConversation(fresh)
	created, err := upserted(c.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)))
	if err != nil {
		return nil, false, errs.Transient(err, "upsert conversation", "pairKey", fresh.PairKey)
	}
	if created {
		return fresh, true, nil
	}

	var out model.Conversation
	if err := c.FindOne(ctx, filter).Decode(&out); err != nil {
		return nil, false, notFoundOrTransient(err, "find conversation", "pairKey", fresh.PairKey)
	}
	if err := out.Validate(); err != nil {
		return nil, false, err
	}
	return &out, false, nil
}

// upsertConversation 只在插入时写入整份文档，已存在的会话不被覆盖
func upsertConversation(fresh *model.Conversation) (filter, update bson.M) {
	return bson.M{model.ConvFieldPairKey: fresh.PairKey}, bson.M{"$setOnInsert": fresh}
}

// upserted reports whether the upsert inserted. A duplicate key means a
// concurrent upsert of the same pair won, so the caller reads that one.
func upserted(res *mongo.UpdateResult, err error) (bool, error) {
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res != nil && res.UpsertedCount > 0, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id primitive.ObjectID) (*model.Conversation, error) {
	c, err := s.coll(model.ConversationTableName)
	if err != nil {
		return nil, err
	}
	var out model.Conversation
	if err := c.FindOne(ctx, bson.M{model.FieldID: id}).Decode(&out); err != nil {
		return nil, notFoundOrTransient(err, "get conversation", "conversationId", id.Hex())
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID primitive.ObjectID) ([]*model.Conversation, error) {
	c, err := s.coll(model.ConversationTableName)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: model.ConvFieldLastMessageAt, Value: -1}})
	cur, err := c.Find(ctx, bson.M{model.ConvFieldParticipants: userID}, opts)
	if err != nil {
		return nil, errs.Transient(err, "list conversations", "userId", userID.Hex())
	}
	var out []*model.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Transient(err, "decode conversations", "userId", userID.Hex())
	}
	if err := validateAll(out); err != nil {
		return nil, err
	}
	return out, nil
}

func validateAll(convs []*model.Conversation) error {
	for _, c := range convs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *MongoStore) RecordMessage(ctx context.Context, m *model.Message, recipient primitive.ObjectID) error {
	c, err := s.coll(model.ConversationTableName)
	if err != nil {
		return err
	}
	filter, update := recordMessage(m, recipient)
	res, err := c.UpdateOne(ctx, filter, update)
	if err != nil {
		return errs.Transient(err, "record message", "conversationId", m.ConversationID.Hex())
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound.WrapMsg("conversation not found", "conversationId", m.ConversationID.Hex())
	}
	return nil
}

// recordMessage 用 $inc 原子累加，避免读改写
func recordMessage(m *model.Message, recipient primitive.ObjectID) (filter, update bson.M) {
	filter = bson.M{model.FieldID: m.ConversationID, model.ConvFieldParticipants: recipient}
	update = bson.M{
		"$set": bson.M{
			model.ConvFieldLastMessage:   m.ID,
			model.ConvFieldLastMessageAt: m.CreatedAt,
			model.ConvFieldUpdatedAt:     m.CreatedAt,
		},
		"$inc": bson.M{model.UnreadField(recipient.Hex()): 1},
	}
	return filter, update
}

func (s *MongoStore) ResetUnread(ctx context.Context, convID, userID primitive.ObjectID) (int64, error) {
	c, err := s.coll(model.ConversationTableName)
	if err != nil {
		return 0, err
	}
	filter, update, opts := resetUnread(convID, userID)
	var before model.Conversation
	err = c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	if err != nil {
		return 0, notFoundOrTransient(err, "reset unread", "conversationId", convID.Hex())
	}
	return before.UnreadCount[userID.Hex()], nil
}

// resetUnread 返回旧文档拿到被清掉的值，只投影这一个计数
func resetUnread(convID, userID primitive.ObjectID) (filter, update bson.M, opts *options.FindOneAndUpdateOptions) {
	field := model.UnreadField(userID.Hex())
	filter = bson.M{model.FieldID: convID, model.ConvFieldParticipants: userID}
	update = bson.M{"$set": bson.M{field: 0}}
	opts = options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetProjection(bson.M{field: 1})
	return filter, update, opts
}

func (s *MongoStore) InsertMessage(ctx context.Context, m *model.Message) error {
	c, err := s.coll(model.MessageTableName)
	if err != nil {
		return err
	}
	if _, err := c.InsertOne(ctx, m); err != nil {
		return errs.Transient(err, "insert message", "conversationId", m.ConversationID.Hex())
	}
	return nil
}

func (s *MongoStore) GetMessages(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*model.Message, error) {
	out := make(map[primitive.ObjectID]*model.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	c, err := s.coll(model.MessageTableName)
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{model.FieldID: bson.M{"$in": ids}})
	if err != nil {
		return nil, errs.Transient(err, "get messages")
	}
	var msgs []*model.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, errs.Transient(err, "decode messages")
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (s *MongoStore) PageMessages(ctx context.Context, convID primitive.ObjectID, page, limit int) ([]*model.Message, error) {
	c, err := s.coll(model.MessageTableName)
	if err != nil {
		return nil, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: model.MsgFieldCreatedAt, Value: -1}, {Key: model.FieldID, Value: -1}}).
		SetSkip(skip(page, limit)).
		SetLimit(int64(limit))
	cur, err := c.Find(ctx, bson.M{model.MsgFieldConversationID: convID}, opts)
	if err != nil {
		return nil, errs.Transient(err, "page messages", "conversationId", convID.Hex())
	}
	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Transient(err, "decode messages", "conversationId", convID.Hex())
	}
	return out, nil
}

func (s *MongoStore) CountMessages(ctx context.Context, convID primitive.ObjectID) (int64, error) {
	c, err := s.coll(model.MessageTableName)
	if err != nil {
		return 0, err
	}
	n, err := c.CountDocuments(ctx, bson.M{model.MsgFieldConversationID: convID})
	if err != nil {
		return 0, errs.Transient(err, "count messages", "conversationId", convID.Hex())
	}
	return n, nil
}

func (s *MongoStore) MarkRead(ctx context.Context, convID, reader primitive.ObjectID, at time.Time) (int64, error) {
	c, err := s.coll(model.MessageTableName)
	if err != nil {
		return 0, err
	}
	filter, update := markRead(convID, reader, at)
	res, err := c.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, errs.Transient(err, "mark read", "conversationId", convID.Hex())
	}
	return res.ModifiedCount, nil
}

// markRead 只匹配对方发的 read=false 消息，单向迁移
func markRead(convID, reader primitive.ObjectID, at time.Time) (filter, update bson.M) {
	at = model.Timestamp(at)
	filter = bson.M{
		model.MsgFieldConversationID: convID,
		model.MsgFieldSender:         bson.M{"$ne": reader},
		model.MsgFieldRead:           false,
	}
	update = bson.M{"$set": bson.M{
		model.MsgFieldRead:      true,
		model.MsgFieldReadAt:    at,
		model.MsgFieldUpdatedAt: at,
	}}
	return filter, update
}

func (s *MongoStore) GetUser(ctx context.Context, id primitive.ObjectID) (*model.UserProfile, error) {
	c, err := s.coll(model.UserTableName)
	if err != nil {
		return nil, err
	}
	var out model.UserProfile
	if err := c.FindOne(ctx, bson.M{model.FieldID: id}).Decode(&out); err != nil {
		return nil, notFoundOrTransient(err, "get user", "userId", id.Hex())
	}
	return &out, nil
}

func (s *MongoStore) GetUsers(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*model.UserProfile, error) {
	out := make(map[primitive.ObjectID]*model.UserProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	c, err := s.coll(model.UserTableName)
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{model.FieldID: bson.M{"$in": ids}}, options.Find().SetProjection(profileProjection))
	if err != nil {
		return nil, errs.Transient(err, "get users")
	}
	var users []*model.UserProfile
	if err := cur.All(ctx, &users); err != nil {
		return nil, errs.Transient(err, "decode users")
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

var profileProjection = bson.M{
	model.UserFieldFirstName: 1,
	model.UserFieldLastName:  1,
	"picturePath":            1,
	"friends":                1,
}

func (s *MongoStore) SearchUsers(ctx context.Context, fragment string, exclude primitive.ObjectID, limit int) ([]*model.UserProfile, error) {
	c, err := s.coll(model.UserTableName)
	if err != nil {
		return nil, err
	}
	filter := searchFilter(fragment, exclude)
	opts := options.Find().SetLimit(int64(limit)).SetProjection(profileProjection)
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.Transient(err, "search users")
	}
	var out []*model.UserProfile
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Transient(err, "decode users")
	}
	return out, nil
}

// searchFilter 名字片段按字面、忽略大小写匹配
func searchFilter(fragment string, exclude primitive.ObjectID) bson.M {
	rx := primitive.Regex{Pattern: regexp.QuoteMeta(fragment), Options: "i"}
	return bson.M{
		model.FieldID: bson.M{"$ne": exclude},
		"$or": bson.A{
			bson.M{model.UserFieldFirstName: rx},
			bson.M{model.UserFieldLastName: rx},
		},
	}
}

func notFoundOrTransient(err error, msg string, kv ...any) error {
	if err == mongo.ErrNoDocuments {
		return errs.ErrNotFound.WrapMsg(msg, kv...)
	}
	return errs.Transient(err, msg, kv...)
}
