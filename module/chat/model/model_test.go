package model

import (
	"testing"
	"time"

	"PChatGate/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParseID(t *testing.T) {
	id := primitive.NewObjectID()
	got, err := ParseID("userId", " "+id.Hex()+" ")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, bad := range []string{"", "u1", "zzzzzzzzzzzzzzzzzzzzzzzz"} {
		_, err := ParseID("userId", bad)
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrInvalidInput, bad)
	}
}

func TestParseIDsDedup(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	ids, err := ParseIDs("userIds", []string{a.Hex(), b.Hex(), a.Hex()})
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{a, b}, ids)
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	assert.Equal(t, PairKey(a, b), PairKey(b, a))
	assert.NotEqual(t, PairKey(a, b), PairKey(a, primitive.NewObjectID()))
}

func TestNewConversation(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	c, err := NewConversation(b, a, time.Now())
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Len(t, c.Participants, 2)
	assert.Equal(t, map[string]int64{a.Hex(): 0, b.Hex(): 0}, c.UnreadCount)

	other, ok := c.Other(a)
	require.True(t, ok)
	assert.Equal(t, b, other)
	_, ok = c.Other(primitive.NewObjectID())
	assert.False(t, ok)

	_, err = NewConversation(a, a, time.Now())
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestValidateRejectsStrangerCounter(t *testing.T) {
	c, err := NewConversation(primitive.NewObjectID(), primitive.NewObjectID(), time.Now())
	require.NoError(t, err)
	c.UnreadCount["u1"] = 3
	assert.Error(t, c.Validate())
}

func TestNewMessage(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	c, _ := NewConversation(a, b, time.Now())

	m, err := NewMessage(c, a, "  hi  ", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Content)
	assert.False(t, m.Read)
	assert.Nil(t, m.ReadAt)

	_, err = NewMessage(c, a, " \n\t ", time.Now())
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = NewMessage(c, primitive.NewObjectID(), "hi", time.Now())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMarkReadIsOneWay(t *testing.T) {
	c, _ := NewConversation(primitive.NewObjectID(), primitive.NewObjectID(), time.Now())
	m, _ := NewMessage(c, c.Participants[0], "hi", time.Now())

	first := time.Now()
	assert.True(t, m.MarkRead(first))
	readAt := *m.ReadAt
	assert.False(t, m.MarkRead(first.Add(time.Hour)))
	assert.True(t, m.Read)
	assert.Equal(t, readAt, *m.ReadAt)
}

func TestProject(t *testing.T) {
	c, _ := NewConversation(primitive.NewObjectID(), primitive.NewObjectID(), time.Now())
	sender := &UserProfile{ID: c.Participants[0], FirstName: "Ada", LastName: "L", PicturePath: "a.png"}
	m, _ := NewMessage(c, sender.ID, "hello", time.Now())

	v := Project(m, sender)
	assert.Equal(t, m.ID.Hex(), v.ID)
	assert.Equal(t, c.ID.Hex(), v.ConversationID)
	assert.Equal(t, SenderView{ID: sender.ID.Hex(), FirstName: "Ada", LastName: "L", PicturePath: "a.png"}, v.Sender)

	bare := Project(m, nil)
	assert.Equal(t, sender.ID.Hex(), bare.Sender.ID)
	assert.Empty(t, bare.Sender.FirstName)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "héllo", Preview("héllo", 50))
	assert.Equal(t, "hé", Preview("héllo", 2))
}
