package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("append assigns id and timestamp", func(mt *mtest.T) {
		repo := NewRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		e := &Entry{ActorID: "A1", Action: "LOGIN", Category: CategoryAuth}
		require.NoError(mt, repo.Append(context.Background(), e))
		assert.False(mt, e.ID.IsZero())
		assert.False(mt, e.CreatedAt.IsZero())
	})

	mt.Run("append surfaces write errors", func(mt *mtest.T) {
		repo := NewRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 121, Message: "document failed validation",
		}))

		err := repo.Append(context.Background(), &Entry{Action: "LOGIN"})
		assert.Error(mt, err)
	})

	mt.Run("list decodes entries", func(mt *mtest.T) {
		repo := NewRepository(mt.DB)
		ns := mt.DB.Name() + ".audit_logs"
		created := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: primitive.NewObjectID()},
				{Key: "actor_id", Value: "A1"},
				{Key: "actor_email", Value: "admin@x.com"},
				{Key: "action", Value: "APPROVE_MEMBERSHIP"},
				{Key: "category", Value: "MEMBERSHIP"},
				{Key: "created_at", Value: created},
			},
			bson.D{
				{Key: "_id", Value: primitive.NewObjectID()},
				{Key: "actor_id", Value: "A1"},
				{Key: "actor_email", Value: "admin@x.com"},
				{Key: "action", Value: "LOGIN"},
				{Key: "category", Value: "AUTH"},
				{Key: "created_at", Value: created.Add(-time.Hour)},
			},
		))

		entries, err := repo.List(context.Background(), ListFilter{ActorID: "A1"})
		require.NoError(mt, err)
		require.Len(mt, entries, 2)
		assert.Equal(mt, CategoryMembership, entries[0].Category)
		assert.Equal(mt, "admin@x.com", entries[1].ActorEmail)
	})
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, int64(DefaultListLimit), clampLimit(0))
	assert.Equal(t, int64(DefaultListLimit), clampLimit(-3))
	assert.Equal(t, int64(25), clampLimit(25))
	assert.Equal(t, int64(MaxListLimit), clampLimit(10_000))
}
