package identity

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

func TestOperatorRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("find by id decodes record", func(mt *mtest.T) {
		repo := NewOperatorRepository(mt.DB)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".operators", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "email", Value: "admin@x.com"},
			{Key: "is_active", Value: true},
			{Key: "token_version", Value: 2},
			{Key: "permissions", Value: bson.D{{Key: "general_access", Value: true}, {Key: "can_manage_teams", Value: true}}},
		}))

		op, err := repo.FindByID(ctx, id)
		require.NoError(mt, err)
		assert.Equal(mt, id, op.ID)
		assert.Equal(mt, "admin@x.com", op.Email)
		assert.Equal(mt, 2, op.TokenVersion)
		assert.True(mt, op.Permissions.GeneralAccess)
		assert.True(mt, op.Permissions.CanManageTeams)
		assert.Empty(mt, op.PasswordHash)
	})

	mt.Run("find by id maps no documents", func(mt *mtest.T) {
		repo := NewOperatorRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".operators", mtest.FirstBatch))

		_, err := repo.FindByID(ctx, primitive.NewObjectID())
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("create maps duplicate key", func(mt *mtest.T) {
		repo := NewOperatorRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		err := repo.Create(ctx, &Operator{Email: "Admin@X.com"})
		assert.ErrorIs(mt, err, ErrDuplicate)
	})

	mt.Run("create normalizes email", func(mt *mtest.T) {
		repo := NewOperatorRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		op := &Operator{Email: " Admin@X.com "}
		require.NoError(mt, repo.Create(ctx, op))
		assert.Equal(mt, "admin@x.com", op.Email)
		assert.False(mt, op.ID.IsZero())
	})

	mt.Run("update on missing record", func(mt *mtest.T) {
		repo := NewOperatorRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := repo.SetActive(ctx, primitive.NewObjectID(), false)
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("claim login attempt returns count and lock", func(mt *mtest.T) {
		repo := NewOperatorRepository(mt.DB)
		now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
		lock := now.Add(time.Minute)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "login_attempts", Value: 3},
			{Key: "lock_until", Value: primitive.NewDateTimeFromTime(lock)},
		}}))

		attempts, until, err := repo.ClaimLoginAttempt(ctx, primitive.NewObjectID(), now, LockoutPolicy{MaxAttempts: 3, Base: time.Minute, Max: time.Hour})
		require.NoError(mt, err)
		assert.Equal(mt, 3, attempts)
		require.NotNil(mt, until)
		assert.True(mt, lock.Equal(*until))
	})

	mt.Run("claim login attempt on locked record", func(mt *mtest.T) {
		repo := NewOperatorRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, mt.DB.Name()+".operators", mtest.FirstBatch, bson.D{{Key: "n", Value: int32(1)}}),
		)

		_, _, err := repo.ClaimLoginAttempt(ctx, primitive.NewObjectID(), time.Now(), LockoutPolicy{MaxAttempts: 3, Base: time.Minute})
		assert.ErrorIs(mt, err, ErrLocked)
	})

	mt.Run("claim login attempt on missing record", func(mt *mtest.T) {
		repo := NewOperatorRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, mt.DB.Name()+".operators", mtest.FirstBatch),
		)

		_, _, err := repo.ClaimLoginAttempt(ctx, primitive.NewObjectID(), time.Now(), LockoutPolicy{})
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("set password", func(mt *mtest.T) {
		repo := NewOperatorRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		assert.NoError(mt, repo.SetPassword(ctx, primitive.NewObjectID(), "$2a$10$hash"))
	})
}

func TestMemberRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("list pending", func(mt *mtest.T) {
		repo := NewMemberRepository(mt.DB)
		ns := mt.DB.Name() + ".board_members"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "roll_number", Value: "CS-1"}, {Key: "approved", Value: false}},
			bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "roll_number", Value: "CS-2"}, {Key: "approved", Value: false}},
		))

		members, err := repo.ListPending(ctx)
		require.NoError(mt, err)
		require.Len(mt, members, 2)
		assert.Equal(mt, "CS-1", members[0].RollNumber)
	})

	mt.Run("find by roll number", func(mt *mtest.T) {
		repo := NewMemberRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".board_members", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "roll_number", Value: "CS-7"},
			{Key: "contact_email", Value: "seven@uni.edu"},
			{Key: "password", Value: "$2a$10$hash"},
			{Key: "approved", Value: true},
			{Key: "is_activated", Value: true},
		}))

		m, err := repo.FindByLoginWithSecret(ctx, "cs-7")
		require.NoError(mt, err)
		assert.Equal(mt, "$2a$10$hash", m.PasswordHash)
		assert.True(mt, m.IsActivated)
	})

	mt.Run("activation token lookup requires a token", func(mt *mtest.T) {
		repo := NewMemberRepository(mt.DB)
		_, err := repo.FindByActivationToken(ctx, "")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("create maps duplicate key", func(mt *mtest.T) {
		repo := NewMemberRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		err := repo.Create(ctx, &Member{RollNumber: "cs-1", ContactEmail: "a@uni.edu"})
		assert.ErrorIs(mt, err, ErrDuplicate)
	})

	mt.Run("approve", func(mt *mtest.T) {
		repo := NewMemberRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		assert.NoError(mt, repo.Approve(ctx, primitive.NewObjectID(), "tok", time.Now().Add(time.Hour)))
	})

	mt.Run("claim login attempt below the threshold", func(mt *mtest.T) {
		repo := NewMemberRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "login_attempts", Value: 1},
		}}))

		attempts, until, err := repo.ClaimLoginAttempt(ctx, primitive.NewObjectID(), time.Now(), LockoutPolicy{MaxAttempts: 3, Base: time.Minute})
		require.NoError(mt, err)
		assert.Equal(mt, 1, attempts)
		assert.Nil(mt, until)
	})

	mt.Run("clear expired activation tokens", func(mt *mtest.T) {
		repo := NewMemberRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}, bson.E{Key: "nModified", Value: 3}))

		n, err := repo.ClearExpiredActivationTokens(ctx, time.Now())
		require.NoError(mt, err)
		assert.Equal(mt, int64(3), n)
	})
}

func TestClaimPipeline(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	disabled := claimPipeline(now, LockoutPolicy{})
	require.Len(t, disabled, 1)
	assert.Equal(t, "$set", disabled[0][0].Key)

	capped := claimPipeline(now, LockoutPolicy{MaxAttempts: 3, Base: time.Minute, Max: time.Hour})
	require.Len(t, capped, 2)
	lock := capped[1][0].Value.(bson.D)
	require.Len(t, lock, 1)
	assert.Equal(t, "lock_until", lock[0].Key)

	cond := lock[0].Value.(bson.D)[0]
	assert.Equal(t, "$cond", cond.Key)
	branches := cond.Value.(bson.A)
	require.Len(t, branches, 3)
	assert.Equal(t, bson.D{{Key: "$gte", Value: bson.A{"$login_attempts", 3}}}, branches[0])
	assert.Equal(t, "$$REMOVE", branches[2])

	add := branches[1].(bson.D)[0].Value.(bson.A)
	assert.Equal(t, now, add[0])
	assert.Equal(t, "$min", add[1].(bson.D)[0].Key)
}
