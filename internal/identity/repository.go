package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	operatorCollection = "operators"
	memberCollection   = "board_members"
)

// withoutSecret is the default projection for identity reads.
var withoutSecret = bson.M{"password": 0}

var (
	_ OperatorStore = (*OperatorRepository)(nil)
	_ MemberStore   = (*MemberRepository)(nil)
)

type OperatorRepository struct {
	collection *mongo.Collection
}

func NewOperatorRepository(db *mongo.Database) *OperatorRepository {
	return &OperatorRepository{collection: db.Collection(operatorCollection)}
}

func (r *OperatorRepository) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*Operator, error) {
	var op Operator
	err := r.collection.FindOne(ctx, filter, opts...).Decode(&op)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &op, nil
}

func (r *OperatorRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*Operator, error) {
	return r.findOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(withoutSecret))
}

func (r *OperatorRepository) FindByIDWithSecret(ctx context.Context, id primitive.ObjectID) (*Operator, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *OperatorRepository) FindByEmailWithSecret(ctx context.Context, email string) (*Operator, error) {
	return r.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

func (r *OperatorRepository) Create(ctx context.Context, o *Operator) error {
	now := time.Now().UTC()
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	o.Email = NormalizeEmail(o.Email)
	o.CreatedAt = now
	o.UpdatedAt = now
	_, err := r.collection.InsertOne(ctx, o)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *OperatorRepository) update(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := r.collection.UpdateByID(ctx, id, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPassword stores a new hash and invalidates every token issued before it.
func (r *OperatorRepository) SetPassword(ctx context.Context, id primitive.ObjectID, hash string) error {
	return r.update(ctx, id, bson.M{
		"$set":   bson.M{"password": hash, "login_attempts": 0, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"lock_until": ""},
		"$inc":   bson.M{"token_version": 1},
	})
}

func (r *OperatorRepository) SetActive(ctx context.Context, id primitive.ObjectID, active bool) error {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"is_active": active, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"token_version": 1},
	})
}

func (r *OperatorRepository) SetPermissions(ctx context.Context, id primitive.ObjectID, p Permissions) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{"permissions": p, "updated_at": time.Now().UTC()}})
}

func (r *OperatorRepository) ClaimLoginAttempt(ctx context.Context, id primitive.ObjectID, now time.Time, policy LockoutPolicy) (int, *time.Time, error) {
	return claimLoginAttempt(ctx, r.collection, id, now, policy)
}

func (r *OperatorRepository) ResetLoginAttempts(ctx context.Context, id primitive.ObjectID) error {
	return r.update(ctx, id, resetLoginUpdate())
}

type MemberRepository struct {
	collection *mongo.Collection
}

func NewMemberRepository(db *mongo.Database) *MemberRepository {
	return &MemberRepository{collection: db.Collection(memberCollection)}
}

func (r *MemberRepository) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*Member, error) {
	var m Member
	err := r.collection.FindOne(ctx, filter, opts...).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MemberRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*Member, error) {
	return r.findOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(withoutSecret))
}

func (r *MemberRepository) FindByIDWithSecret(ctx context.Context, id primitive.ObjectID) (*Member, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByLoginWithSecret matches the contact email when identifier looks like
// an address and the roll number otherwise.
func (r *MemberRepository) FindByLoginWithSecret(ctx context.Context, identifier string) (*Member, error) {
	if strings.Contains(identifier, "@") {
		return r.findOne(ctx, bson.M{"contact_email": NormalizeEmail(identifier)})
	}
	return r.findOne(ctx, bson.M{"roll_number": NormalizeRollNumber(identifier)})
}

func (r *MemberRepository) FindByActivationToken(ctx context.Context, token string) (*Member, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"activation_token": token}, options.FindOne().SetProjection(withoutSecret))
}

// ListPending returns members that registered but were not approved yet, oldest first.
func (r *MemberRepository) ListPending(ctx context.Context) ([]*Member, error) {
	opts := options.Find().SetProjection(withoutSecret).SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"approved": false}, opts)
	if err != nil {
		return nil, err
	}
	members := []*Member{}
	if err := cursor.All(ctx, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (r *MemberRepository) Create(ctx context.Context, m *Member) error {
	now := time.Now().UTC()
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	m.ContactEmail = NormalizeEmail(m.ContactEmail)
	m.RollNumber = NormalizeRollNumber(m.RollNumber)
	m.CreatedAt = now
	m.UpdatedAt = now
	_, err := r.collection.InsertOne(ctx, m)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *MemberRepository) update(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := r.collection.UpdateByID(ctx, id, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MemberRepository) Approve(ctx context.Context, id primitive.ObjectID, token string, expiry time.Time) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{
		"approved":                true,
		"activation_token":        token,
		"activation_token_expiry": expiry,
		"updated_at":              time.Now().UTC(),
	}})
}

func (r *MemberRepository) Activate(ctx context.Context, id primitive.ObjectID, hash string) error {
	return r.update(ctx, id, bson.M{
		"$set":   bson.M{"password": hash, "is_activated": true, "login_attempts": 0, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"activation_token": "", "activation_token_expiry": "", "lock_until": ""},
		"$inc":   bson.M{"token_version": 1},
	})
}

func (r *MemberRepository) SetPassword(ctx context.Context, id primitive.ObjectID, hash string) error {
	return r.update(ctx, id, bson.M{
		"$set":   bson.M{"password": hash, "login_attempts": 0, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"lock_until": ""},
		"$inc":   bson.M{"token_version": 1},
	})
}

func (r *MemberRepository) SetPermissions(ctx context.Context, id primitive.ObjectID, p Permissions) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{"permissions": p, "updated_at": time.Now().UTC()}})
}

func (r *MemberRepository) ClaimLoginAttempt(ctx context.Context, id primitive.ObjectID, now time.Time, policy LockoutPolicy) (int, *time.Time, error) {
	return claimLoginAttempt(ctx, r.collection, id, now, policy)
}

func (r *MemberRepository) ResetLoginAttempts(ctx context.Context, id primitive.ObjectID) error {
	return r.update(ctx, id, resetLoginUpdate())
}

// ClearExpiredActivationTokens unsets activation tokens whose expiry passed
// for members that never activated.
func (r *MemberRepository) ClearExpiredActivationTokens(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{
		"is_activated":            false,
		"activation_token_expiry": bson.M{"$lte": now},
	}
	update := bson.M{"$unset": bson.M{"activation_token": "", "activation_token_expiry": ""}}
	res, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// claimLoginAttempt increments login_attempts on an unlocked record and sets
// lock_until from the new count in the same findAndModify.
func claimLoginAttempt(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID, now time.Time, policy LockoutPolicy) (int, *time.Time, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"lock_until": nil},
			bson.M{"lock_until": bson.M{"$lte": now}},
		},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"login_attempts": 1, "lock_until": 1})

	var claimed struct {
		LoginAttempts int        `bson:"login_attempts"`
		LockUntil     *time.Time `bson:"lock_until,omitempty"`
	}
	err := coll.FindOneAndUpdate(ctx, filter, claimPipeline(now, policy), opts).Decode(&claimed)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := coll.CountDocuments(ctx, bson.M{"_id": id})
		if cerr != nil {
			return 0, nil, cerr
		}
		if n == 0 {
			return 0, nil, ErrNotFound
		}
		return 0, nil, ErrLocked
	}
	if err != nil {
		return 0, nil, err
	}
	return claimed.LoginAttempts, claimed.LockUntil, nil
}

// claimPipeline mirrors LockoutPolicy.LockFor as an update pipeline:
// lock_until = now + min(base * 2^(attempts-max), cap) once attempts >= max.
func claimPipeline(now time.Time, policy LockoutPolicy) mongo.Pipeline {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "login_attempts", Value: bson.D{{Key: "$add", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$login_attempts", 0}}}, 1,
			}}}},
			{Key: "updated_at", Value: now},
		}}},
	}
	if policy.MaxAttempts <= 0 {
		return pipeline
	}

	var lockMillis any = bson.D{{Key: "$multiply", Value: bson.A{
		policy.Base.Milliseconds(),
		bson.D{{Key: "$pow", Value: bson.A{2, bson.D{{Key: "$subtract", Value: bson.A{"$login_attempts", policy.MaxAttempts}}}}}},
	}}}
	if policy.Max > 0 {
		lockMillis = bson.D{{Key: "$min", Value: bson.A{lockMillis, policy.Max.Milliseconds()}}}
	}
	return append(pipeline, bson.D{{Key: "$set", Value: bson.D{
		{Key: "lock_until", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$gte", Value: bson.A{"$login_attempts", policy.MaxAttempts}}},
			bson.D{{Key: "$add", Value: bson.A{now, lockMillis}}},
			"$$REMOVE",
		}}}},
	}}})
}

func resetLoginUpdate() bson.M {
	return bson.M{
		"$set":   bson.M{"login_attempts": 0, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"lock_until": ""},
	}
}
