package identity

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OperatorStore is the persistence contract for operator records.
// FindByID never returns the password hash; the *WithSecret lookups do.
type OperatorStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*Operator, error)
	FindByEmailWithSecret(ctx context.Context, email string) (*Operator, error)
	FindByIDWithSecret(ctx context.Context, id primitive.ObjectID) (*Operator, error)
	Create(ctx context.Context, o *Operator) error
	SetPassword(ctx context.Context, id primitive.ObjectID, hash string) error
	SetActive(ctx context.Context, id primitive.ObjectID, active bool) error
	SetPermissions(ctx context.Context, id primitive.ObjectID, p Permissions) error
	LoginAttempts
}

// LoginAttempts counts login attempts per record. ClaimLoginAttempt
// increments the counter and applies the lock in one atomic write, and
// returns ErrLocked without counting while the record is locked at now.
type LoginAttempts interface {
	ClaimLoginAttempt(ctx context.Context, id primitive.ObjectID, now time.Time, policy LockoutPolicy) (int, *time.Time, error)
	ResetLoginAttempts(ctx context.Context, id primitive.ObjectID) error
}

// MemberStore is the persistence contract for board member records.
type MemberStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*Member, error)
	FindByLoginWithSecret(ctx context.Context, identifier string) (*Member, error)
	FindByIDWithSecret(ctx context.Context, id primitive.ObjectID) (*Member, error)
	FindByActivationToken(ctx context.Context, token string) (*Member, error)
	ListPending(ctx context.Context) ([]*Member, error)
	Create(ctx context.Context, m *Member) error
	Approve(ctx context.Context, id primitive.ObjectID, token string, expiry time.Time) error
	Activate(ctx context.Context, id primitive.ObjectID, hash string) error
	SetPassword(ctx context.Context, id primitive.ObjectID, hash string) error
	SetPermissions(ctx context.Context, id primitive.ObjectID, p Permissions) error
	LoginAttempts
	ClearExpiredActivationTokens(ctx context.Context, now time.Time) (int64, error)
}
