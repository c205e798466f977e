package identity

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Operator is a primary administrator record. Operators are provisioned, not
// self-registered, and are never subject to the approval workflow.
type Operator struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email         string             `bson:"email" json:"email"`
	PasswordHash  string             `bson:"password,omitempty" json:"-"`
	IsSuperAdmin  bool               `bson:"is_super_admin" json:"isSuperAdmin"`
	IsActive      bool               `bson:"is_active" json:"isActive"`
	LoginAttempts int                `bson:"login_attempts" json:"-"`
	LockUntil     *time.Time         `bson:"lock_until,omitempty" json:"-"`
	TokenVersion  int                `bson:"token_version" json:"-"`
	Permissions   Permissions        `bson:"permissions" json:"permissions"`
	CreatedAt     time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updatedAt"`
}

// Member is a candidate or board member record. It becomes usable for
// sessions only once approved and activated.
type Member struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName              string             `bson:"full_name" json:"fullName"`
	RollNumber            string             `bson:"roll_number" json:"rollNumber"`
	ContactEmail          string             `bson:"contact_email" json:"contactEmail"`
	Approved              bool               `bson:"approved" json:"approved"`
	IsActivated           bool               `bson:"is_activated" json:"isActivated"`
	ActivationToken       string             `bson:"activation_token,omitempty" json:"-"`
	ActivationTokenExpiry *time.Time         `bson:"activation_token_expiry,omitempty" json:"-"`
	PasswordHash          string             `bson:"password,omitempty" json:"-"`
	LoginAttempts         int                `bson:"login_attempts" json:"-"`
	LockUntil             *time.Time         `bson:"lock_until,omitempty" json:"-"`
	TokenVersion          int                `bson:"token_version" json:"-"`
	Permissions           Permissions        `bson:"permissions" json:"permissions"`
	CreatedAt             time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt             time.Time          `bson:"updated_at" json:"updatedAt"`
}

// Kind tags which collection backs an Identity.
type Kind int

const (
	KindOperator Kind = iota + 1
	KindMember
)

func (k Kind) String() string {
	switch k {
	case KindOperator:
		return "operator"
	case KindMember:
		return "member"
	default:
		return "unknown"
	}
}

// Identity holds exactly one of the two record variants.
type Identity struct {
	kind     Kind
	operator *Operator
	member   *Member
}

func OperatorIdentity(o *Operator) Identity {
	return Identity{kind: KindOperator, operator: o}
}

func MemberIdentity(m *Member) Identity {
	return Identity{kind: KindMember, member: m}
}

func (i Identity) Kind() Kind { return i.kind }

func (i Identity) Operator() (*Operator, bool) {
	return i.operator, i.kind == KindOperator && i.operator != nil
}

func (i Identity) Member() (*Member, bool) {
	return i.member, i.kind == KindMember && i.member != nil
}

// Session is the normalized identity attached to an authenticated request.
// Consumers never need to know which variant produced it.
type Session struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Kind         Kind            `json:"-"`
	Permissions  map[string]bool `json:"permissions"`
	TokenVersion int             `json:"-"`
}

// Normalize projects either variant onto the Session shape. The email is
// bridged from the operator's email field or the member's contact email.
func Normalize(i Identity) Session {
	switch i.kind {
	case KindOperator:
		o := i.operator
		return Session{
			ID:           o.ID.Hex(),
			Email:        NormalizeEmail(o.Email),
			Kind:         KindOperator,
			Permissions:  o.Permissions.Map(),
			TokenVersion: o.TokenVersion,
		}
	case KindMember:
		m := i.member
		return Session{
			ID:           m.ID.Hex(),
			Email:        NormalizeEmail(m.ContactEmail),
			Kind:         KindMember,
			Permissions:  m.Permissions.Map(),
			TokenVersion: m.TokenVersion,
		}
	}
	return Session{}
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeRollNumber trims and upper-cases a roll number.
func NormalizeRollNumber(roll string) string {
	return strings.ToUpper(strings.TrimSpace(roll))
}
