// Package identitytest provides in-memory credential stores for tests.
package identitytest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"SocietyPortal/internal/identity"
)

// ErrUnavailable simulates a store outage when assigned to Err.
var ErrUnavailable = errors.New("identitytest: store unavailable")

type Operators struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]identity.Operator
	// Err, when set, is returned by every call.
	Err error
}

func NewOperators(ops ...*identity.Operator) *Operators {
	s := &Operators{byID: map[primitive.ObjectID]identity.Operator{}}
	for _, o := range ops {
		if o.ID.IsZero() {
			o.ID = primitive.NewObjectID()
		}
		o.Email = identity.NormalizeEmail(o.Email)
		s.byID[o.ID] = *o
	}
	return s
}

// Get returns a copy of the stored record including its secret.
func (s *Operators) Get(id primitive.ObjectID) (identity.Operator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	return o, ok
}

func (s *Operators) FindByID(_ context.Context, id primitive.ObjectID) (*identity.Operator, error) {
	o, err := s.find(id)
	if err != nil {
		return nil, err
	}
	o.PasswordHash = ""
	return o, nil
}

func (s *Operators) FindByIDWithSecret(_ context.Context, id primitive.ObjectID) (*identity.Operator, error) {
	return s.find(id)
}

func (s *Operators) find(id primitive.ObjectID) (*identity.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	o, ok := s.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &o, nil
}

func (s *Operators) FindByEmailWithSecret(_ context.Context, email string) (*identity.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	email = identity.NormalizeEmail(email)
	for _, o := range s.byID {
		if o.Email == email {
			return &o, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *Operators) Create(_ context.Context, o *identity.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	o.Email = identity.NormalizeEmail(o.Email)
	for _, existing := range s.byID {
		if existing.Email == o.Email {
			return identity.ErrDuplicate
		}
	}
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	s.byID[o.ID] = *o
	return nil
}

func (s *Operators) mutate(id primitive.ObjectID, fn func(*identity.Operator)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	o, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	fn(&o)
	o.UpdatedAt = time.Now().UTC()
	s.byID[id] = o
	return nil
}

func (s *Operators) SetPassword(_ context.Context, id primitive.ObjectID, hash string) error {
	return s.mutate(id, func(o *identity.Operator) {
		o.PasswordHash = hash
		o.LoginAttempts = 0
		o.LockUntil = nil
		o.TokenVersion++
	})
}

func (s *Operators) SetActive(_ context.Context, id primitive.ObjectID, active bool) error {
	return s.mutate(id, func(o *identity.Operator) {
		o.IsActive = active
		o.TokenVersion++
	})
}

func (s *Operators) SetPermissions(_ context.Context, id primitive.ObjectID, p identity.Permissions) error {
	return s.mutate(id, func(o *identity.Operator) { o.Permissions = p })
}

func (s *Operators) ClaimLoginAttempt(_ context.Context, id primitive.ObjectID, now time.Time, policy identity.LockoutPolicy) (int, *time.Time, error) {
	var (
		attempts int
		until    *time.Time
		locked   bool
	)
	err := s.mutate(id, func(o *identity.Operator) {
		if locked = policy.Locked(o.LockUntil, now); locked {
			return
		}
		o.LoginAttempts++
		o.LockUntil = policy.LockFor(o.LoginAttempts, now)
		attempts, until = o.LoginAttempts, o.LockUntil
	})
	if err == nil && locked {
		err = identity.ErrLocked
	}
	return attempts, until, err
}

func (s *Operators) ResetLoginAttempts(_ context.Context, id primitive.ObjectID) error {
	return s.mutate(id, func(o *identity.Operator) {
		o.LoginAttempts = 0
		o.LockUntil = nil
	})
}

type Members struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]identity.Member
	Err  error
}

func NewMembers(members ...*identity.Member) *Members {
	s := &Members{byID: map[primitive.ObjectID]identity.Member{}}
	for _, m := range members {
		if m.ID.IsZero() {
			m.ID = primitive.NewObjectID()
		}
		m.ContactEmail = identity.NormalizeEmail(m.ContactEmail)
		m.RollNumber = identity.NormalizeRollNumber(m.RollNumber)
		s.byID[m.ID] = *m
	}
	return s
}

func (s *Members) Get(id primitive.ObjectID) (identity.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	return m, ok
}

func (s *Members) first(match func(identity.Member) bool) (*identity.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, m := range s.byID {
		if match(m) {
			return &m, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *Members) FindByID(_ context.Context, id primitive.ObjectID) (*identity.Member, error) {
	m, err := s.first(func(m identity.Member) bool { return m.ID == id })
	if err != nil {
		return nil, err
	}
	m.PasswordHash = ""
	return m, nil
}

func (s *Members) FindByIDWithSecret(_ context.Context, id primitive.ObjectID) (*identity.Member, error) {
	return s.first(func(m identity.Member) bool { return m.ID == id })
}

func (s *Members) FindByLoginWithSecret(_ context.Context, identifier string) (*identity.Member, error) {
	if strings.Contains(identifier, "@") {
		email := identity.NormalizeEmail(identifier)
		return s.first(func(m identity.Member) bool { return m.ContactEmail == email })
	}
	roll := identity.NormalizeRollNumber(identifier)
	return s.first(func(m identity.Member) bool { return m.RollNumber == roll })
}

func (s *Members) FindByActivationToken(_ context.Context, token string) (*identity.Member, error) {
	if token == "" {
		return nil, identity.ErrNotFound
	}
	m, err := s.first(func(m identity.Member) bool { return m.ActivationToken == token })
	if err != nil {
		return nil, err
	}
	m.PasswordHash = ""
	return m, nil
}

func (s *Members) ListPending(_ context.Context) ([]*identity.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []*identity.Member{}
	for _, m := range s.byID {
		if !m.Approved {
			m := m
			m.PasswordHash = ""
			out = append(out, &m)
		}
	}
	return out, nil
}

func (s *Members) Create(_ context.Context, m *identity.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	m.ContactEmail = identity.NormalizeEmail(m.ContactEmail)
	m.RollNumber = identity.NormalizeRollNumber(m.RollNumber)
	for _, existing := range s.byID {
		if existing.ContactEmail == m.ContactEmail || existing.RollNumber == m.RollNumber {
			return identity.ErrDuplicate
		}
	}
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	s.byID[m.ID] = *m
	return nil
}

func (s *Members) mutate(id primitive.ObjectID, fn func(*identity.Member)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	m, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	fn(&m)
	m.UpdatedAt = time.Now().UTC()
	s.byID[id] = m
	return nil
}

func (s *Members) Approve(_ context.Context, id primitive.ObjectID, token string, expiry time.Time) error {
	return s.mutate(id, func(m *identity.Member) {
		m.Approved = true
		m.ActivationToken = token
		m.ActivationTokenExpiry = &expiry
	})
}

func (s *Members) Activate(_ context.Context, id primitive.ObjectID, hash string) error {
	return s.mutate(id, func(m *identity.Member) {
		m.PasswordHash = hash
		m.IsActivated = true
		m.ActivationToken = ""
		m.ActivationTokenExpiry = nil
		m.LoginAttempts = 0
		m.LockUntil = nil
		m.TokenVersion++
	})
}

func (s *Members) SetPassword(_ context.Context, id primitive.ObjectID, hash string) error {
	return s.mutate(id, func(m *identity.Member) {
		m.PasswordHash = hash
		m.LoginAttempts = 0
		m.LockUntil = nil
		m.TokenVersion++
	})
}

func (s *Members) SetPermissions(_ context.Context, id primitive.ObjectID, p identity.Permissions) error {
	return s.mutate(id, func(m *identity.Member) { m.Permissions = p })
}

func (s *Members) ClaimLoginAttempt(_ context.Context, id primitive.ObjectID, now time.Time, policy identity.LockoutPolicy) (int, *time.Time, error) {
	var (
		attempts int
		until    *time.Time
		locked   bool
	)
	err := s.mutate(id, func(m *identity.Member) {
		if locked = policy.Locked(m.LockUntil, now); locked {
			return
		}
		m.LoginAttempts++
		m.LockUntil = policy.LockFor(m.LoginAttempts, now)
		attempts, until = m.LoginAttempts, m.LockUntil
	})
	if err == nil && locked {
		err = identity.ErrLocked
	}
	return attempts, until, err
}

func (s *Members) ResetLoginAttempts(_ context.Context, id primitive.ObjectID) error {
	return s.mutate(id, func(m *identity.Member) {
		m.LoginAttempts = 0
		m.LockUntil = nil
	})
}

func (s *Members) ClearExpiredActivationTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for id, m := range s.byID {
		if !m.IsActivated && m.ActivationTokenExpiry != nil && !m.ActivationTokenExpiry.After(now) {
			m.ActivationToken = ""
			m.ActivationTokenExpiry = nil
			s.byID[id] = m
			n++
		}
	}
	return n, nil
}

var (
	_ identity.OperatorStore = (*Operators)(nil)
	_ identity.MemberStore   = (*Members)(nil)
)
