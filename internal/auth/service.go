package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"SocietyPortal/internal/audit"
	"SocietyPortal/internal/identity"
	"SocietyPortal/internal/metrics"
	"SocietyPortal/internal/token"
)

var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountDisabled        = errors.New("account disabled")
	ErrMissingFields          = errors.New("required fields are missing")
	ErrInvalidEmail           = errors.New("invalid email address")
	ErrInvalidActivationToken = errors.New("invalid activation token")
	ErrActivationExpired      = errors.New("activation token expired")
)

type Service struct {
	operators identity.OperatorStore
	members   identity.MemberStore
	tokens    *token.Service
	auditor   audit.Auditor
	policy    identity.LockoutPolicy
	logger    *zap.Logger
	now       func() time.Time
	// checkPassword is CheckPasswordHash outside tests.
	checkPassword func(password, hash string) bool
}

func NewService(
	operators identity.OperatorStore,
	members identity.MemberStore,
	tokens *token.Service,
	auditor audit.Auditor,
	policy identity.LockoutPolicy,
	logger *zap.Logger,
) *Service {
	return &Service{
		operators:     operators,
		members:       members,
		tokens:        tokens,
		auditor:       auditor,
		policy:        policy,
		logger:        logger,
		now:           time.Now,
		checkPassword: CheckPasswordHash,
	}
}

// Login authenticates by email (operators, then members) or roll number
// (members only) and issues a session token.
func (s *Service) Login(ctx context.Context, req LoginRequest, meta audit.RequestMeta) (*LoginResult, error) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		return nil, ErrMissingFields
	}

	if strings.Contains(identifier, "@") {
		op, err := s.operators.FindByEmailWithSecret(ctx, identifier)
		switch {
		case err == nil:
			return s.loginOperator(ctx, op, req.Password, meta)
		case !errors.Is(err, identity.ErrNotFound):
			return nil, fmt.Errorf("find operator: %w", err)
		}
	}

	m, err := s.members.FindByLoginWithSecret(ctx, identifier)
	if errors.Is(err, identity.ErrNotFound) {
		metrics.LoginAttempts.WithLabelValues("unknown").Inc()
		s.checkPassword(req.Password, placeholderHash())
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find member: %w", err)
	}
	return s.loginMember(ctx, m, req.Password, meta)
}

// Locked accounts answer exactly like a wrong password, and their real hash
// is never compared until the lock expires.
func (s *Service) loginOperator(ctx context.Context, op *identity.Operator, password string, meta audit.RequestMeta) (*LoginResult, error) {
	attempts, until, err := s.operators.ClaimLoginAttempt(ctx, op.ID, s.now(), s.policy)
	if err != nil {
		return nil, s.rejectClaim(ctx, op.ID.Hex(), password, err, meta)
	}
	if !s.checkPassword(password, op.PasswordHash) {
		s.failed(ctx, op.ID.Hex(), attempts, until, meta)
		return nil, ErrInvalidCredentials
	}
	s.resetAttempts(ctx, s.operators, op.ID)
	if !op.IsActive {
		metrics.LoginAttempts.WithLabelValues("disabled").Inc()
		return nil, ErrAccountDisabled
	}
	return s.issue(ctx, identity.OperatorIdentity(op), meta)
}

func (s *Service) loginMember(ctx context.Context, m *identity.Member, password string, meta audit.RequestMeta) (*LoginResult, error) {
	ident := identity.MemberIdentity(m)
	if m.PasswordHash == "" {
		if err := identity.Gate(ident); err != nil {
			metrics.LoginAttempts.WithLabelValues("gated").Inc()
			return nil, err
		}
		s.checkPassword(password, placeholderHash())
		return nil, ErrInvalidCredentials
	}
	attempts, until, err := s.members.ClaimLoginAttempt(ctx, m.ID, s.now(), s.policy)
	if err != nil {
		return nil, s.rejectClaim(ctx, m.ID.Hex(), password, err, meta)
	}
	if !s.checkPassword(password, m.PasswordHash) {
		s.failed(ctx, m.ID.Hex(), attempts, until, meta)
		return nil, ErrInvalidCredentials
	}
	s.resetAttempts(ctx, s.members, m.ID)
	if err := identity.Gate(ident); err != nil {
		metrics.LoginAttempts.WithLabelValues("gated").Inc()
		return nil, err
	}
	return s.issue(ctx, ident, meta)
}

func (s *Service) rejectClaim(ctx context.Context, id, password string, err error, meta audit.RequestMeta) error {
	s.checkPassword(password, placeholderHash())
	switch {
	case errors.Is(err, identity.ErrLocked):
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		s.auditor.Record(ctx, id, "LOGIN_FAILED", map[string]any{"locked": true}, meta)
		return ErrInvalidCredentials
	case errors.Is(err, identity.ErrNotFound):
		return ErrInvalidCredentials
	}
	return fmt.Errorf("claim login attempt: %w", err)
}

func (s *Service) resetAttempts(ctx context.Context, store identity.LoginAttempts, id primitive.ObjectID) {
	if err := store.ResetLoginAttempts(ctx, id); err != nil {
		s.logger.Error("Failed to reset login attempts", zap.String("identity_id", id.Hex()), zap.Error(err))
	}
}

func (s *Service) failed(ctx context.Context, id string, attempts int, until *time.Time, meta audit.RequestMeta) {
	metrics.LoginAttempts.WithLabelValues("failure").Inc()
	details := map[string]any{"attempts": attempts}
	if until != nil {
		details["lockedUntil"] = until.UTC()
		s.logger.Warn("Account locked after repeated failures",
			zap.String("identity_id", id),
			zap.Int("attempts", attempts),
			zap.Time("lock_until", *until))
	}
	s.auditor.Record(ctx, id, "LOGIN_FAILED", details, meta)
}

func (s *Service) issue(ctx context.Context, ident identity.Identity, meta audit.RequestMeta) (*LoginResult, error) {
	session := identity.Normalize(ident)
	tok, exp, err := s.tokens.Issue(session.ID, session.TokenVersion)
	if err != nil {
		return nil, err
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.auditor.Record(ctx, session.ID, "LOGIN", map[string]any{"kind": session.Kind.String()}, meta)
	return &LoginResult{Token: tok, ExpiresAt: exp, Identity: session}, nil
}

// Register creates an unapproved, inactive member record.
func (s *Service) Register(ctx context.Context, req RegisterRequest, meta audit.RequestMeta) (*identity.Member, error) {
	fullName := strings.TrimSpace(req.FullName)
	roll := identity.NormalizeRollNumber(req.RollNumber)
	email := identity.NormalizeEmail(req.ContactEmail)
	if fullName == "" || roll == "" || email == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}

	m := &identity.Member{
		FullName:     fullName,
		RollNumber:   roll,
		ContactEmail: email,
		Permissions:  identity.DefaultMemberPermissions(),
	}
	if err := s.members.Create(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("Member registered", zap.String("identity_id", m.ID.Hex()), zap.String("roll_number", roll))
	s.auditor.Record(ctx, m.ID.Hex(), "MEMBER_REGISTRATION", map[string]any{"rollNumber": roll}, meta)
	return m, nil
}

// Activate consumes an activation token and sets the member's first password.
func (s *Service) Activate(ctx context.Context, req ActivateRequest, meta audit.RequestMeta) error {
	tok := strings.TrimSpace(req.Token)
	if tok == "" || req.Password == "" {
		return ErrMissingFields
	}
	if err := ValidatePassword(req.Password); err != nil {
		return err
	}

	m, err := s.members.FindByActivationToken(ctx, tok)
	if errors.Is(err, identity.ErrNotFound) {
		return ErrInvalidActivationToken
	}
	if err != nil {
		return fmt.Errorf("find activation token: %w", err)
	}
	if !m.Approved {
		return identity.ErrPendingApproval
	}
	if m.IsActivated {
		return ErrInvalidActivationToken
	}
	if m.ActivationTokenExpiry == nil || !s.now().Before(*m.ActivationTokenExpiry) {
		return ErrActivationExpired
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.members.Activate(ctx, m.ID, hash); err != nil {
		return fmt.Errorf("activate member: %w", err)
	}
	s.logger.Info("Member activated", zap.String("identity_id", m.ID.Hex()))
	s.auditor.Record(ctx, m.ID.Hex(), "ACCOUNT_ACTIVATION", nil, meta)
	return nil
}

// ChangePassword verifies the current password, stores the new one and
// returns a fresh token. Tokens issued before the change stop verifying.
func (s *Service) ChangePassword(ctx context.Context, session identity.Session, req ChangePasswordRequest, meta audit.RequestMeta) (*LoginResult, error) {
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return nil, ErrMissingFields
	}
	if err := ValidatePassword(req.NewPassword); err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(session.ID)
	if err != nil {
		return nil, identity.ErrIdentityNotFound
	}

	var (
		current   string
		version   int
		setSecret func(context.Context, primitive.ObjectID, string) error
	)
	switch session.Kind {
	case identity.KindOperator:
		op, err := s.operators.FindByIDWithSecret(ctx, oid)
		if err != nil {
			return nil, lookupErr(err)
		}
		current, version, setSecret = op.PasswordHash, op.TokenVersion, s.operators.SetPassword
	case identity.KindMember:
		m, err := s.members.FindByIDWithSecret(ctx, oid)
		if err != nil {
			return nil, lookupErr(err)
		}
		current, version, setSecret = m.PasswordHash, m.TokenVersion, s.members.SetPassword
	default:
		return nil, identity.ErrIdentityNotFound
	}

	if !CheckPasswordHash(req.CurrentPassword, current) {
		return nil, ErrInvalidCredentials
	}
	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := setSecret(ctx, oid, hash); err != nil {
		return nil, fmt.Errorf("store password: %w", err)
	}

	version++
	tok, exp, err := s.tokens.Issue(session.ID, version)
	if err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, session.ID, "PASSWORD_CHANGE", nil, meta)

	session.TokenVersion = version
	return &LoginResult{Token: tok, ExpiresAt: exp, Identity: session}, nil
}

func lookupErr(err error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return identity.ErrIdentityNotFound
	}
	return err
}
