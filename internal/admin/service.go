package admin

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"SocietyPortal/internal/audit"
	"SocietyPortal/internal/auth"
	"SocietyPortal/internal/config"
	"SocietyPortal/internal/identity"
	"SocietyPortal/internal/ids"
)

const activationTokenBytes = 32

var (
	ErrAlreadyActivated = errors.New("member is already activated")
	ErrNotAnOperator    = errors.New("identity is not an operator")
	ErrSelfDisable      = errors.New("cannot disable your own account")
	ErrNoChanges        = errors.New("no permission changes supplied")
	ErrInvalidEmail     = errors.New("invalid email address")
)

// Mailer delivers activation links.
type Mailer interface {
	Enabled() bool
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Options carries the administration settings read at startup.
type Options struct {
	ActivationTTL time.Duration
	ActivationURL string
}

func NewOptions(cfg *config.Config) Options {
	return Options{ActivationTTL: cfg.Auth.ActivationTTL, ActivationURL: cfg.Auth.ActivationURL}
}

type Service struct {
	operators identity.OperatorStore
	members   identity.MemberStore
	resolver  *identity.Resolver
	mailer    Mailer
	auditor   audit.Auditor
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(
	operators identity.OperatorStore,
	members identity.MemberStore,
	resolver *identity.Resolver,
	mailer Mailer,
	auditor audit.Auditor,
	opts Options,
	logger *zap.Logger,
) *Service {
	return &Service{
		operators: operators,
		members:   members,
		resolver:  resolver,
		mailer:    mailer,
		auditor:   auditor,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, identity.ErrIdentityNotFound
	}
	return oid, nil
}

func notFound(err error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return identity.ErrIdentityNotFound
	}
	return err
}

func (s *Service) ListPending(ctx context.Context) ([]*identity.Member, error) {
	return s.members.ListPending(ctx)
}

// Approve marks a member approved and issues a fresh activation token.
// Approving an approved member that has not activated yet reissues the token.
func (s *Service) Approve(ctx context.Context, actor identity.Session, memberID string, meta audit.RequestMeta) (*Approval, error) {
	oid, err := parseID(memberID)
	if err != nil {
		return nil, err
	}
	m, err := s.members.FindByID(ctx, oid)
	if err != nil {
		return nil, notFound(err)
	}
	if m.IsActivated {
		return nil, ErrAlreadyActivated
	}

	tok, err := ids.Secret(activationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate activation token: %w", err)
	}
	expiry := s.now().UTC().Add(s.opts.ActivationTTL)
	if err := s.members.Approve(ctx, oid, tok, expiry); err != nil {
		return nil, notFound(err)
	}

	result := &Approval{MemberID: m.ID.Hex(), ExpiresAt: expiry, Reissued: m.Approved}
	result.EmailSent = s.sendActivation(ctx, m, tok, expiry)

	s.auditor.Record(ctx, actor.ID, "APPROVE_MEMBERSHIP", map[string]any{
		"memberId":   m.ID.Hex(),
		"rollNumber": m.RollNumber,
		"reissued":   result.Reissued,
	}, meta)
	return result, nil
}

var activationEmail = template.Must(template.New("activation").Parse(
	`<p>Hi {{.Name}},</p><p>Your board membership was approved. Set your password here: <a href="{{.Link}}">{{.Link}}</a></p><p>The link expires {{.Expires}}.</p>`))

func (s *Service) sendActivation(ctx context.Context, m *identity.Member, tok string, expiry time.Time) bool {
	if s.mailer == nil || !s.mailer.Enabled() {
		s.logger.Warn("Activation email not sent: mail disabled", zap.String("identity_id", m.ID.Hex()))
		return false
	}
	var body strings.Builder
	err := activationEmail.Execute(&body, struct{ Name, Link, Expires string }{
		Name:    m.FullName,
		Link:    s.opts.ActivationURL + "?token=" + tok,
		Expires: expiry.Format(time.RFC1123),
	})
	if err != nil {
		s.logger.Error("Failed to render activation email", zap.String("identity_id", m.ID.Hex()), zap.Error(err))
		return false
	}
	if err := s.mailer.SendEmail(ctx, m.ContactEmail, "Activate your society portal account", body.String()); err != nil {
		s.logger.Error("Failed to send activation email",
			zap.String("identity_id", m.ID.Hex()),
			zap.Error(err))
		return false
	}
	return true
}

// GrantPermissions applies capability changes to whichever variant id names.
func (s *Service) GrantPermissions(ctx context.Context, actor identity.Session, id string, changes map[string]bool, meta audit.RequestMeta) (identity.Session, error) {
	if len(changes) == 0 {
		return identity.Session{}, ErrNoChanges
	}
	ident, err := s.resolver.Lookup(ctx, id)
	if err != nil {
		return identity.Session{}, err
	}

	if op, ok := ident.Operator(); ok {
		if err := op.Permissions.Apply(changes); err != nil {
			return identity.Session{}, err
		}
		if err := s.operators.SetPermissions(ctx, op.ID, op.Permissions); err != nil {
			return identity.Session{}, notFound(err)
		}
	} else if m, ok := ident.Member(); ok {
		if err := m.Permissions.Apply(changes); err != nil {
			return identity.Session{}, err
		}
		if err := s.members.SetPermissions(ctx, m.ID, m.Permissions); err != nil {
			return identity.Session{}, notFound(err)
		}
	}

	updated := identity.Normalize(ident)
	s.auditor.Record(ctx, actor.ID, "GRANT_PERMISSIONS", map[string]any{
		"targetId":   updated.ID,
		"targetKind": updated.Kind.String(),
		"changes":    changes,
	}, meta)
	return updated, nil
}

// CreateOperator provisions a primary operator account.
func (s *Service) CreateOperator(ctx context.Context, actor identity.Session, req CreateOperatorRequest, meta audit.RequestMeta) (*identity.Operator, error) {
	email := identity.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, auth.ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	perms := identity.DefaultOperatorPermissions()
	if err := perms.Apply(req.Permissions); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	op := &identity.Operator{
		Email:        email,
		PasswordHash: hash,
		IsSuperAdmin: req.IsSuperAdmin,
		IsActive:     true,
		Permissions:  perms,
	}
	if err := s.operators.Create(ctx, op); err != nil {
		return nil, err
	}
	s.logger.Info("Operator provisioned", zap.String("identity_id", op.ID.Hex()), zap.String("by", actor.ID))
	s.auditor.Record(ctx, actor.ID, "CREATE_OPERATOR", map[string]any{"operatorId": op.ID.Hex(), "email": email}, meta)
	return op, nil
}

// SetOperatorStatus enables or disables an operator. Disabling invalidates
// every token issued to it.
func (s *Service) SetOperatorStatus(ctx context.Context, actor identity.Session, id string, active bool, meta audit.RequestMeta) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	if !active && actor.ID == oid.Hex() {
		return ErrSelfDisable
	}
	if _, err := s.operators.FindByID(ctx, oid); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			if _, merr := s.members.FindByID(ctx, oid); merr == nil {
				return ErrNotAnOperator
			}
			return identity.ErrIdentityNotFound
		}
		return err
	}
	if err := s.operators.SetActive(ctx, oid, active); err != nil {
		return notFound(err)
	}
	s.auditor.Record(ctx, actor.ID, "OPERATOR_STATUS_CHANGE", map[string]any{"operatorId": oid.Hex(), "active": active}, meta)
	return nil
}
