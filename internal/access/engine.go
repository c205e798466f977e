package access

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"SocietyPortal/internal/config"
	"SocietyPortal/internal/identity"
	"SocietyPortal/internal/metrics"
)

var (
	ErrInsufficientClearance = errors.New("insufficient clearance")
	ErrSuperOnly             = errors.New("super administrator access required")
)

// ClearanceError names the capability a session was missing.
type ClearanceError struct {
	Capability identity.Capability
}

func (e *ClearanceError) Error() string {
	return fmt.Sprintf("insufficient clearance: %s required", e.Capability)
}

func (e *ClearanceError) Is(target error) bool {
	return target == ErrInsufficientClearance
}

// Config is what the engine reads at startup.
type Config struct {
	SuperEmail string
}

// Engine evaluates capability and super-only gates for authenticated sessions.
// It holds no per-identity state; every decision reads the session as given.
type Engine struct {
	superEmail string
	logger     *zap.Logger
}

func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{superEmail: cfg.SuperEmail, logger: logger}
}

// NewEngineFromConfig is the fx provider.
func NewEngineFromConfig(cfg *config.Config, logger *zap.Logger) *Engine {
	return NewEngine(Config{SuperEmail: cfg.Auth.SuperEmail}, logger)
}

// IsSuper compares both sides normalized, on every call.
func (e *Engine) IsSuper(s identity.Session) bool {
	super := identity.NormalizeEmail(e.superEmail)
	return super != "" && identity.NormalizeEmail(s.Email) == super
}

// Authorize allows the super identity unconditionally. Everyone else needs
// generalAccess and the named capability.
func (e *Engine) Authorize(s identity.Session, c identity.Capability) error {
	if e.IsSuper(s) {
		metrics.AuthorizationDecisions.WithLabelValues(string(c), "allow_super").Inc()
		return nil
	}
	if s.Permissions[string(identity.GeneralAccess)] && s.Permissions[string(c)] {
		metrics.AuthorizationDecisions.WithLabelValues(string(c), "allow").Inc()
		return nil
	}
	metrics.AuthorizationDecisions.WithLabelValues(string(c), "deny").Inc()
	e.logger.Debug("Capability denied",
		zap.String("identity_id", s.ID),
		zap.String("capability", string(c)))
	return &ClearanceError{Capability: c}
}

// AuthorizeSuper passes only the super identity. Capability flags are ignored.
func (e *Engine) AuthorizeSuper(s identity.Session) error {
	if e.IsSuper(s) {
		metrics.AuthorizationDecisions.WithLabelValues("super", "allow").Inc()
		return nil
	}
	metrics.AuthorizationDecisions.WithLabelValues("super", "deny").Inc()
	e.logger.Debug("Super-only gate denied", zap.String("identity_id", s.ID))
	return ErrSuperOnly
}
