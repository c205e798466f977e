package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"SocietyPortal/internal/identity"
	"SocietyPortal/internal/token"
	"SocietyPortal/pkg/response"
)

// Authenticator turns a bearer token into a session on the request context.
type Authenticator struct {
	tokens   *token.Service
	resolver *identity.Resolver
	logger   *zap.Logger
}

func NewAuthenticator(tokens *token.Service, resolver *identity.Resolver, logger *zap.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, resolver: resolver, logger: logger}
}

func bearerToken(header string) (string, bool) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// Authenticate verifies the token, resolves and gates the identity and
// rejects tokens minted before the identity's last credential change.
func (a *Authenticator) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return response.Fail(c, http.StatusUnauthorized, "Authentication required")
		}
		raw, ok := bearerToken(header)
		if !ok {
			return response.Fail(c, http.StatusUnauthorized, "Malformed authorization header")
		}

		claims, err := a.tokens.Verify(raw)
		if err != nil {
			return response.Fail(c, http.StatusUnauthorized, "Invalid or expired token")
		}

		ctx := c.Request().Context()
		session, err := a.resolver.Resolve(ctx, claims.Subject)
		switch {
		case err == nil:
		case errors.Is(err, identity.ErrIdentityNotFound):
			return response.Fail(c, http.StatusUnauthorized, "Identity not recognized")
		case identity.IsGateError(err):
			return response.Fail(c, http.StatusUnauthorized, identity.GateMessage)
		default:
			a.logger.Error("Identity resolution failed",
				zap.String("identity_id", claims.Subject),
				zap.Error(err))
			return response.Fail(c, http.StatusInternalServerError, "Internal server error")
		}

		if session.TokenVersion != claims.Version {
			a.logger.Info("Rejected token with stale version",
				zap.String("identity_id", session.ID),
				zap.Int("token_version", claims.Version),
				zap.Int("current_version", session.TokenVersion))
			return response.Fail(c, http.StatusUnauthorized, "Invalid or expired token")
		}

		c.SetRequest(c.Request().WithContext(identity.WithSession(ctx, session)))
		return next(c)
	}
}
