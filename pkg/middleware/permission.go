package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"SocietyPortal/internal/access"
	"SocietyPortal/internal/identity"
	"SocietyPortal/pkg/response"
)

// Guard mounts authorization checks. It must run after Authenticate.
type Guard struct {
	engine *access.Engine
	logger *zap.Logger
}

func NewGuard(engine *access.Engine, logger *zap.Logger) *Guard {
	return &Guard{engine: engine, logger: logger}
}

func (g *Guard) RequireCapability(capability identity.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, ok := identity.SessionFromContext(c.Request().Context())
			if !ok {
				return response.Fail(c, http.StatusUnauthorized, "Authentication required")
			}
			if err := g.engine.Authorize(s, capability); err != nil {
				var ce *access.ClearanceError
				if errors.As(err, &ce) {
					return response.Fail(c, http.StatusForbidden, "Insufficient clearance: "+string(ce.Capability)+" required")
				}
				return response.Fail(c, http.StatusForbidden, "Insufficient clearance")
			}
			return next(c)
		}
	}
}

func (g *Guard) RequireSuper() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, ok := identity.SessionFromContext(c.Request().Context())
			if !ok {
				return response.Fail(c, http.StatusUnauthorized, "Authentication required")
			}
			if err := g.engine.AuthorizeSuper(s); err != nil {
				g.logger.Info("Super-only route refused",
					zap.String("identity_id", s.ID),
					zap.String("path", c.Path()))
				return response.Fail(c, http.StatusForbidden, "Super administrator access required")
			}
			return next(c)
		}
	}
}
