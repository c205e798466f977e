package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"SocietyPortal/internal/access"
	"SocietyPortal/internal/audit"
	"SocietyPortal/internal/identity"
	"SocietyPortal/pkg/response"
)

type Handler struct {
	service *Service
	engine  *access.Engine
	logger  *zap.Logger
}

func NewHandler(service *Service, engine *access.Engine, logger *zap.Logger) *Handler {
	return &Handler{service: service, engine: engine, logger: logger}
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return response.Fail(c, http.StatusBadRequest, "Invalid request")
	}
	res, err := h.service.Login(c.Request().Context(), req, audit.RequestMetaFrom(c.Request()))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, http.StatusOK, echo.Map{
		"token":     res.Token,
		"expiresAt": res.ExpiresAt,
		"identity":  res.Identity,
	})
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return response.Fail(c, http.StatusBadRequest, "Invalid request")
	}
	m, err := h.service.Register(c.Request().Context(), req, audit.RequestMetaFrom(c.Request()))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, http.StatusCreated, echo.Map{
		"message": "Registration received, awaiting board approval",
		"member":  m,
	})
}

func (h *Handler) Activate(c echo.Context) error {
	var req ActivateRequest
	if err := c.Bind(&req); err != nil {
		return response.Fail(c, http.StatusBadRequest, "Invalid request")
	}
	if err := h.service.Activate(c.Request().Context(), req, audit.RequestMetaFrom(c.Request())); err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, http.StatusOK, echo.Map{"message": "Account activated"})
}

func (h *Handler) Me(c echo.Context) error {
	s, ok := identity.SessionFromContext(c.Request().Context())
	if !ok {
		return response.Fail(c, http.StatusUnauthorized, "Not authenticated")
	}
	return response.OK(c, http.StatusOK, echo.Map{
		"identity": s,
		"kind":     s.Kind.String(),
		"isSuper":  h.engine.IsSuper(s),
	})
}

// Can reports whether the caller holds a capability without enforcing it.
func (h *Handler) Can(c echo.Context) error {
	s, ok := identity.SessionFromContext(c.Request().Context())
	if !ok {
		return response.Fail(c, http.StatusUnauthorized, "Not authenticated")
	}
	name := c.Param("capability")
	if !identity.IsKnownCapability(name) {
		return response.Fail(c, http.StatusBadRequest, "Unknown capability: "+name)
	}
	err := h.engine.Authorize(s, identity.Capability(name))
	return response.OK(c, http.StatusOK, echo.Map{"capability": name, "allowed": err == nil})
}

func (h *Handler) ChangePassword(c echo.Context) error {
	s, ok := identity.SessionFromContext(c.Request().Context())
	if !ok {
		return response.Fail(c, http.StatusUnauthorized, "Not authenticated")
	}
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return response.Fail(c, http.StatusBadRequest, "Invalid request")
	}
	res, err := h.service.ChangePassword(c.Request().Context(), s, req, audit.RequestMetaFrom(c.Request()))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, http.StatusOK, echo.Map{
		"message":   "Password changed",
		"token":     res.Token,
		"expiresAt": res.ExpiresAt,
	})
}

func (h *Handler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountDisabled):
		return response.Fail(c, http.StatusUnauthorized, "Invalid credentials")
	case identity.IsGateError(err):
		h.logger.Info("Login blocked by activation gate", zap.Error(err))
		return response.Fail(c, http.StatusUnauthorized, identity.GateMessage)
	case errors.Is(err, identity.ErrIdentityNotFound):
		return response.Fail(c, http.StatusUnauthorized, "Identity not recognized")
	case errors.Is(err, identity.ErrDuplicate):
		return response.Fail(c, http.StatusConflict, "Roll number or email already registered")
	case errors.Is(err, ErrMissingFields), errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
		return response.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidActivationToken), errors.Is(err, ErrActivationExpired):
		return response.Fail(c, http.StatusBadRequest, "Activation link is invalid or has expired")
	}
	h.logger.Error("Auth request failed", zap.String("path", c.Path()), zap.Error(err))
	return response.Fail(c, http.StatusInternalServerError, "Internal server error")
}
