package admin

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"SocietyPortal/internal/audit"
	"SocietyPortal/internal/auth"
	"SocietyPortal/internal/identity"
	"SocietyPortal/pkg/response"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) ListPending(c echo.Context) error {
	members, err := h.service.ListPending(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, http.StatusOK, echo.Map{"members": members, "count": len(members)})
}

func (h *Handler) Approve(c echo.Context) error {
	actor, _ := identity.SessionFromContext(c.Request().Context())
	res, err := h.service.Approve(c.Request().Context(), actor, c.Param("id"), audit.RequestMetaFrom(c.Request()))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, http.StatusOK, echo.Map{"approval": res})
}

func (h *Handler) GrantPermissions(c echo.Context) error {
	actor, _ := identity.SessionFromContext(c.Request().Context())
	var req GrantRequest
	if err := c.Bind(&req); err != nil {
		return response.Fail(c, http.StatusBadRequest, "Invalid request")
	}
	updated, err := h.service.GrantPermissions(c.Request().Context(), actor, c.Param("id"), req.Permissions, audit.RequestMetaFrom(c.Request()))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, http.StatusOK, echo.Map{"identity": updated})
}

func (h *Handler) CreateOperator(c echo.Context) error {
	actor, _ := identity.SessionFromContext(c.Request().Context())
	var req CreateOperatorRequest
	if err := c.Bind(&req); err != nil {
		return response.Fail(c, http.StatusBadRequest, "Invalid request")
	}
	op, err := h.service.CreateOperator(c.Request().Context(), actor, req, audit.RequestMetaFrom(c.Request()))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, http.StatusCreated, echo.Map{"operator": op})
}

func (h *Handler) SetOperatorStatus(c echo.Context) error {
	actor, _ := identity.SessionFromContext(c.Request().Context())
	var req StatusRequest
	if err := c.Bind(&req); err != nil || req.Active == nil {
		return response.Fail(c, http.StatusBadRequest, "active flag is required")
	}
	if err := h.service.SetOperatorStatus(c.Request().Context(), actor, c.Param("id"), *req.Active, audit.RequestMetaFrom(c.Request())); err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, http.StatusOK, echo.Map{"id": c.Param("id"), "active": *req.Active})
}

func (h *Handler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, identity.ErrIdentityNotFound):
		return response.Fail(c, http.StatusNotFound, "Identity not found")
	case errors.Is(err, identity.ErrDuplicate):
		return response.Fail(c, http.StatusConflict, "Email already registered")
	case errors.Is(err, ErrAlreadyActivated), errors.Is(err, ErrNotAnOperator):
		return response.Fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrUnknownCapability),
		errors.Is(err, ErrNoChanges),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrSelfDisable),
		errors.Is(err, auth.ErrMissingFields),
		errors.Is(err, auth.ErrWeakPassword):
		return response.Fail(c, http.StatusBadRequest, err.Error())
	}
	h.logger.Error("Admin request failed", zap.String("path", c.Path()), zap.Error(err))
	return response.Fail(c, http.StatusInternalServerError, "Internal server error")
}
