package audit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"SocietyPortal/pkg/response"
)

type Handler struct {
	store  Store
	logger *zap.Logger
}

func NewHandler(store Store, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// List serves GET /api/audit-logs?category=&actorId=&limit=
func (h *Handler) List(c echo.Context) error {
	var f ListFilter

	if raw := strings.ToUpper(strings.TrimSpace(c.QueryParam("category"))); raw != "" {
		if !IsCategory(raw) {
			return response.Fail(c, http.StatusBadRequest, "unknown category: "+raw)
		}
		f.Category = Category(raw)
	}
	f.ActorID = strings.TrimSpace(c.QueryParam("actorId"))
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return response.Fail(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		f.Limit = n
	}

	entries, err := h.store.List(c.Request().Context(), f)
	if err != nil {
		h.logger.Error("Failed to list audit entries", zap.Error(err))
		return response.Fail(c, http.StatusInternalServerError, "could not load audit log")
	}
	return response.OK(c, http.StatusOK, echo.Map{"logs": entries, "count": len(entries)})
}
