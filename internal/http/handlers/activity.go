package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/workspace-audit/internal/activity"
	"github.com/open-sspm/workspace-audit/internal/asset"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// HandleActivity lists recorded action outcomes, newest first.
func (h *Handlers) HandleActivity(c *echo.Context) error {
	limit := defaultActivityLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxActivityLimit {
			return h.RenderAPIError(c, asset.Invalid("limit must be between 1 and %d", maxActivityLimit))
		}
		limit = n
	}
	entries, err := h.Activity.List(c.Request().Context(), limit)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handlers) HandleActivityClear(c *echo.Context) error {
	if err := h.Activity.Clear(c.Request().Context()); err != nil {
		return h.RenderAPIError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
