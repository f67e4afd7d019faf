package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/workspace-audit/internal/asset"
)

// HandleAssets serves one filtered, sorted page of the merged inventory.
func (h *Handlers) HandleAssets(c *echo.Context) error {
	filters, sort, limit, offset, err := asset.ParseQuery(c.Request().URL.Query())
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	result, err := h.Assets.GetAssets(c.Request().Context(), filters, sort, limit, offset)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	if result.Assets == nil {
		result.Assets = []asset.Asset{}
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) HandleAssetStats(c *echo.Context) error {
	stats, err := h.Assets.GetStats(c.Request().Context())
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
