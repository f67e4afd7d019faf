package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/workspace-audit/internal/scan"
)

func (h *Handlers) HandleScans(c *echo.Context) error {
	return c.JSON(http.StatusOK, h.Scans.Snapshots())
}

func (h *Handlers) HandleScanProgress(c *echo.Context) error {
	platform, err := platformParam(c)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	snap, err := h.Scans.Progress(platform)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// HandleScanStart starts a background scan and returns at once. The body is
// optional; missing fields take the server defaults.
func (h *Handlers) HandleScanStart(c *echo.Context) error {
	platform, err := platformParam(c)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	var opts scan.Options
	if err := decodeJSONBody(c, &opts); err != nil {
		return h.RenderAPIError(c, err)
	}
	snap, err := h.Scans.StartBackground(platform, opts)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	return c.JSON(http.StatusAccepted, snap)
}

func (h *Handlers) HandleScanResume(c *echo.Context) error {
	platform, err := platformParam(c)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	snap, err := h.Scans.ResumeBackground(platform)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	return c.JSON(http.StatusAccepted, snap)
}

// HandleScanCancel asks a running scan to stop after its current page. The
// returned snapshot may still show the running phase.
func (h *Handlers) HandleScanCancel(c *echo.Context) error {
	platform, err := platformParam(c)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	snap, err := h.Scans.Cancel(platform)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}
