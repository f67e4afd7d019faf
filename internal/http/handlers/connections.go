package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"
)

func (h *Handlers) HandleConnections(c *echo.Context) error {
	return c.JSON(http.StatusOK, h.Connections.StatusAll(c.Request().Context()))
}

// HandleConnection reports one platform. A platform that is known but not
// connected is still a 200 with IsConnected false.
func (h *Handlers) HandleConnection(c *echo.Context) error {
	platform, err := platformParam(c)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	return c.JSON(http.StatusOK, h.Connections.Status(c.Request().Context(), platform))
}
