package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/workspace-audit/internal/asset"
)

const maxJSONBodyBytes = 1 << 20

// HandleAssetAction applies one action to one asset. The outcome is always
// in the body; the status reflects the failure kind.
func (h *Handlers) HandleAssetAction(c *echo.Context) error {
	action := asset.Action(strings.ToLower(strings.TrimSpace(c.Param("action"))))
	res := h.Actions.PerformAction(c.Request().Context(), c.Param("id"), action)
	if res.Success {
		return c.JSON(http.StatusOK, res)
	}
	status, ok := StatusForCode(res.ErrorKind)
	if !ok {
		err := res.Err()
		if err == nil {
			err = errors.New(res.Error)
		}
		return h.RenderError(c, err)
	}
	return c.JSON(status, res)
}

// HandleBatchAction applies one action to every id in the body. Per-item
// failures are reported inside a 200 response.
func (h *Handlers) HandleBatchAction(c *echo.Context) error {
	action, err := asset.ParseAction(c.Param("action"))
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	var req asset.BatchRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return h.RenderAPIError(c, err)
	}
	result, err := h.Actions.PerformBatch(c.Request().Context(), req.IDs, action)
	if err != nil {
		return h.RenderAPIError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// decodeJSONBody reads one JSON object into dst. An empty body leaves dst
// untouched.
func decodeJSONBody(c *echo.Context, dst any) error {
	req := c.Request()
	if req.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(c.Response(), req.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return asset.Invalid("request body: %v", err)
	}
	return nil
}
