// Package handlers contains HTTP handler logic split by domain.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/workspace-audit/internal/actions"
	"github.com/open-sspm/workspace-audit/internal/activity"
	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/scan"
)

const (
	// ContextKeyRequestID stores the request id (X-Request-ID) for logging and client error references.
	ContextKeyRequestID = "request_id"

	// InternalErrorCode is a stable error code safe to return to clients.
	InternalErrorCode = "INTERNAL_ERROR"

	// CodeScanConflict is returned when a scan cannot start or resume in its current phase.
	CodeScanConflict = "scan_conflict"
)

// AssetQuerier is the read side of the asset API. *query.Engine satisfies it.
type AssetQuerier interface {
	GetAssets(ctx context.Context, filters asset.Filters, sort asset.Sort, limit, offset int) (asset.ListResult, error)
	GetStats(ctx context.Context) (asset.Stats, error)
}

// ActionPerformer routes remediation actions. *actions.Router satisfies it.
type ActionPerformer interface {
	PerformAction(ctx context.Context, rawID string, action asset.Action) actions.Result
	PerformBatch(ctx context.Context, rawIDs []string, action asset.Action) (actions.BatchResult, error)
}

// ConnectionStatus reports platform connections. *connection.Resolver satisfies it.
type ConnectionStatus interface {
	Status(ctx context.Context, platform asset.Platform) asset.PlatformConnection
	StatusAll(ctx context.Context) []asset.PlatformConnection
}

// ScanManager controls background scans. *scan.Manager satisfies it.
type ScanManager interface {
	StartBackground(platform asset.Platform, opts scan.Options) (scan.Snapshot, error)
	ResumeBackground(platform asset.Platform) (scan.Snapshot, error)
	Cancel(platform asset.Platform) (scan.Snapshot, error)
	Progress(platform asset.Platform) (scan.Snapshot, error)
	Snapshots() []scan.Snapshot
}

// ActivityLog is the recorded action history. *activity.Store satisfies it.
type ActivityLog interface {
	List(ctx context.Context, limit int) ([]activity.Entry, error)
	Clear(ctx context.Context) error
}

// Handlers groups all HTTP handlers and shared dependencies.
type Handlers struct {
	Assets      AssetQuerier
	Actions     ActionPerformer
	Connections ConnectionStatus
	Scans       ScanManager
	Activity    ActivityLog
}

// APIError is the JSON body of every client error.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorStatus maps domain errors to an HTTP status. ok is false for errors
// that must not be shown to clients.
func ErrorStatus(err error) (status int, code string, ok bool) {
	switch {
	case err == nil:
		return http.StatusOK, "", true
	case errors.Is(err, scan.ErrScanRunning), errors.Is(err, scan.ErrNothingToResume):
		return http.StatusConflict, CodeScanConflict, true
	}
	code = asset.KindOf(err)
	status, ok = StatusForCode(code)
	if !ok {
		return status, InternalErrorCode, false
	}
	return status, code, true
}

// StatusForCode maps a stable asset error code to an HTTP status.
func StatusForCode(code string) (int, bool) {
	switch code {
	case asset.CodeDecode, asset.CodeValidation, asset.CodeUnsupportedAction:
		return http.StatusBadRequest, true
	case asset.CodeNotFound:
		return http.StatusNotFound, true
	case asset.CodeSourceUnavailable:
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, false
	}
}

// RenderError returns a plain text error response.
func (h *Handlers) RenderError(c *echo.Context, err error) error {
	requestID, _ := c.Get(ContextKeyRequestID).(string)
	path := ""
	if req := c.Request(); req != nil && req.URL != nil {
		path = req.URL.Path
	}
	method := ""
	if req := c.Request(); req != nil {
		method = req.Method
	}
	c.Logger().Error("http error",
		"request_id", requestID,
		"method", method,
		"path", path,
		"ip", c.RealIP(),
		"error", err,
	)

	msg := "Internal server error."
	if requestID != "" {
		msg = fmt.Sprintf("%s Reference: %s.", msg, requestID)
	}
	msg = fmt.Sprintf("%s Code: %s.", msg, InternalErrorCode)
	return c.String(http.StatusInternalServerError, msg)
}

// RenderAPIError writes err as JSON when it is a known domain error and falls
// back to the generic internal error otherwise.
func (h *Handlers) RenderAPIError(c *echo.Context, err error) error {
	status, code, ok := ErrorStatus(err)
	if !ok {
		return h.RenderError(c, err)
	}
	return c.JSON(status, APIError{Error: err.Error(), Code: code})
}

// RenderNotFound returns a 404 response.
func RenderNotFound(c *echo.Context) error {
	return c.String(http.StatusNotFound, "404 page not found")
}

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func platformParam(c *echo.Context) (asset.Platform, error) {
	raw := strings.TrimSpace(c.Param("platform"))
	platform, err := asset.ParsePlatform(raw)
	if err != nil {
		return "", &asset.Error{Kind: asset.ErrNotFound, Op: "platform", Err: err}
	}
	return platform, nil
}
