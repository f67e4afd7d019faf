package httpapp

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/open-sspm/workspace-audit/internal/http/handlers"
)

const maxRequestIDLength = 128

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	h *handlers.Handlers
	e *echo.Echo
}

// NewEchoServer creates a new HTTP server.
func NewEchoServer(h *handlers.Handlers, logger *slog.Logger) (*EchoServer, error) {
	if h == nil || h.Assets == nil || h.Actions == nil || h.Connections == nil || h.Scans == nil || h.Activity == nil {
		return nil, errors.New("http server requires every handler dependency")
	}
	e := echo.New()
	if logger != nil {
		e.Logger = logger
	}
	es := &EchoServer{h: h, e: e}
	e.HTTPErrorHandler = es.httpErrorHandler
	e.Use(middleware.Recover())
	e.Use(requestIDMiddleware)
	es.registerRoutes()
	return es, nil
}

func (es *EchoServer) registerRoutes() {
	es.e.GET("/healthz", es.h.HandleHealthz)

	api := es.e.Group("/api")
	api.GET("/assets", es.h.HandleAssets)
	api.GET("/assets/stats", es.h.HandleAssetStats)
	api.POST("/assets/:id/actions/:action", es.h.HandleAssetAction)
	api.POST("/actions/:action", es.h.HandleBatchAction)

	api.GET("/connections", es.h.HandleConnections)
	api.GET("/connections/:platform", es.h.HandleConnection)

	api.GET("/scans", es.h.HandleScans)
	api.GET("/scans/:platform", es.h.HandleScanProgress)
	api.POST("/scans/:platform/start", es.h.HandleScanStart)
	api.POST("/scans/:platform/cancel", es.h.HandleScanCancel)
	api.POST("/scans/:platform/resume", es.h.HandleScanResume)

	api.GET("/activity", es.h.HandleActivity)
	api.DELETE("/activity", es.h.HandleActivityClear)
}

// ServeHTTP lets the server be mounted on a plain http.Server.
func (es *EchoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	es.e.ServeHTTP(w, r)
}

// requestIDMiddleware keeps a well-formed incoming X-Request-ID and mints a
// uuid otherwise.
func requestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		requestID := strings.TrimSpace(c.Request().Header.Get(echo.HeaderXRequestID))
		if requestID == "" || len(requestID) > maxRequestIDLength || strings.ContainsAny(requestID, "\r\n") {
			requestID = uuid.NewString()
		}
		c.Set(handlers.ContextKeyRequestID, requestID)
		c.Response().Header().Set(echo.HeaderXRequestID, requestID)
		return next(c)
	}
}

func (es *EchoServer) httpErrorHandler(c *echo.Context, err error) {
	if err == nil {
		return
	}
	if resp, uErr := echo.UnwrapResponse(c.Response()); uErr == nil && resp.Committed {
		return
	}

	status := httpStatusFromError(err)
	switch {
	case status == http.StatusNotFound:
		_ = handlers.RenderNotFound(c)
	case status >= 400 && status < 500:
		_ = c.String(status, http.StatusText(status))
	default:
		_ = es.h.RenderError(c, err)
	}
}

type statusCoder interface {
	StatusCode() int
}

func httpStatusFromError(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code != 0 {
			return code
		}
	}
	if status, _, ok := handlers.ErrorStatus(err); ok && status != http.StatusOK {
		return status
	}
	return http.StatusInternalServerError
}
