package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsReadHeaderTimeout = 5 * time.Second

// Enabled reports whether addr names a listen address rather than one of the
// "off" spellings.
func Enabled(addr string) bool {
	switch strings.ToLower(strings.TrimSpace(addr)) {
	case "", "off", "disabled", "false":
		return false
	default:
		return true
	}
}

// StartServer serves /metrics on addr until ctx is done. It returns nil for
// a disabled address. Listen errors arrive on the returned channel.
func StartServer(ctx context.Context, addr string, logger *slog.Logger) (*http.Server, <-chan error) {
	if !Enabled(addr) {
		return nil, nil
	}
	addr = strings.TrimSpace(addr)
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv, errCh
}
