package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-sspm/workspace-audit/internal/config"
	httpapp "github.com/open-sspm/workspace-audit/internal/http"
	"github.com/open-sspm/workspace-audit/internal/http/handlers"
	"github.com/open-sspm/workspace-audit/internal/metrics"
	"github.com/open-sspm/workspace-audit/internal/sync"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const pruneInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the metrics listener and the background refresh loop.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return commandError(runServe())
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := httpapp.NewEchoServer(&handlers.Handlers{
		Assets:      a.engine,
		Actions:     a.router,
		Connections: a.connections,
		Scans:       a.scans,
		Activity:    a.activity,
	}, logger.With("component", "http"))
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.scans.Shutdown(shutdownCtx); err != nil {
			logger.Warn("background scans did not stop in time", "err", err)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.MetricsEnabled() {
		_, metricsErrs := metrics.StartServer(gctx, cfg.MetricsAddr, logger)
		g.Go(func() error {
			select {
			case err := <-metricsErrs:
				return err
			case <-gctx.Done():
				return nil
			}
		})
	}

	refresh := &sync.Scheduler{Runner: a.scans, Interval: cfg.RefreshInterval, Logger: logger.With("component", "refresh")}
	g.Go(func() error { return refresh.Run(gctx) })

	prune := &sync.Scheduler{
		Runner: sync.RunnerFunc(func(ctx context.Context) error {
			n, err := a.activity.Prune(ctx)
			if n > 0 {
				logger.Debug("activity pruned", "removed", n)
			}
			return err
		}),
		Interval: pruneInterval,
		Logger:   logger.With("component", "activity"),
	}
	g.Go(func() error { return prune.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
