package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/open-sspm/workspace-audit/internal/config"
)

// withApp wires the app for a one-shot command and tears it down after fn.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, slog.Default(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
