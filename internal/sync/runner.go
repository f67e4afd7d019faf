// Package sync keeps discovery state fresh in the background and logs the
// progress events scans emit.
package sync

import (
	"context"
	"errors"
)

// Runner executes a single refresh pass. *scan.Manager satisfies it.
type Runner interface {
	RunOnce(context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(context.Context) error

func (f RunnerFunc) RunOnce(ctx context.Context) error { return f(ctx) }

var errNoRunner = errors.New("refresh runner is not configured")
