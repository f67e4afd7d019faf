package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	runner := RunnerFunc(func(context.Context) error {
		if calls.Add(1) >= 3 {
			cancel()
		}
		return errors.New("transient")
	})

	s := &Scheduler{Runner: runner, Interval: time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after context cancel")
	}
	if got := calls.Load(); got < 3 {
		t.Fatalf("runs = %d, want at least 3", got)
	}
}

func TestSchedulerDisabled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s := &Scheduler{Runner: RunnerFunc(func(context.Context) error { calls.Add(1); return nil })}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("runner called with a zero interval")
	}
	if err := (&Scheduler{Interval: time.Second}).Run(context.Background()); err == nil {
		t.Fatal("Run() without runner error = nil")
	}
}
