// Package scan drives paged discovery against one platform. A scan fetches one
// page at a time, accumulates counts and decides after every page whether to
// continue, stop on request, or finish.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/metrics"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseStopped Phase = "stopped"
	PhaseDone    Phase = "done"
)

const (
	DefaultPageSize          = 100
	DefaultAutoContinueLimit = 500

	stageDiscovery = "discovery"
)

var (
	ErrScanRunning       = errors.New("scan is already running")
	ErrNothingToResume   = errors.New("scan has nothing to resume")
	errNoDiscoverySource = errors.New("scan source is required")
)

// Source is the discovery half of a source adapter.
type Source interface {
	FetchDiscoveryPage(ctx context.Context, req registry.DiscoveryRequest) (registry.DiscoveryPage, error)
}

// SyncState records when a platform last finished a clean scan.
// *activity.Store satisfies it.
type SyncState interface {
	SetLastSync(ctx context.Context, platform asset.Platform, at time.Time) error
}

type Options struct {
	Mode              registry.RunMode `json:"mode"`
	AutoContinue      bool             `json:"autoContinue"`
	AutoContinueLimit int              `json:"autoContinueLimit"`
	PageSize          int              `json:"pageSize"`
}

func (o Options) normalized() Options {
	o.Mode = o.Mode.Normalize()
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.AutoContinueLimit < 0 {
		o.AutoContinueLimit = 0
	}
	return o
}

// Snapshot is a point-in-time copy of a controller's state.
type Snapshot struct {
	Platform asset.Platform `json:"platform"`
	Phase    Phase          `json:"phase"`
	asset.ScanProgress
	Options    Options    `json:"options"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	err error
}

// Err returns the failure that ended the last run, if any.
func (s Snapshot) Err() error { return s.err }

// Resumable reports whether Resume would start a run.
func (s Snapshot) Resumable() bool {
	if s.Phase != PhaseStopped && s.Phase != PhaseDone {
		return false
	}
	return s.HasMore || s.err != nil
}

type ControllerOptions struct {
	Reporter registry.Reporter
	State    SyncState
	Logger   *slog.Logger
	Now      func() time.Time
}

// Controller owns the scan state of one platform. Only one run is active at
// a time; Cancel and Progress are safe from any goroutine.
type Controller struct {
	platform asset.Platform
	source   Source
	reporter registry.Reporter
	state    SyncState
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	phase      Phase
	opts       Options
	progress   asset.ScanProgress
	err        error
	startedAt  time.Time
	finishedAt time.Time
	cancel     context.CancelFunc
}

func NewController(platform asset.Platform, source Source, opts ControllerOptions) (*Controller, error) {
	if source == nil {
		return nil, errNoDiscoverySource
	}
	c := &Controller{
		platform: platform,
		source:   source,
		reporter: opts.Reporter,
		state:    opts.State,
		logger:   opts.Logger,
		now:      opts.Now,
		phase:    PhaseIdle,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func (c *Controller) Platform() asset.Platform { return c.platform }

// Start resets the counters, discards any stored continuation token and runs
// until the scan stops or finishes.
func (c *Controller) Start(ctx context.Context, opts Options) (Snapshot, error) {
	runCtx, err := c.begin(ctx, opts, true)
	if err != nil {
		return c.Progress(), err
	}
	return c.run(runCtx)
}

// Resume continues a stopped or finished scan from its last continuation
// token, keeping the cumulative counts.
func (c *Controller) Resume(ctx context.Context) (Snapshot, error) {
	runCtx, err := c.begin(ctx, Options{}, false)
	if err != nil {
		return c.Progress(), err
	}
	return c.run(runCtx)
}

// StartAsync claims the controller like Start and runs the loop on a new
// goroutine. done, when non-nil, is called with the final snapshot.
func (c *Controller) StartAsync(ctx context.Context, opts Options, done func(Snapshot, error)) error {
	runCtx, err := c.begin(ctx, opts, true)
	if err != nil {
		return err
	}
	go c.finishAsync(runCtx, done)
	return nil
}

func (c *Controller) ResumeAsync(ctx context.Context, done func(Snapshot, error)) error {
	runCtx, err := c.begin(ctx, Options{}, false)
	if err != nil {
		return err
	}
	go c.finishAsync(runCtx, done)
	return nil
}

func (c *Controller) finishAsync(runCtx context.Context, done func(Snapshot, error)) {
	snap, err := c.run(runCtx)
	if done != nil {
		done(snap, err)
	}
}

// Cancel asks the running scan to stop after the page in flight. It reports
// whether a run was signalled.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseRunning || c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

func (c *Controller) Progress() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Platform:     c.platform,
		Phase:        c.phase,
		ScanProgress: c.progress,
		Options:      c.opts,
		err:          c.err,
	}
	if c.err != nil {
		snap.Error = c.err.Error()
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		snap.StartedAt = &t
	}
	if !c.finishedAt.IsZero() {
		t := c.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

func (c *Controller) begin(ctx context.Context, opts Options, fresh bool) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseRunning {
		return nil, ErrScanRunning
	}
	if fresh {
		c.opts = opts.normalized()
		c.progress = asset.ScanProgress{}
	} else if !c.snapshotLocked().Resumable() {
		return nil, ErrNothingToResume
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.phase = PhaseRunning
	c.cancel = cancel
	c.err = nil
	c.startedAt = c.now().UTC()
	c.finishedAt = time.Time{}
	return runCtx, nil
}

func (c *Controller) run(runCtx context.Context) (Snapshot, error) {
	c.mu.Lock()
	opts := c.opts
	c.mu.Unlock()

	c.report(registry.Event{Stage: stageDiscovery, Message: fmt.Sprintf("%s scan started", c.platform)})

	// Counts toward the auto-continue limit restart with every run so a
	// resumed scan gets a full allowance.
	runProcessed := 0
	for {
		c.mu.Lock()
		req := registry.DiscoveryRequest{
			Mode:      opts.Mode,
			PageToken: c.progress.ContinuationToken,
			PageSize:  opts.PageSize,
		}
		c.mu.Unlock()

		// A started page always completes; cancellation is observed only
		// between pages.
		page, err := c.source.FetchDiscoveryPage(context.WithoutCancel(runCtx), req)
		if err != nil {
			metrics.ScanPagesTotal.WithLabelValues(string(c.platform), metrics.StatusFailure).Inc()
			return c.finish(runCtx, PhaseDone, err)
		}

		metrics.ScanPagesTotal.WithLabelValues(string(c.platform), metrics.StatusSuccess).Inc()
		metrics.ScanProcessedTotal.WithLabelValues(string(c.platform)).Add(float64(page.Processed))
		metrics.ScanDiscoveredTotal.WithLabelValues(string(c.platform)).Add(float64(page.Discovered))

		runProcessed += page.Processed
		c.mu.Lock()
		c.progress.ProcessedCount += page.Processed
		c.progress.DiscoveredCount += page.Discovered
		c.progress.PagesCompleted++
		c.progress.HasMore = page.HasMore
		c.progress.ContinuationToken = page.NextPageToken
		if !page.HasMore {
			c.progress.ContinuationToken = ""
		}
		progress := c.progress
		c.mu.Unlock()

		c.report(registry.Event{
			Stage:   stageDiscovery,
			Current: int64(progress.ProcessedCount),
			Total:   registry.UnknownTotal,
			Message: fmt.Sprintf("page %d: processed %d, discovered %d", progress.PagesCompleted, progress.ProcessedCount, progress.DiscoveredCount),
		})

		switch {
		case runCtx.Err() != nil:
			return c.finish(runCtx, PhaseStopped, nil)
		case !opts.AutoContinue:
			return c.finish(runCtx, PhaseDone, nil)
		case opts.AutoContinueLimit > 0 && runProcessed >= opts.AutoContinueLimit:
			return c.finish(runCtx, PhaseDone, nil)
		case !page.HasMore:
			return c.finish(runCtx, PhaseDone, nil)
		}
	}
}

func (c *Controller) finish(runCtx context.Context, phase Phase, err error) (Snapshot, error) {
	finishedAt := c.now().UTC()

	c.mu.Lock()
	c.phase = phase
	c.err = err
	c.finishedAt = finishedAt
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	metrics.ScanLastFinishedTimestamp.WithLabelValues(string(c.platform), string(phase)).Set(float64(finishedAt.Unix()))

	event := registry.Event{
		Stage:   stageDiscovery,
		Current: int64(snap.ProcessedCount),
		Total:   int64(snap.ProcessedCount),
		Done:    true,
		Err:     err,
	}
	switch {
	case err != nil:
		event.Message = fmt.Sprintf("%s scan failed after %d pages", c.platform, snap.PagesCompleted)
	case phase == PhaseStopped:
		event.Message = fmt.Sprintf("%s scan stopped", c.platform)
	default:
		event.Message = fmt.Sprintf("%s scan complete", c.platform)
	}
	c.report(event)

	if err == nil && c.state != nil {
		if stateErr := c.state.SetLastSync(context.WithoutCancel(runCtx), c.platform, finishedAt); stateErr != nil {
			c.logger.Warn("failed to record last sync", "platform", c.platform, "err", stateErr)
		}
	}
	return snap, err
}

func (c *Controller) report(e registry.Event) {
	if c.reporter == nil {
		return
	}
	e.Source = string(c.platform)
	if e.At.IsZero() {
		e.At = c.now()
	}
	c.reporter.Report(e)
}
