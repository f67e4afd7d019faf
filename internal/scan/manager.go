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
)

// Adapters lists the registered source adapters. *registry.AdapterRegistry
// satisfies it.
type Adapters interface {
	All() []registry.SourceAdapter
}

type ManagerOptions struct {
	Reporter registry.Reporter
	State    SyncState
	Logger   *slog.Logger
	Now      func() time.Time
	// Defaults fill zero-valued fields of the options passed to Start.
	Defaults Options
}

// Manager holds one controller per platform and owns the lifetime of scans
// started in the background.
type Manager struct {
	controllers map[asset.Platform]*Controller
	order       []asset.Platform
	defaults    Options
	logger      *slog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewManager(adapters Adapters, opts ManagerOptions) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		controllers: map[asset.Platform]*Controller{},
		defaults:    opts.Defaults,
		logger:      logger,
		ctx:         ctx,
		stop:        stop,
	}
	for _, adapter := range adapters.All() {
		c, err := NewController(adapter.Platform(), adapter, ControllerOptions{
			Reporter: opts.Reporter,
			State:    opts.State,
			Logger:   logger.With("platform", adapter.Platform()),
			Now:      opts.Now,
		})
		if err != nil {
			stop()
			return nil, fmt.Errorf("scan controller for %s: %w", adapter.Platform(), err)
		}
		m.controllers[adapter.Platform()] = c
		m.order = append(m.order, adapter.Platform())
	}
	return m, nil
}

func (m *Manager) Platforms() []asset.Platform {
	return append([]asset.Platform(nil), m.order...)
}

func (m *Manager) Controller(platform asset.Platform) (*Controller, error) {
	c, ok := m.controllers[platform]
	if !ok {
		return nil, &asset.Error{Kind: asset.ErrNotFound, Op: "scan", Err: fmt.Errorf("no scan source for platform %q", platform)}
	}
	return c, nil
}

// WithDefaults fills the zero fields of opts from the manager's defaults.
// AutoContinue is taken as given.
func (m *Manager) WithDefaults(opts Options) Options {
	if opts.Mode == "" {
		opts.Mode = m.defaults.Mode
	}
	if opts.PageSize <= 0 {
		opts.PageSize = m.defaults.PageSize
	}
	if opts.AutoContinueLimit <= 0 {
		opts.AutoContinueLimit = m.defaults.AutoContinueLimit
	}
	return opts.normalized()
}

// Start runs a scan of platform in the caller's goroutine.
func (m *Manager) Start(ctx context.Context, platform asset.Platform, opts Options) (Snapshot, error) {
	c, err := m.Controller(platform)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Start(ctx, m.WithDefaults(opts))
}

func (m *Manager) Resume(ctx context.Context, platform asset.Platform) (Snapshot, error) {
	c, err := m.Controller(platform)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Resume(ctx)
}

// StartBackground claims the platform's controller and runs the scan until it
// ends or the manager shuts down. Conflicts are reported synchronously.
func (m *Manager) StartBackground(platform asset.Platform, opts Options) (Snapshot, error) {
	c, err := m.Controller(platform)
	if err != nil {
		return Snapshot{}, err
	}
	m.wg.Add(1)
	if err := c.StartAsync(m.ctx, m.WithDefaults(opts), m.backgroundDone); err != nil {
		m.wg.Done()
		return c.Progress(), err
	}
	return c.Progress(), nil
}

func (m *Manager) ResumeBackground(platform asset.Platform) (Snapshot, error) {
	c, err := m.Controller(platform)
	if err != nil {
		return Snapshot{}, err
	}
	m.wg.Add(1)
	if err := c.ResumeAsync(m.ctx, m.backgroundDone); err != nil {
		m.wg.Done()
		return c.Progress(), err
	}
	return c.Progress(), nil
}

func (m *Manager) backgroundDone(snap Snapshot, err error) {
	defer m.wg.Done()
	if err != nil {
		m.logger.Warn("background scan failed", "platform", snap.Platform, "pages", snap.PagesCompleted, "err", err)
	}
}

// Cancel signals the platform's running scan. Cancelling an idle or finished
// scan is not an error.
func (m *Manager) Cancel(platform asset.Platform) (Snapshot, error) {
	c, err := m.Controller(platform)
	if err != nil {
		return Snapshot{}, err
	}
	c.Cancel()
	return c.Progress(), nil
}

func (m *Manager) Progress(platform asset.Platform) (Snapshot, error) {
	c, err := m.Controller(platform)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Progress(), nil
}

func (m *Manager) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(m.order))
	for _, platform := range m.order {
		out = append(out, m.controllers[platform].Progress())
	}
	return out
}

// RunOnce refreshes every platform and joins the failures. Running scans and
// scans stopped by an operator are left alone. A finished scan that still has
// a continuation token, or ended on a fetch error, is resumed from that token
// with its counts intact; anything else restarts with a single page.
func (m *Manager) RunOnce(ctx context.Context) error {
	var errs []error
	for _, platform := range m.order {
		c := m.controllers[platform]
		snap := c.Progress()
		if snap.Phase == PhaseStopped {
			m.logger.Debug("skipping refresh, scan stopped", "platform", platform)
			continue
		}
		var err error
		if snap.Resumable() {
			_, err = c.Resume(ctx)
		} else {
			_, err = c.Start(ctx, m.WithDefaults(Options{AutoContinue: false}))
		}
		switch {
		case errors.Is(err, ErrScanRunning):
			m.logger.Debug("skipping refresh, scan in progress", "platform", platform)
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", platform, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops background scans after their current page and waits for
// them, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
