// Package query merges assets from every source adapter and answers
// filtered, sorted and paginated queries over the merged set.
package query

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/metrics"
)

const (
	DefaultMaxPerSource = 1000
	DefaultRecentWindow = 7 * 24 * time.Hour
)

// Sources resolves the adapter that owns each source kind.
type Sources interface {
	Kinds() []asset.SourceKind
	ForKind(kind asset.SourceKind) (registry.SourceAdapter, bool)
}

type Options struct {
	// MaxPerSource bounds how many records are read from each source kind
	// per query. Filtering and sorting then happen in memory.
	MaxPerSource int
	// Parallel fans the per-source fetches out concurrently. Results are
	// merged in source order either way.
	Parallel     bool
	RecentWindow time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine holds no per-query state; concurrent calls share nothing mutable.
type Engine struct {
	sources      Sources
	maxPerSource int
	parallel     bool
	recentWindow time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewEngine(sources Sources, opts Options) *Engine {
	e := &Engine{
		sources:      sources,
		maxPerSource: opts.MaxPerSource,
		parallel:     opts.Parallel,
		recentWindow: opts.RecentWindow,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if e.maxPerSource <= 0 {
		e.maxPerSource = DefaultMaxPerSource
	}
	if e.recentWindow <= 0 {
		e.recentWindow = DefaultRecentWindow
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// GetAssets returns one page of the merged, filtered and sorted asset set.
// A failing source is left out and named in PartialSources; only invalid
// input or a canceled context fail the call.
func (e *Engine) GetAssets(ctx context.Context, filters asset.Filters, sort asset.Sort, limit, offset int) (asset.ListResult, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("get_assets").Observe(time.Since(start).Seconds())
	}()

	filters = filters.Normalized()
	sort = sort.Normalized()
	if err := asset.ValidateQuery(filters, sort, limit, offset); err != nil {
		return asset.ListResult{}, err
	}

	merged, partial := e.collect(ctx, filters)
	if err := ctx.Err(); err != nil {
		return asset.ListResult{}, err
	}

	filtered := merged[:0]
	for _, a := range merged {
		if filters.Matches(a) {
			filtered = append(filtered, a)
		}
	}
	SortAssets(filtered, sort)

	total := len(filtered)
	lo := min(offset, total)
	hi := min(lo+limit, total)
	page := make([]asset.Asset, hi-lo)
	copy(page, filtered[lo:hi])

	return asset.ListResult{
		Assets:         page,
		Total:          total,
		Limit:          limit,
		Offset:         offset,
		HasMore:        offset+len(page) < total,
		PartialSources: partial,
	}, nil
}

// GetStats tallies the whole merged set. Its totals agree with an
// unfiltered GetAssets over the same data.
func (e *Engine) GetStats(ctx context.Context) (asset.Stats, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("get_stats").Observe(time.Since(start).Seconds())
	}()

	merged, partial := e.collect(ctx, asset.Filters{})
	if err := ctx.Err(); err != nil {
		return asset.Stats{}, err
	}

	stats := asset.Stats{
		ByType:         make(map[asset.Type]int, len(asset.Types())),
		ByRiskLevel:    make(map[asset.RiskLevel]int, len(asset.RiskLevels())),
		PartialSources: partial,
	}
	for _, t := range asset.Types() {
		stats.ByType[t] = 0
	}
	for _, l := range asset.RiskLevels() {
		stats.ByRiskLevel[l] = 0
	}

	recentSince := e.now().Add(-e.recentWindow)
	for _, a := range merged {
		stats.Total++
		stats.ByType[a.Type()]++
		stats.ByRiskLevel[a.RiskLevel()]++
		if !a.LastActivityAt.IsZero() && !a.LastActivityAt.Before(recentSince) {
			stats.RecentActivityCount++
		}
	}
	stats.HighRiskCount = stats.ByRiskLevel[asset.RiskHigh]
	return stats, nil
}

type sourceResult struct {
	kind   asset.SourceKind
	assets []asset.Asset
	err    error
}

// collect fetches every wanted source kind. Results land in per-source slots
// so the merge order never depends on goroutine scheduling.
func (e *Engine) collect(ctx context.Context, filters asset.Filters) ([]asset.Asset, []asset.SourceKind) {
	kinds := make([]asset.SourceKind, 0, len(asset.SourceKinds()))
	for _, kind := range e.sources.Kinds() {
		if filters.WantsKind(kind) {
			kinds = append(kinds, kind)
		}
	}
	native := registry.NativeFiltersFrom(filters)
	now := e.now().UTC()

	slots := make([]sourceResult, len(kinds))
	if e.parallel && len(kinds) > 1 {
		var g errgroup.Group
		for i, kind := range kinds {
			g.Go(func() error {
				slots[i] = e.fetch(ctx, kind, native, now)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, kind := range kinds {
			slots[i] = e.fetch(ctx, kind, native, now)
		}
	}

	var merged []asset.Asset
	var partial []asset.SourceKind
	for _, slot := range slots {
		if slot.err != nil {
			partial = append(partial, slot.kind)
			continue
		}
		merged = append(merged, slot.assets...)
	}
	return merged, partial
}

func (e *Engine) fetch(ctx context.Context, kind asset.SourceKind, native registry.NativeFilters, now time.Time) sourceResult {
	source := string(kind)
	adapter, ok := e.sources.ForKind(kind)
	if !ok {
		return sourceResult{kind: kind}
	}
	res, err := registry.FetchAssets(ctx, adapter, kind, native, registry.PageRequest{Limit: e.maxPerSource}, now)
	if err != nil {
		e.logger.Warn("source left out of query", "source", source, "err", err)
		metrics.SourceFetchFailuresTotal.WithLabelValues(source).Inc()
		return sourceResult{kind: kind, err: err}
	}
	for _, skipped := range res.Skipped {
		e.logger.Debug("skipping malformed record", "source", source, "err", skipped)
	}
	if n := len(res.Skipped); n > 0 {
		metrics.RecordsSkippedTotal.WithLabelValues(source).Add(float64(n))
	}
	metrics.AssetsReturned.WithLabelValues(source).Set(float64(len(res.Assets)))
	return sourceResult{kind: kind, assets: res.Assets}
}

// SortAssets stable-sorts in place, so equal keys keep their merge order.
// Strings compare case-insensitively and timestamps by instant.
func SortAssets(assets []asset.Asset, s asset.Sort) {
	s = s.Normalized()
	compare := compareBy(s.Field)
	if s.Order == asset.SortDesc {
		slices.SortStableFunc(assets, func(a, b asset.Asset) int { return compare(b, a) })
		return
	}
	slices.SortStableFunc(assets, compare)
}

func compareBy(field asset.SortField) func(a, b asset.Asset) int {
	switch field {
	case asset.SortByName:
		return func(a, b asset.Asset) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) }
	case asset.SortByOwner:
		return func(a, b asset.Asset) int { return strings.Compare(strings.ToLower(a.Owner), strings.ToLower(b.Owner)) }
	case asset.SortByCreatedAt:
		return func(a, b asset.Asset) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case asset.SortByLastActivityAt:
		return func(a, b asset.Asset) int { return a.LastActivityAt.Compare(b.LastActivityAt) }
	default:
		return func(a, b asset.Asset) int { return cmp.Compare(a.RiskScore(), b.RiskScore()) }
	}
}
