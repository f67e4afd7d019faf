package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
)

// NormalizeAll maps records through the adapter, skipping records that fail
// to normalize. The skipped errors are returned for logging; they never fail
// the batch.
func NormalizeAll(adapter SourceAdapter, records []rawstore.Record, now time.Time) ([]asset.Asset, []error) {
	out := make([]asset.Asset, 0, len(records))
	var skipped []error
	for _, rec := range records {
		a, err := adapter.Normalize(rec, now)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("normalize %s: %w", asset.NewID(rec.Kind, rec.LocalID), err))
			continue
		}
		out = append(out, a)
	}
	return out, skipped
}

// FetchResult is one source's contribution to a merged query.
type FetchResult struct {
	Assets  []asset.Asset
	Skipped []error
	Info    PageInfo
}

// FetchAssets lists one source kind, normalizes the page and applies the
// native hints the store could not evaluate.
func FetchAssets(ctx context.Context, adapter SourceAdapter, kind asset.SourceKind, filters NativeFilters, page PageRequest, now time.Time) (FetchResult, error) {
	records, info, err := adapter.List(ctx, kind, filters, page)
	if err != nil {
		return FetchResult{}, err
	}
	assets, skipped := NormalizeAll(adapter, records, now)

	hints := filters.asFilters()
	kept := assets[:0]
	for _, a := range assets {
		if hints.Matches(a) {
			kept = append(kept, a)
		}
	}
	return FetchResult{Assets: kept, Skipped: skipped, Info: info}, nil
}

func (f NativeFilters) asFilters() asset.Filters {
	var out asset.Filters
	if f.OnlyOrphaned {
		out.IsOrphaned = boolPtr(true)
	}
	if f.OnlyInactive {
		out.IsInactive = boolPtr(true)
	}
	if f.OnlyPublic {
		out.IsPublic = boolPtr(true)
	}
	if f.OnlyHighRisk {
		out.RiskLevels = []asset.RiskLevel{asset.RiskHigh}
	}
	return out
}

func boolPtr(v bool) *bool { return &v }

func MarshalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("registry: marshal json: %w", err))
	}
	return b
}

func NormalizeJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
