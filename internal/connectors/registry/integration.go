package registry

import (
	"context"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
)

// SourceAdapter owns one platform: its raw records, the mapping to unified
// assets and the remote discovery and write endpoints.
type SourceAdapter interface {
	Platform() asset.Platform
	Kinds() []asset.SourceKind

	// List returns raw records of kind in fetch order. Search is pushed down to
	// the record store; the remaining hints are applied by FetchAssets.
	List(ctx context.Context, kind asset.SourceKind, filters NativeFilters, page PageRequest) ([]rawstore.Record, PageInfo, error)
	// Normalize maps one raw record to a scored asset. It fails only for
	// records that cannot be decoded at all.
	Normalize(rec rawstore.Record, now time.Time) (asset.Asset, error)
	// Get returns the current state of one asset, used to validate actions.
	Get(ctx context.Context, id asset.ID) (asset.Asset, error)

	FetchDiscoveryPage(ctx context.Context, req DiscoveryRequest) (DiscoveryPage, error)
	Write(ctx context.Context, action asset.Action, id asset.ID) (WriteResult, error)
}

// NativeFilters is the subset of query filters an adapter can apply before
// the records are merged with other sources.
type NativeFilters struct {
	Search       string
	OnlyOrphaned bool
	OnlyInactive bool
	OnlyPublic   bool
	OnlyHighRisk bool
}

// NativeFiltersFrom extracts the pushdown hints from a query.
func NativeFiltersFrom(f asset.Filters) NativeFilters {
	f = f.Normalized()
	native := NativeFilters{Search: f.Search}
	native.OnlyOrphaned = f.IsOrphaned != nil && *f.IsOrphaned
	native.OnlyInactive = f.IsInactive != nil && *f.IsInactive
	native.OnlyPublic = f.IsPublic != nil && *f.IsPublic
	if len(f.RiskLevels) == 1 && f.RiskLevels[0] == asset.RiskHigh {
		native.OnlyHighRisk = true
	}
	return native
}

type PageRequest struct {
	Limit  int
	Offset int
}

type PageInfo struct {
	HasMore    bool
	NextOffset int
}

type DiscoveryRequest struct {
	Mode      RunMode
	PageToken string
	PageSize  int
}

// DiscoveryPage reports one fetched page. Processed counts upstream items
// examined; Discovered counts records that did not exist before.
type DiscoveryPage struct {
	Processed     int
	Discovered    int
	NextPageToken string
	HasMore       bool
}

type WriteResult struct {
	Payload map[string]string
}

const UnknownTotal int64 = -1

type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

type Event struct {
	Source  string
	Stage   string
	Current int64
	Total   int64
	Message string
	Done    bool
	Err     error
	At      time.Time
}
