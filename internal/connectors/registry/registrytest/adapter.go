// Package registrytest provides an in-memory SourceAdapter for tests of the
// packages built on top of the adapter registry.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
)

// FixedScorer assigns the same score to every asset.
type FixedScorer int

func (s FixedScorer) Assess(asset.Metadata, time.Time) asset.Assessment {
	return asset.Assessment{Score: int(s)}
}

// NewAsset builds an asset with the given score. It panics on invalid input.
func NewAsset(id asset.ID, name string, score int, meta asset.Metadata) asset.Asset {
	a, err := asset.New(asset.Base{ID: id, Name: name, Owner: name + " owner"}, meta, FixedScorer(score), time.Time{})
	if err != nil {
		panic(err)
	}
	return a
}

// WriteCall records one Write invocation.
type WriteCall struct {
	Action asset.Action
	ID     asset.ID
}

// Adapter serves prebuilt assets and scripted discovery pages.
type Adapter struct {
	platform asset.Platform

	mu        sync.Mutex
	records   map[asset.SourceKind][]rawstore.Record
	assets    map[asset.ID]asset.Asset
	listErr   map[asset.SourceKind]error
	pages     []registry.DiscoveryPage
	pageErr   map[int]error
	requests  []registry.DiscoveryRequest
	writes    []WriteCall
	writeErr  error
	payload   map[string]string
	pageHook  func(ctx context.Context, call int)
	listCalls int
}

func New(platform asset.Platform) *Adapter {
	return &Adapter{
		platform: platform,
		records:  map[asset.SourceKind][]rawstore.Record{},
		assets:   map[asset.ID]asset.Asset{},
		listErr:  map[asset.SourceKind]error{},
		pageErr:  map[int]error{},
	}
}

// Add appends assets in fetch order.
func (f *Adapter) Add(assets ...asset.Asset) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range assets {
		f.records[a.Kind()] = append(f.records[a.Kind()], rawstore.Record{
			Kind:        a.Kind(),
			LocalID:     a.ID.LocalID,
			DisplayName: a.Name,
			Owner:       a.Owner,
		})
		f.assets[a.ID] = a
	}
	return f
}

// AddMalformed appends a record that fails normalization.
func (f *Adapter) AddMalformed(kind asset.SourceKind, localID string) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[kind] = append(f.records[kind], rawstore.Record{Kind: kind, LocalID: localID})
	return f
}

func (f *Adapter) FailList(kind asset.SourceKind, err error) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr[kind] = err
	return f
}

// Pages scripts FetchDiscoveryPage responses in call order.
func (f *Adapter) Pages(pages ...registry.DiscoveryPage) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, pages...)
	return f
}

// FailPage makes the call-th (zero based) FetchDiscoveryPage fail.
func (f *Adapter) FailPage(call int, err error) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageErr[call] = err
	return f
}

// OnPage runs hook at the start of every FetchDiscoveryPage call.
func (f *Adapter) OnPage(hook func(ctx context.Context, call int)) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageHook = hook
	return f
}

func (f *Adapter) FailWrites(err error) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
	return f
}

func (f *Adapter) WritePayload(payload map[string]string) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload = payload
	return f
}

func (f *Adapter) Requests() []registry.DiscoveryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]registry.DiscoveryRequest(nil), f.requests...)
}

func (f *Adapter) Writes() []WriteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WriteCall(nil), f.writes...)
}

func (f *Adapter) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *Adapter) Platform() asset.Platform { return f.platform }

func (f *Adapter) Kinds() []asset.SourceKind { return f.platform.Kinds() }

func (f *Adapter) List(ctx context.Context, kind asset.SourceKind, filters registry.NativeFilters, page registry.PageRequest) ([]rawstore.Record, registry.PageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := ctx.Err(); err != nil {
		return nil, registry.PageInfo{}, err
	}
	if err := f.listErr[kind]; err != nil {
		return nil, registry.PageInfo{}, asset.SourceUnavailable(string(kind), err)
	}
	needle := strings.ToLower(filters.Search)
	var out []rawstore.Record
	for _, rec := range f.records[kind] {
		if needle != "" &&
			!strings.Contains(strings.ToLower(rec.DisplayName), needle) &&
			!strings.Contains(strings.ToLower(rec.Owner), needle) {
			continue
		}
		out = append(out, rec)
	}
	start := min(page.Offset, len(out))
	end := len(out)
	if page.Limit > 0 {
		end = min(start+page.Limit, len(out))
	}
	return out[start:end], registry.PageInfo{HasMore: end < len(out), NextOffset: end}, nil
}

func (f *Adapter) Normalize(rec rawstore.Record, _ time.Time) (asset.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[asset.NewID(rec.Kind, rec.LocalID)]
	if !ok {
		return asset.Asset{}, fmt.Errorf("malformed record %s", rec.LocalID)
	}
	return a, nil
}

func (f *Adapter) Get(_ context.Context, id asset.ID) (asset.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[id]
	if !ok {
		return asset.Asset{}, asset.NotFound(id)
	}
	return a, nil
}

func (f *Adapter) FetchDiscoveryPage(ctx context.Context, req registry.DiscoveryRequest) (registry.DiscoveryPage, error) {
	f.mu.Lock()
	call := len(f.requests)
	f.requests = append(f.requests, req)
	hook := f.pageHook
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pageErr[call]; err != nil {
		return registry.DiscoveryPage{}, err
	}
	if call >= len(f.pages) {
		return registry.DiscoveryPage{}, errors.New("no scripted discovery page")
	}
	return f.pages[call], nil
}

func (f *Adapter) Write(_ context.Context, action asset.Action, id asset.ID) (registry.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, WriteCall{Action: action, ID: id})
	if f.writeErr != nil {
		return registry.WriteResult{}, f.writeErr
	}
	if action == asset.ActionDelete {
		delete(f.assets, id)
	}
	return registry.WriteResult{Payload: f.payload}, nil
}
