package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
)

type scoreFromPayload struct{}

func (scoreFromPayload) Assess(meta asset.Metadata, _ time.Time) asset.Assessment {
	if fm, ok := meta.(asset.FileMetadata); ok && fm.IsPublic {
		return asset.Assessment{Score: 80}
	}
	return asset.Assessment{Score: 10}
}

type fakeAdapter struct {
	platform asset.Platform
	kinds    []asset.SourceKind
	records  []rawstore.Record
	listErr  error
}

func (f *fakeAdapter) Platform() asset.Platform  { return f.platform }
func (f *fakeAdapter) Kinds() []asset.SourceKind { return f.kinds }

func (f *fakeAdapter) List(context.Context, asset.SourceKind, NativeFilters, PageRequest) ([]rawstore.Record, PageInfo, error) {
	return f.records, PageInfo{}, f.listErr
}

func (f *fakeAdapter) Normalize(rec rawstore.Record, now time.Time) (asset.Asset, error) {
	var meta asset.FileMetadata
	if err := json.Unmarshal(rec.Payload, &meta); err != nil {
		return asset.Asset{}, err
	}
	return asset.New(asset.Base{ID: asset.NewID(rec.Kind, rec.LocalID), Name: rec.DisplayName}, meta, scoreFromPayload{}, now)
}

func (f *fakeAdapter) Get(context.Context, asset.ID) (asset.Asset, error) {
	return asset.Asset{}, asset.ErrNotFound
}

func (f *fakeAdapter) FetchDiscoveryPage(context.Context, DiscoveryRequest) (DiscoveryPage, error) {
	return DiscoveryPage{}, nil
}

func (f *fakeAdapter) Write(context.Context, asset.Action, asset.ID) (WriteResult, error) {
	return WriteResult{}, nil
}

func TestNormalizeAllSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{platform: asset.PlatformGoogleDrive, kinds: []asset.SourceKind{asset.KindDrive}}
	records := []rawstore.Record{
		{Kind: asset.KindDrive, LocalID: "1", Payload: json.RawMessage(`{"isPublic":true}`)},
		{Kind: asset.KindDrive, LocalID: "2", Payload: json.RawMessage(`{not json`)},
		{Kind: asset.KindDrive, LocalID: "3", Payload: json.RawMessage(`{}`)},
	}

	assets, skipped := NormalizeAll(adapter, records, time.Now())
	if len(assets) != 2 {
		t.Fatalf("len(assets) = %d, want 2", len(assets))
	}
	if assets[0].ID.LocalID != "1" || assets[1].ID.LocalID != "3" {
		t.Fatalf("unexpected order: %v, %v", assets[0].ID, assets[1].ID)
	}
	if len(skipped) != 1 {
		t.Fatalf("len(skipped) = %d, want 1", len(skipped))
	}
}

func TestFetchAssetsAppliesHints(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		platform: asset.PlatformGoogleDrive,
		kinds:    []asset.SourceKind{asset.KindDrive},
		records: []rawstore.Record{
			{Kind: asset.KindDrive, LocalID: "pub", Payload: json.RawMessage(`{"isPublic":true}`)},
			{Kind: asset.KindDrive, LocalID: "priv", Payload: json.RawMessage(`{}`)},
		},
	}

	got, err := FetchAssets(context.Background(), adapter, asset.KindDrive, NativeFilters{OnlyPublic: true}, PageRequest{}, time.Now())
	if err != nil {
		t.Fatalf("FetchAssets() error = %v", err)
	}
	if len(got.Assets) != 1 || got.Assets[0].ID.LocalID != "pub" {
		t.Fatalf("assets = %+v", got.Assets)
	}

	got, err = FetchAssets(context.Background(), adapter, asset.KindDrive, NativeFilters{OnlyHighRisk: true}, PageRequest{}, time.Now())
	if err != nil {
		t.Fatalf("FetchAssets() error = %v", err)
	}
	if len(got.Assets) != 1 || got.Assets[0].RiskLevel() != asset.RiskHigh {
		t.Fatalf("high risk assets = %+v", got.Assets)
	}
}

func TestFetchAssetsPropagatesListError(t *testing.T) {
	t.Parallel()

	listErr := errors.New("store down")
	adapter := &fakeAdapter{platform: asset.PlatformGoogleDrive, kinds: []asset.SourceKind{asset.KindDrive}, listErr: listErr}
	if _, err := FetchAssets(context.Background(), adapter, asset.KindDrive, NativeFilters{}, PageRequest{}, time.Now()); !errors.Is(err, listErr) {
		t.Fatalf("FetchAssets() error = %v, want %v", err, listErr)
	}
}

func TestNativeFiltersFrom(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	got := NativeFiltersFrom(asset.Filters{
		Search:     "  budget ",
		IsOrphaned: &yes,
		IsPublic:   &no,
		RiskLevels: []asset.RiskLevel{"HIGH"},
	})
	want := NativeFilters{Search: "budget", OnlyOrphaned: true, OnlyHighRisk: true}
	if got != want {
		t.Fatalf("NativeFiltersFrom() = %+v, want %+v", got, want)
	}

	mixed := NativeFiltersFrom(asset.Filters{RiskLevels: []asset.RiskLevel{asset.RiskHigh, asset.RiskMedium}})
	if mixed.OnlyHighRisk {
		t.Fatal("OnlyHighRisk set for a mixed level filter")
	}
}

func TestMarshalJSONPanicsOnUnsupportedValue(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unsupported json value")
		}
	}()
	_ = MarshalJSON(func() {})
}
