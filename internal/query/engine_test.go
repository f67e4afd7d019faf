package query

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry/registrytest"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func boolPtr(v bool) *bool { return &v }

func newEngine(t *testing.T, parallel bool, adapters ...registry.SourceAdapter) *Engine {
	t.Helper()
	reg := registry.NewRegistry()
	for _, a := range adapters {
		if err := reg.Register(a); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	return NewEngine(reg, Options{Parallel: parallel, Now: func() time.Time { return testNow }})
}

func file(localID, name string, score int, meta asset.FileMetadata) asset.Asset {
	return registrytest.NewAsset(asset.NewID(asset.KindDrive, localID), name, score, meta)
}

func sender(localID, name string, score int, meta asset.SenderMetadata) asset.Asset {
	return registrytest.NewAsset(asset.NewID(asset.KindSender, localID), name, score, meta)
}

func ids(assets []asset.Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.ID.String())
	}
	return out
}

func TestGetAssetsMergesAndSortsByRisk(t *testing.T) {
	t.Parallel()

	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			t.Parallel()
			drive := registrytest.New(asset.PlatformGoogleDrive).Add(file("482", "budget.xlsx", 70, asset.FileMetadata{IsPublic: true}))
			gmail := registrytest.New(asset.PlatformGmail).Add(sender("a@x.test", "a@x.test", 20, asset.SenderMetadata{IsVerified: true}))
			e := newEngine(t, parallel, gmail, drive)

			got, err := e.GetAssets(context.Background(), asset.Filters{}, asset.Sort{Field: asset.SortByRiskScore, Order: asset.SortDesc}, 10, 0)
			if err != nil {
				t.Fatalf("GetAssets() error = %v", err)
			}
			if want := []string{"drive_482", "sender_a@x.test"}; !reflect.DeepEqual(ids(got.Assets), want) {
				t.Fatalf("assets = %v, want %v", ids(got.Assets), want)
			}
			if got.Total != 2 || got.HasMore || got.Partial() {
				t.Fatalf("result = total %d hasMore %v partial %v", got.Total, got.HasMore, got.PartialSources)
			}
		})
	}
}

func TestGetAssetsPartialSourceFailure(t *testing.T) {
	t.Parallel()

	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			t.Parallel()
			drive := registrytest.New(asset.PlatformGoogleDrive).FailList(asset.KindDrive, errors.New("quota exceeded"))
			gmail := registrytest.New(asset.PlatformGmail)
			for i := range 5 {
				gmail.Add(sender(fmt.Sprintf("s%d@x.test", i), fmt.Sprintf("s%d", i), 10*i, asset.SenderMetadata{}))
			}
			e := newEngine(t, parallel, drive, gmail)

			got, err := e.GetAssets(context.Background(), asset.Filters{}, asset.DefaultSort(), 50, 0)
			if err != nil {
				t.Fatalf("GetAssets() error = %v, want nil", err)
			}
			if len(got.Assets) != 5 || got.Total != 5 {
				t.Fatalf("len = %d total = %d, want 5/5", len(got.Assets), got.Total)
			}
			if !reflect.DeepEqual(got.PartialSources, []asset.SourceKind{asset.KindDrive}) {
				t.Fatalf("PartialSources = %v", got.PartialSources)
			}
		})
	}
}

func TestGetAssetsPaginationInvariant(t *testing.T) {
	t.Parallel()

	drive := registrytest.New(asset.PlatformGoogleDrive)
	for i := range 7 {
		drive.Add(file(fmt.Sprint(i), fmt.Sprintf("f%d", i), i*10, asset.FileMetadata{}))
	}
	e := newEngine(t, false, drive)

	for limit := 0; limit <= 8; limit++ {
		for offset := 0; offset <= 9; offset++ {
			got, err := e.GetAssets(context.Background(), asset.Filters{}, asset.DefaultSort(), limit, offset)
			if err != nil {
				t.Fatalf("GetAssets(%d, %d) error = %v", limit, offset, err)
			}
			if got.Total != 7 {
				t.Fatalf("GetAssets(%d, %d) total = %d", limit, offset, got.Total)
			}
			if got.HasMore != (offset+len(got.Assets) < got.Total) {
				t.Fatalf("GetAssets(%d, %d) hasMore = %v with %d assets", limit, offset, got.HasMore, len(got.Assets))
			}
			if want := max(0, min(limit, 7-offset)); len(got.Assets) != want {
				t.Fatalf("GetAssets(%d, %d) len = %d, want %d", limit, offset, len(got.Assets), want)
			}
		}
	}

	beyond, _ := e.GetAssets(context.Background(), asset.Filters{}, asset.DefaultSort(), 10, 50)
	if len(beyond.Assets) != 0 || beyond.HasMore || beyond.Total != 7 {
		t.Fatalf("offset beyond total = %+v", beyond)
	}
	if beyond.Assets == nil {
		t.Fatal("Assets is nil, want empty slice")
	}
}

func TestGetAssetsFiltersAreConjunctive(t *testing.T) {
	t.Parallel()

	drive := registrytest.New(asset.PlatformGoogleDrive).Add(
		file("1", "public.doc", 80, asset.FileMetadata{IsPublic: true}),
		file("2", "private.doc", 10, asset.FileMetadata{}),
	)
	gmail := registrytest.New(asset.PlatformGmail).Add(
		sender("spam@x.test", "Spam", 75, asset.SenderMetadata{IsVerified: false}),
	)
	e := newEngine(t, false, drive, gmail)

	high, err := e.GetAssets(context.Background(), asset.Filters{RiskLevels: []asset.RiskLevel{asset.RiskHigh}}, asset.DefaultSort(), 10, 0)
	if err != nil || high.Total != 2 {
		t.Fatalf("high only = %d, %v", high.Total, err)
	}
	search, _ := e.GetAssets(context.Background(), asset.Filters{Search: "zzz-no-match"}, asset.DefaultSort(), 10, 0)
	if search.Total != 0 {
		t.Fatalf("search only total = %d", search.Total)
	}
	both, _ := e.GetAssets(context.Background(), asset.Filters{RiskLevels: []asset.RiskLevel{asset.RiskHigh}, Search: "zzz-no-match"}, asset.DefaultSort(), 10, 0)
	if both.Total != 0 || len(both.Assets) != 0 {
		t.Fatalf("conjunction total = %d", both.Total)
	}

	public, _ := e.GetAssets(context.Background(), asset.Filters{IsPublic: boolPtr(true)}, asset.DefaultSort(), 10, 0)
	if want := []string{"drive_1"}; !reflect.DeepEqual(ids(public.Assets), want) {
		t.Fatalf("isPublic = %v, want %v", ids(public.Assets), want)
	}

	unverified, _ := e.GetAssets(context.Background(), asset.Filters{IsVerified: boolPtr(false)}, asset.DefaultSort(), 10, 0)
	if want := []string{"sender_spam@x.test"}; !reflect.DeepEqual(ids(unverified.Assets), want) {
		t.Fatalf("isVerified=false = %v, want %v", ids(unverified.Assets), want)
	}
}

func TestGetAssetsSkipsUnwantedSources(t *testing.T) {
	t.Parallel()

	drive := registrytest.New(asset.PlatformGoogleDrive).Add(file("1", "a", 10, asset.FileMetadata{}))
	gmail := registrytest.New(asset.PlatformGmail).Add(sender("a@x.test", "a", 10, asset.SenderMetadata{}))
	e := newEngine(t, false, drive, gmail)

	got, err := e.GetAssets(context.Background(), asset.Filters{Types: []asset.Type{asset.TypeFile}}, asset.DefaultSort(), 10, 0)
	if err != nil {
		t.Fatalf("GetAssets() error = %v", err)
	}
	if got.Total != 1 || gmail.ListCalls() != 0 {
		t.Fatalf("total = %d, gmail list calls = %d", got.Total, gmail.ListCalls())
	}
}

func TestGetAssetsSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	drive := registrytest.New(asset.PlatformGoogleDrive).
		Add(file("1", "a", 10, asset.FileMetadata{})).
		AddMalformed(asset.KindDrive, "broken").
		Add(file("2", "b", 20, asset.FileMetadata{}))
	e := newEngine(t, false, drive)

	got, err := e.GetAssets(context.Background(), asset.Filters{}, asset.DefaultSort(), 10, 0)
	if err != nil {
		t.Fatalf("GetAssets() error = %v", err)
	}
	if got.Total != 2 || got.Partial() {
		t.Fatalf("total = %d partial = %v", got.Total, got.PartialSources)
	}
}

func TestGetAssetsRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	e := newEngine(t, false, registrytest.New(asset.PlatformGoogleDrive))
	tests := []struct {
		name    string
		filters asset.Filters
		sort    asset.Sort
		limit   int
		offset  int
	}{
		{name: "negative limit", limit: -1},
		{name: "negative offset", limit: 1, offset: -1},
		{name: "unknown sort field", sort: asset.Sort{Field: "size"}, limit: 1},
		{name: "unknown order", sort: asset.Sort{Field: asset.SortByName, Order: "sideways"}, limit: 1},
		{name: "unknown type", filters: asset.Filters{Types: []asset.Type{"calendar"}}, limit: 1},
		{name: "unknown risk level", filters: asset.Filters{RiskLevels: []asset.RiskLevel{"critical"}}, limit: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.GetAssets(context.Background(), tt.filters, tt.sort, tt.limit, tt.offset)
			if !errors.Is(err, asset.ErrValidation) {
				t.Fatalf("GetAssets() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSortAssetsIsStable(t *testing.T) {
	t.Parallel()

	assets := []asset.Asset{
		file("1", "b", 50, asset.FileMetadata{}),
		file("2", "A", 50, asset.FileMetadata{}),
		file("3", "a", 10, asset.FileMetadata{}),
		file("4", "c", 50, asset.FileMetadata{}),
	}

	byScore := append([]asset.Asset(nil), assets...)
	SortAssets(byScore, asset.Sort{Field: asset.SortByRiskScore, Order: asset.SortDesc})
	if want := []string{"drive_1", "drive_2", "drive_4", "drive_3"}; !reflect.DeepEqual(ids(byScore), want) {
		t.Fatalf("riskScore desc = %v, want %v", ids(byScore), want)
	}

	byName := append([]asset.Asset(nil), assets...)
	SortAssets(byName, asset.Sort{Field: asset.SortByName, Order: asset.SortAsc})
	if want := []string{"drive_2", "drive_3", "drive_1", "drive_4"}; !reflect.DeepEqual(ids(byName), want) {
		t.Fatalf("name asc = %v, want %v", ids(byName), want)
	}
}

func TestSortAssetsComparesTimesByInstant(t *testing.T) {
	t.Parallel()

	mk := func(id string, at time.Time) asset.Asset {
		a, err := asset.New(asset.Base{ID: asset.NewID(asset.KindDrive, id), Name: id, CreatedAt: at}, asset.FileMetadata{}, registrytest.FixedScorer(0), testNow)
		if err != nil {
			t.Fatalf("asset.New() error = %v", err)
		}
		return a
	}
	tokyo := time.FixedZone("JST", 9*3600)
	assets := []asset.Asset{
		mk("late", time.Date(2026, 1, 1, 10, 0, 0, 0, tokyo)), // 01:00 UTC
		mk("early", time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)),
	}
	SortAssets(assets, asset.Sort{Field: asset.SortByCreatedAt, Order: asset.SortAsc})
	if want := []string{"drive_early", "drive_late"}; !reflect.DeepEqual(ids(assets), want) {
		t.Fatalf("createdAt asc = %v, want %v", ids(assets), want)
	}
}

func TestGetStatsConsistentWithGetAssets(t *testing.T) {
	t.Parallel()

	recent := func(a asset.Asset, at time.Time) asset.Asset {
		out, err := asset.New(asset.Base{ID: a.ID, Name: a.Name, LastActivityAt: at}, a.Metadata(), registrytest.FixedScorer(a.RiskScore()), testNow)
		if err != nil {
			t.Fatalf("asset.New() error = %v", err)
		}
		return out
	}
	drive := registrytest.New(asset.PlatformGoogleDrive).Add(
		recent(file("1", "a", 90, asset.FileMetadata{}), testNow.Add(-time.Hour)),
		recent(file("2", "b", 45, asset.FileMetadata{}), testNow.Add(-30*24*time.Hour)),
	)
	gmail := registrytest.New(asset.PlatformGmail).Add(
		sender("a@x.test", "a", 5, asset.SenderMetadata{}),
		registrytest.NewAsset(asset.NewID(asset.KindMessage, "m1"), "invoice", 65, asset.MessageMetadata{}),
	)
	e := newEngine(t, false, drive, gmail)

	stats, err := e.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	all, err := e.GetAssets(context.Background(), asset.Filters{}, asset.DefaultSort(), 0, 0)
	if err != nil {
		t.Fatalf("GetAssets() error = %v", err)
	}

	sum := 0
	for _, n := range stats.ByRiskLevel {
		sum += n
	}
	if stats.Total != all.Total || sum != stats.Total {
		t.Fatalf("stats total = %d, sum = %d, assets total = %d", stats.Total, sum, all.Total)
	}
	if stats.HighRiskCount != 2 || stats.ByRiskLevel[asset.RiskMedium] != 1 || stats.ByRiskLevel[asset.RiskLow] != 1 {
		t.Fatalf("ByRiskLevel = %v high = %d", stats.ByRiskLevel, stats.HighRiskCount)
	}
	if stats.ByType[asset.TypeFile] != 2 || stats.ByType[asset.TypeSender] != 1 || stats.ByType[asset.TypeMessage] != 1 {
		t.Fatalf("ByType = %v", stats.ByType)
	}
	if stats.RecentActivityCount != 1 {
		t.Fatalf("RecentActivityCount = %d, want 1", stats.RecentActivityCount)
	}
}

func TestGetStatsPartial(t *testing.T) {
	t.Parallel()

	drive := registrytest.New(asset.PlatformGoogleDrive).FailList(asset.KindDrive, errors.New("offline"))
	e := newEngine(t, true, drive, registrytest.New(asset.PlatformGmail))

	stats, err := e.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if !stats.Partial() || stats.Total != 0 || stats.ByRiskLevel[asset.RiskLow] != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestGetAssetsCanceledContext(t *testing.T) {
	t.Parallel()

	e := newEngine(t, false, registrytest.New(asset.PlatformGoogleDrive))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.GetAssets(ctx, asset.Filters{}, asset.DefaultSort(), 10, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("GetAssets() error = %v, want context.Canceled", err)
	}
}
