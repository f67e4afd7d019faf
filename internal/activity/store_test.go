package activity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
)

func openTestStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	s, err := Open(Options{MaxEntries: maxEntries})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendListNewestFirst(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := range 3 {
		_, err := s.Append(ctx, Entry{
			At:      base.Add(time.Duration(i) * time.Minute),
			Action:  asset.ActionDelete,
			AssetID: fmt.Sprintf("drive_f%d", i),
			Success: i != 1,
		})
		if err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}

	got, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(got))
	}
	for i, want := range []string{"drive_f2", "drive_f1", "drive_f0"} {
		if got[i].AssetID != want {
			t.Fatalf("List()[%d].AssetID = %q, want %q", i, got[i].AssetID, want)
		}
		if got[i].ID == "" {
			t.Fatalf("List()[%d].ID is empty", i)
		}
	}

	limited, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("List(1) error = %v", err)
	}
	if len(limited) != 1 || limited[0].AssetID != "drive_f2" {
		t.Fatalf("List(1) = %+v", limited)
	}
}

func TestAppendPrunesToMaxEntries(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, 2)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range 5 {
		if _, err := s.Append(ctx, Entry{At: base.Add(time.Duration(i) * time.Second), AssetID: fmt.Sprint(i)}); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}

	got, err := s.List(ctx, 100)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].AssetID != "4" || got[1].AssetID != "3" {
		t.Fatalf("List() = %+v, want newest two", got)
	}
	if n, err := s.Prune(ctx); err != nil || n != 0 {
		t.Fatalf("Prune() = %d, %v; want 0, nil", n, err)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, 0)
	ctx := context.Background()
	if _, err := s.Append(ctx, Entry{AssetID: "sender_a@b.test", Action: asset.ActionUnsubscribe}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.SetLastSync(ctx, asset.PlatformGmail, time.Now()); err != nil {
		t.Fatalf("SetLastSync() error = %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("List() after Clear = %+v", got)
	}
	if _, ok, _ := s.LastSync(ctx, asset.PlatformGmail); !ok {
		t.Fatal("Clear() removed sync state")
	}
}

func TestLastSync(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, 0)
	ctx := context.Background()

	if _, ok, err := s.LastSync(ctx, asset.PlatformGoogleDrive); err != nil || ok {
		t.Fatalf("LastSync(unset) = %v, %v", ok, err)
	}
	want := time.Date(2026, 4, 2, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	if err := s.SetLastSync(ctx, asset.PlatformGoogleDrive, want); err != nil {
		t.Fatalf("SetLastSync() error = %v", err)
	}
	got, ok, err := s.LastSync(ctx, asset.PlatformGoogleDrive)
	if err != nil || !ok {
		t.Fatalf("LastSync() = %v, %v", ok, err)
	}
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("LastSync() = %v, want %v in UTC", got, want)
	}
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Append(ctx, Entry{AssetID: "x"}); err == nil {
		t.Fatal("Append() error = nil with canceled context")
	}
	if _, err := s.List(ctx, 0); err == nil {
		t.Fatal("List() error = nil with canceled context")
	}
}
