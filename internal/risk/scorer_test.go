package risk

import (
	"testing"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
)

func TestScorerFileRules(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultPolicy())
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		meta asset.FileMetadata
		want int
	}{
		{name: "private", meta: asset.FileMetadata{}, want: 0},
		{name: "public", meta: asset.FileMetadata{IsPublic: true}, want: 50},
		{name: "domain", meta: asset.FileMetadata{IsDomainShared: true}, want: 25},
		{name: "orphaned inactive", meta: asset.FileMetadata{IsOrphaned: true, IsInactive: true}, want: 25},
		{name: "everything", meta: asset.FileMetadata{IsPublic: true, IsDomainShared: true, IsOrphaned: true, IsInactive: true, ExternalShareCount: 3}, want: 100},
	}
	for _, tc := range tests {
		got := s.Assess(tc.meta, now)
		if got.Score != tc.want {
			t.Fatalf("%s: score = %d, want %d", tc.name, got.Score, tc.want)
		}
	}
}

func TestScorerSenderRules(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultPolicy())
	now := time.Now()

	tests := []struct {
		name string
		meta asset.SenderMetadata
		want int
	}{
		{name: "verified quiet", meta: asset.SenderMetadata{IsVerified: true, HasUnsubscribe: true, EmailCount: 3}, want: 0},
		{name: "unverified", meta: asset.SenderMetadata{HasUnsubscribe: true, EmailCount: 3}, want: 40},
		{name: "high volume", meta: asset.SenderMetadata{IsVerified: true, HasUnsubscribe: true, EmailCount: 101}, want: 25},
		{name: "threshold is exclusive", meta: asset.SenderMetadata{IsVerified: true, HasUnsubscribe: true, EmailCount: 100}, want: 0},
		{name: "no unsubscribe below volume", meta: asset.SenderMetadata{IsVerified: true, EmailCount: 9}, want: 0},
		{name: "no unsubscribe at volume", meta: asset.SenderMetadata{IsVerified: true, EmailCount: 10}, want: 10},
		{name: "unverified with attachments", meta: asset.SenderMetadata{HasUnsubscribe: true, EmailCount: 2, AttachmentCount: 1}, want: 50},
	}
	for _, tc := range tests {
		got := s.Assess(tc.meta, now)
		if got.Score != tc.want {
			t.Fatalf("%s: score = %d, want %d", tc.name, got.Score, tc.want)
		}
		if got.Score > 0 && len(got.Reasons) == 0 {
			t.Fatalf("%s: expected reasons for non-zero score", tc.name)
		}
	}
}

func TestScorerMessageRules(t *testing.T) {
	t.Parallel()

	got := NewScorer(DefaultPolicy()).Assess(asset.MessageMetadata{HasAttachments: true}, time.Now())
	if got.Score != 65 || Level(got.Score) != asset.RiskHigh {
		t.Fatalf("score = %d level = %q, want 65/high", got.Score, Level(got.Score))
	}
}

func TestScorerAlwaysWithinBounds(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.FilePublicWeight = 400
	p.SenderUnverifiedWeight = 1000
	s := NewScorer(p)
	now := time.Now()

	metas := []asset.Metadata{
		asset.FileMetadata{IsPublic: true, IsDomainShared: true},
		asset.SenderMetadata{EmailCount: 5000},
		asset.MessageMetadata{},
		asset.FileMetadata{},
	}
	for _, meta := range metas {
		got := s.Assess(meta, now).Score
		if got < 0 || got > 100 {
			t.Fatalf("Assess(%T) = %d out of bounds", meta, got)
		}
	}
}

func TestScorerWeightIsolation(t *testing.T) {
	t.Parallel()

	base := NewScorer(DefaultPolicy()).Assess(asset.FileMetadata{IsPublic: true, IsOrphaned: true}, time.Now()).Score

	p := DefaultPolicy()
	p.FileOrphanedWeight += 5
	changed := NewScorer(p).Assess(asset.FileMetadata{IsPublic: true, IsOrphaned: true}, time.Now()).Score
	if changed-base != 5 {
		t.Fatalf("changing one weight by 5 moved score by %d", changed-base)
	}
}

func TestInactive(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultPolicy())
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if s.Inactive(time.Time{}, now) {
		t.Fatal("unknown activity must not be inactive")
	}
	if !s.Inactive(now.AddDate(0, 0, -181), now) {
		t.Fatal("181 days ago should be inactive")
	}
	if s.Inactive(now.AddDate(0, 0, -10), now) {
		t.Fatal("10 days ago should be active")
	}
}

func TestPolicyFromEnv(t *testing.T) {
	t.Setenv("RISK_FILE_PUBLIC_WEIGHT", "70")
	t.Setenv("RISK_SENDER_HIGH_VOLUME_THRESHOLD", "bogus")
	t.Setenv("RISK_FILE_INACTIVE_DAYS", "30")

	p := PolicyFromEnv()
	if p.FilePublicWeight != 70 {
		t.Fatalf("FilePublicWeight = %d, want 70", p.FilePublicWeight)
	}
	if p.SenderHighVolumeThreshold != DefaultPolicy().SenderHighVolumeThreshold {
		t.Fatalf("SenderHighVolumeThreshold = %d, want default", p.SenderHighVolumeThreshold)
	}
	if p.FileInactiveAfter != 30*24*time.Hour {
		t.Fatalf("FileInactiveAfter = %s", p.FileInactiveAfter)
	}
}
