package risk

import (
	"fmt"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
)

// Scorer applies a Policy to asset metadata. It performs no I/O.
type Scorer struct {
	policy Policy
}

func NewScorer(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

func (s *Scorer) Policy() Policy { return s.policy }

// Assess implements asset.Scorer.
func (s *Scorer) Assess(meta asset.Metadata, now time.Time) asset.Assessment {
	if meta == nil {
		return asset.Assessment{}
	}
	a := asset.Match[asset.Assessment](meta, ruleSet{policy: s.policy})
	a.Score = asset.ClampScore(a.Score)
	return a
}

// Inactive reports whether lastActivity is older than the policy's inactivity window.
// An unknown activity time is not treated as inactive.
func (s *Scorer) Inactive(lastActivity, now time.Time) bool {
	if lastActivity.IsZero() || s.policy.FileInactiveAfter <= 0 {
		return false
	}
	return now.Sub(lastActivity) > s.policy.FileInactiveAfter
}

// Level is a convenience over asset.LevelFromScore.
func Level(score int) asset.RiskLevel {
	return asset.LevelFromScore(score)
}

type ruleSet struct {
	policy Policy
}

type tally struct {
	score   int
	reasons []string
}

func (t *tally) add(weight int, reason string) {
	if weight <= 0 {
		return
	}
	t.score += weight
	t.reasons = append(t.reasons, reason)
}

func (t tally) assessment() asset.Assessment {
	return asset.Assessment{Score: t.score, Reasons: t.reasons}
}

func (r ruleSet) File(m asset.FileMetadata) asset.Assessment {
	var t tally
	if m.IsPublic {
		t.add(r.policy.FilePublicWeight, "publicly accessible")
	}
	if m.IsDomainShared {
		t.add(r.policy.FileDomainSharedWeight, "shared with the entire domain")
	}
	if m.IsOrphaned {
		t.add(r.policy.FileOrphanedWeight, "owner no longer exists")
	}
	if m.IsInactive {
		t.add(r.policy.FileInactiveWeight, "no recent activity")
	}
	if m.ExternalShareCount > 0 {
		t.add(r.policy.FileExternalShareWeight, fmt.Sprintf("shared with %d external account(s)", m.ExternalShareCount))
	}
	return t.assessment()
}

func (r ruleSet) Sender(m asset.SenderMetadata) asset.Assessment {
	var t tally
	if !m.IsVerified {
		t.add(r.policy.SenderUnverifiedWeight, "failed sender authentication")
	}
	if m.EmailCount > r.policy.SenderHighVolumeThreshold {
		t.add(r.policy.SenderHighVolumeWeight, fmt.Sprintf("high volume (%d emails)", m.EmailCount))
	}
	if !m.HasUnsubscribe && m.EmailCount >= r.policy.SenderNoUnsubscribeMinVolume {
		t.add(r.policy.SenderNoUnsubscribeWeight, "no unsubscribe option")
	}
	if !m.IsVerified && m.AttachmentCount > 0 {
		t.add(r.policy.SenderAttachmentWeight, "attachments from an unverified sender")
	}
	return t.assessment()
}

func (r ruleSet) Message(m asset.MessageMetadata) asset.Assessment {
	var t tally
	if !m.IsVerified {
		t.add(r.policy.MessageUnverifiedWeight, "failed sender authentication")
	}
	if m.HasAttachments || m.AttachmentCount > 0 {
		t.add(r.policy.MessageAttachmentWeight, "carries attachments")
	}
	return t.assessment()
}
