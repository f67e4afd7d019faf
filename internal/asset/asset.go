// Package asset defines the unified, source-agnostic view of a risky workspace item.
package asset

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the unified asset type used for filtering and stats.
type Type string

const (
	TypeFile    Type = "file"
	TypeSender  Type = "sender"
	TypeMessage Type = "message"
)

var types = []Type{TypeFile, TypeSender, TypeMessage}

func Types() []Type {
	return append([]Type(nil), types...)
}

func (t Type) Valid() bool {
	switch t {
	case TypeFile, TypeSender, TypeMessage:
		return true
	default:
		return false
	}
}

// Kind returns the source kind that produces assets of this type.
func (t Type) Kind() SourceKind {
	switch t {
	case TypeFile:
		return KindDrive
	case TypeSender:
		return KindSender
	case TypeMessage:
		return KindMessage
	default:
		return ""
	}
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

func RiskLevels() []RiskLevel {
	return append([]RiskLevel(nil), riskLevels...)
}

const (
	MinScore = 0
	MaxScore = 100

	mediumThreshold = 31
	highThreshold   = 61
)

// LevelFromScore is the only way a risk level is derived.
func LevelFromScore(score int) RiskLevel {
	switch {
	case score >= highThreshold:
		return RiskHigh
	case score >= mediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ClampScore bounds a raw score to [MinScore, MaxScore].
func ClampScore(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Assessment is a scorer's verdict for one metadata payload.
type Assessment struct {
	Score   int
	Reasons []string
}

// Scorer assigns a risk assessment to metadata. Implementations must be pure.
type Scorer interface {
	Assess(meta Metadata, now time.Time) Assessment
}

// Base holds the display identity and timestamps shared by every asset.
type Base struct {
	ID             ID
	Name           string
	Owner          string
	OwnerEmail     string
	CreatedAt      time.Time
	LastActivityAt time.Time
	LastSyncedAt   time.Time
}

// Asset is one normalized, risk-scored item. The score is set only by New.
type Asset struct {
	Base

	meta    Metadata
	score   int
	reasons []string
}

// New builds a scored asset. The metadata variant must match the id's source kind.
func New(base Base, meta Metadata, scorer Scorer, now time.Time) (Asset, error) {
	if meta == nil {
		return Asset{}, errors.New("asset metadata is required")
	}
	if scorer == nil {
		return Asset{}, errors.New("asset scorer is required")
	}
	base.ID.LocalID = strings.TrimSpace(base.ID.LocalID)
	if !base.ID.Valid() {
		return Asset{}, fmt.Errorf("asset id is incomplete: kind=%q local_id=%q", base.ID.Kind, base.ID.LocalID)
	}
	if meta.SourceKind() != base.ID.Kind {
		return Asset{}, fmt.Errorf("asset metadata %T does not match source kind %q", meta, base.ID.Kind)
	}
	base.Name = strings.TrimSpace(base.Name)
	base.Owner = strings.TrimSpace(base.Owner)
	base.OwnerEmail = strings.ToLower(strings.TrimSpace(base.OwnerEmail))

	assessment := scorer.Assess(meta, now)
	return Asset{
		Base:    base,
		meta:    meta,
		score:   ClampScore(assessment.Score),
		reasons: append([]string(nil), assessment.Reasons...),
	}, nil
}

func (a Asset) Kind() SourceKind      { return a.ID.Kind }
func (a Asset) Type() Type            { return a.ID.Kind.Type() }
func (a Asset) Platform() Platform    { return a.ID.Kind.Platform() }
func (a Asset) Metadata() Metadata    { return a.meta }
func (a Asset) RiskScore() int        { return a.score }
func (a Asset) RiskLevel() RiskLevel  { return LevelFromScore(a.score) }
func (a Asset) RiskReasons() []string { return append([]string(nil), a.reasons...) }

type assetJSON struct {
	ID             string          `json:"id"`
	SourceKind     SourceKind      `json:"sourceKind"`
	Type           Type            `json:"type"`
	Platform       Platform        `json:"platform"`
	Name           string          `json:"name"`
	Owner          string          `json:"owner"`
	OwnerEmail     string          `json:"ownerEmail,omitempty"`
	RiskScore      int             `json:"riskScore"`
	RiskLevel      RiskLevel       `json:"riskLevel"`
	RiskReasons    []string        `json:"riskReasons,omitempty"`
	CreatedAt      *time.Time      `json:"createdAt,omitempty"`
	LastActivityAt *time.Time      `json:"lastActivityAt,omitempty"`
	LastSyncedAt   *time.Time      `json:"lastSyncedAt,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
}

func (a Asset) MarshalJSON() ([]byte, error) {
	var meta json.RawMessage = []byte("null")
	if a.meta != nil {
		raw, err := json.Marshal(a.meta)
		if err != nil {
			return nil, err
		}
		meta = raw
	}
	return json.Marshal(assetJSON{
		ID:             a.ID.String(),
		SourceKind:     a.ID.Kind,
		Type:           a.Type(),
		Platform:       a.Platform(),
		Name:           a.Name,
		Owner:          a.Owner,
		OwnerEmail:     a.OwnerEmail,
		RiskScore:      a.score,
		RiskLevel:      a.RiskLevel(),
		RiskReasons:    a.reasons,
		CreatedAt:      timePtr(a.CreatedAt),
		LastActivityAt: timePtr(a.LastActivityAt),
		LastSyncedAt:   timePtr(a.LastSyncedAt),
		Metadata:       meta,
	})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
