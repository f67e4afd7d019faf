package asset

import (
	"fmt"
	"strings"
)

// ListResult is one page of a filtered, sorted asset query.
// HasMore == Offset+len(Assets) < Total, and Total is the filtered size.
type ListResult struct {
	Assets         []Asset      `json:"assets"`
	Total          int          `json:"total"`
	Limit          int          `json:"limit"`
	Offset         int          `json:"offset"`
	HasMore        bool         `json:"hasMore"`
	PartialSources []SourceKind `json:"partialSources,omitempty"`
}

// Partial reports whether at least one source failed and was left out.
func (r ListResult) Partial() bool { return len(r.PartialSources) > 0 }

type Stats struct {
	Total               int               `json:"total"`
	ByType              map[Type]int      `json:"byType"`
	ByRiskLevel         map[RiskLevel]int `json:"byRiskLevel"`
	HighRiskCount       int               `json:"highRiskCount"`
	RecentActivityCount int               `json:"recentActivityCount"`
	PartialSources      []SourceKind      `json:"partialSources,omitempty"`
}

func (s Stats) Partial() bool { return len(s.PartialSources) > 0 }

// ScanProgress is the cumulative state of one discovery scan.
type ScanProgress struct {
	ProcessedCount    int    `json:"processedCount"`
	DiscoveredCount   int    `json:"discoveredCount"`
	PagesCompleted    int    `json:"pagesCompleted"`
	HasMore           bool   `json:"hasMore"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// Capabilities lists what a resolved connection is permitted to do.
// SearchEmail is false for metadata-only Gmail grants, which reject search
// queries.
type Capabilities struct {
	ReadFiles     bool `json:"readFiles"`
	WriteFiles    bool `json:"writeFiles"`
	ReadEmail     bool `json:"readEmail"`
	WriteEmail    bool `json:"writeEmail"`
	SearchEmail   bool `json:"searchEmail"`
	ReadDirectory bool `json:"readDirectory"`
}

// CanRead reports read permission for the data behind kind.
func (c Capabilities) CanRead(kind SourceKind) bool {
	switch kind.Platform() {
	case PlatformGoogleDrive:
		return c.ReadFiles
	case PlatformGmail:
		return c.ReadEmail
	default:
		return false
	}
}

// CanWrite reports write permission for the data behind kind.
func (c Capabilities) CanWrite(kind SourceKind) bool {
	switch kind.Platform() {
	case PlatformGoogleDrive:
		return c.WriteFiles
	case PlatformGmail:
		return c.WriteEmail
	default:
		return false
	}
}

// PlatformConnection is the resolved state of one platform. CredentialHint
// is a masked form of the secret in use.
type PlatformConnection struct {
	Platform       Platform     `json:"platform"`
	SourceKinds    []SourceKind `json:"sourceKinds"`
	IsConnected    bool         `json:"isConnected"`
	AuthType       string       `json:"authType,omitempty"`
	Email          string       `json:"email,omitempty"`
	CredentialHint string       `json:"credentialHint,omitempty"`
	Capabilities   Capabilities `json:"capabilities"`
	Error          string       `json:"error,omitempty"`
}

// Action is a remediation operation routed back to an asset's source.
type Action string

const (
	ActionDelete      Action = "delete"
	ActionUnsubscribe Action = "unsubscribe"
	ActionRefresh     Action = "refresh"
)

func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case ActionDelete, ActionUnsubscribe, ActionRefresh:
		return action, nil
	default:
		return "", &Error{Kind: ErrValidation, Op: "parse action", Err: fmt.Errorf("unknown action %q", raw)}
	}
}

// Mutating reports whether the action changes data at the source.
func (a Action) Mutating() bool {
	return a == ActionDelete || a == ActionUnsubscribe
}
