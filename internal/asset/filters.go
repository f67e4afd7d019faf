package asset

import (
	"slices"
	"strings"
)

// Filters constrains a query. A nil or empty field places no constraint on its
// dimension, and all present fields combine with AND. The per-type flags only
// hold for the types that define them, so setting one excludes every other type.
type Filters struct {
	Types          []Type      `json:"types,omitempty" validate:"omitempty,dive,oneof=file sender message"`
	RiskLevels     []RiskLevel `json:"riskLevels,omitempty" validate:"omitempty,dive,oneof=low medium high"`
	Search         string      `json:"search,omitempty" validate:"max=256"`
	IsOrphaned     *bool       `json:"isOrphaned,omitempty"`
	IsInactive     *bool       `json:"isInactive,omitempty"`
	IsPublic       *bool       `json:"isPublic,omitempty"`
	IsVerified     *bool       `json:"isVerified,omitempty"`
	HasUnsubscribe *bool       `json:"hasUnsubscribe,omitempty"`
}

func (f Filters) Normalized() Filters {
	out := f
	out.Search = strings.TrimSpace(out.Search)
	if len(f.Types) > 0 {
		out.Types = make([]Type, 0, len(f.Types))
		for _, t := range f.Types {
			t = Type(strings.ToLower(strings.TrimSpace(string(t))))
			if t != "" && !slices.Contains(out.Types, t) {
				out.Types = append(out.Types, t)
			}
		}
	}
	if len(f.RiskLevels) > 0 {
		out.RiskLevels = make([]RiskLevel, 0, len(f.RiskLevels))
		for _, l := range f.RiskLevels {
			l = RiskLevel(strings.ToLower(strings.TrimSpace(string(l))))
			if l != "" && !slices.Contains(out.RiskLevels, l) {
				out.RiskLevels = append(out.RiskLevels, l)
			}
		}
	}
	return out
}

// WantsKind reports whether assets of kind can satisfy the type constraint.
func (f Filters) WantsKind(kind SourceKind) bool {
	if len(f.Types) == 0 {
		return true
	}
	return slices.Contains(f.Types, kind.Type())
}

// Matches evaluates every filter dimension against a.
func (f Filters) Matches(a Asset) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, a.Type()) {
		return false
	}
	if len(f.RiskLevels) > 0 && !slices.Contains(f.RiskLevels, a.RiskLevel()) {
		return false
	}
	if f.Search != "" && !MatchesSearch(a, f.Search) {
		return false
	}
	if a.meta == nil {
		return f.IsOrphaned == nil && f.IsInactive == nil && f.IsPublic == nil && f.IsVerified == nil && f.HasUnsubscribe == nil
	}
	flags := Match[flagSet](a.meta, flagVisitor{})
	return flagMatches(f.IsOrphaned, flags.orphaned) &&
		flagMatches(f.IsInactive, flags.inactive) &&
		flagMatches(f.IsPublic, flags.public) &&
		flagMatches(f.IsVerified, flags.verified) &&
		flagMatches(f.HasUnsubscribe, flags.unsubscribe)
}

// MatchesSearch is a case-insensitive substring match over name and owner.
func MatchesSearch(a Asset, search string) bool {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(a.Name), needle) ||
		strings.Contains(strings.ToLower(a.Owner), needle) ||
		strings.Contains(a.OwnerEmail, needle)
}

func flagMatches(want, have *bool) bool {
	if want == nil {
		return true
	}
	if have == nil {
		return false
	}
	return *want == *have
}

type flagSet struct {
	orphaned    *bool
	inactive    *bool
	public      *bool
	verified    *bool
	unsubscribe *bool
}

type flagVisitor struct{}

func (flagVisitor) File(m FileMetadata) flagSet {
	return flagSet{orphaned: &m.IsOrphaned, inactive: &m.IsInactive, public: &m.IsPublic}
}

func (flagVisitor) Sender(m SenderMetadata) flagSet {
	return flagSet{verified: &m.IsVerified, unsubscribe: &m.HasUnsubscribe}
}

func (flagVisitor) Message(m MessageMetadata) flagSet {
	return flagSet{verified: &m.IsVerified}
}

type SortField string

const (
	SortByName           SortField = "name"
	SortByRiskScore      SortField = "riskScore"
	SortByCreatedAt      SortField = "createdAt"
	SortByLastActivityAt SortField = "lastActivityAt"
	SortByOwner          SortField = "owner"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type Sort struct {
	Field SortField `json:"field" validate:"required,oneof=name riskScore createdAt lastActivityAt owner"`
	Order SortOrder `json:"order" validate:"required,oneof=asc desc"`
}

// DefaultSort puts the riskiest assets first.
func DefaultSort() Sort {
	return Sort{Field: SortByRiskScore, Order: SortDesc}
}

// Normalized fills missing parts from DefaultSort. Field names match case-insensitively.
func (s Sort) Normalized() Sort {
	out := s
	field := strings.TrimSpace(string(s.Field))
	switch strings.ToLower(field) {
	case "":
		out.Field = DefaultSort().Field
	case "name":
		out.Field = SortByName
	case "riskscore", "risk_score":
		out.Field = SortByRiskScore
	case "createdat", "created_at":
		out.Field = SortByCreatedAt
	case "lastactivityat", "last_activity_at":
		out.Field = SortByLastActivityAt
	case "owner":
		out.Field = SortByOwner
	default:
		out.Field = SortField(field)
	}
	order := SortOrder(strings.ToLower(strings.TrimSpace(string(s.Order))))
	if order == "" {
		if out.Field == SortByRiskScore {
			order = SortDesc
		} else {
			order = SortAsc
		}
	}
	out.Order = order
	return out
}
