package registry

import (
	"strings"
	"time"
)

// RunMode selects how much of a platform a discovery scan walks.
type RunMode string

const (
	RunModeFull   RunMode = "full"
	RunModeRecent RunMode = "recent"
)

// RecentWindow bounds a recent-mode scan.
const RecentWindow = 30 * 24 * time.Hour

func ParseRunMode(v string) RunMode {
	mode := RunMode(strings.ToLower(strings.TrimSpace(v)))
	return mode.Normalize()
}

func (m RunMode) Normalize() RunMode {
	switch m {
	case RunModeRecent:
		return RunModeRecent
	default:
		return RunModeFull
	}
}

// Since returns the lower bound on item modification time for the mode, or
// the zero time when the whole platform is scanned.
func (m RunMode) Since(now time.Time) time.Time {
	if m.Normalize() == RunModeRecent {
		return now.Add(-RecentWindow)
	}
	return time.Time{}
}
