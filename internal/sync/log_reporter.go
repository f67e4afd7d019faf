package sync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
)

const (
	defaultProgressInterval    = 5 * time.Second
	defaultProgressPercentStep = int64(5)
)

type progressKey struct {
	source string
	stage  string
}

type progressMark struct {
	at      time.Time
	percent int64
}

// LogReporter logs scan events. Progress lines for one source and stage are
// throttled by time, and by percent step when the total is known; failures,
// completions and plain messages always log.
type LogReporter struct {
	Logger              *slog.Logger
	ProgressInterval    time.Duration
	ProgressPercentStep int64

	mu    sync.Mutex
	marks map[progressKey]progressMark
}

func (r *LogReporter) Report(e registry.Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := e.At
	if now.IsZero() {
		now = time.Now()
	}

	attrs := []any{"source", e.Source}
	if e.Stage != "" {
		attrs = append(attrs, "stage", e.Stage)
	}
	switch {
	case e.Total == registry.UnknownTotal:
		attrs = append(attrs, "processed", e.Current)
	case e.Current != 0 || e.Total != 0:
		attrs = append(attrs, "current", e.Current, "total", e.Total)
	}

	if e.Err != nil {
		attrs = append(attrs, "err", e.Err)
		logger.Error(failureMessage(e), attrs...)
		r.forget(e)
		return
	}

	message := e.Message
	if e.Done {
		if message == "" {
			message = "scan complete"
		}
		logger.Info(message, attrs...)
		r.forget(e)
		return
	}
	if message == "" || !r.allow(now, e) {
		return
	}
	logger.Info(message, attrs...)
}

func failureMessage(e registry.Event) string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Source != "" && e.Stage != "":
		return e.Source + " " + e.Stage + " failed"
	case e.Source != "":
		return e.Source + " failed"
	default:
		return "scan failed"
	}
}

// allow decides whether a progress event is logged and remembers it if so.
func (r *LogReporter) allow(now time.Time, e registry.Event) bool {
	// Events without counters, single-item stages and the first and last
	// step of a known total always log.
	if e.Current == 0 && e.Total == 0 {
		return true
	}
	if e.Total == 1 {
		return true
	}
	known := e.Total > 1
	edge := known && (e.Current <= 0 || e.Current >= e.Total)

	interval := r.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	step := r.ProgressPercentStep
	if step <= 0 {
		step = defaultProgressPercentStep
	}
	percent := int64(0)
	if known {
		percent = progressPercent(e.Current, e.Total) / step * step
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.marks == nil {
		r.marks = make(map[progressKey]progressMark)
	}
	key := progressKey{source: e.Source, stage: e.Stage}
	last, seen := r.marks[key]
	if !edge && seen && now.Sub(last.at) < interval {
		if !known || progressPercent(e.Current, e.Total) < last.percent+step {
			return false
		}
	}
	r.marks[key] = progressMark{at: now, percent: percent}
	return true
}

func (r *LogReporter) forget(e registry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.marks, progressKey{source: e.Source, stage: e.Stage})
}

func progressPercent(current, total int64) int64 {
	switch {
	case total <= 0 || current <= 0:
		return 0
	case current >= total:
		return 100
	default:
		return current * 100 / total
	}
}

// MultiReporter fans one event out to several reporters.
type MultiReporter []registry.Reporter

func (m MultiReporter) Report(e registry.Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}
