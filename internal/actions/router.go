// Package actions routes remediation actions to the adapter that owns an
// asset and reports one outcome per asset.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/open-sspm/workspace-audit/internal/activity"
	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/metrics"
)

type Sources interface {
	ForKind(kind asset.SourceKind) (registry.SourceAdapter, bool)
}

type ConnectionStatus interface {
	Status(ctx context.Context, platform asset.Platform) asset.PlatformConnection
}

// Recorder persists action outcomes. *activity.Store satisfies it.
type Recorder interface {
	Append(ctx context.Context, e activity.Entry) (activity.Entry, error)
}

// Result is the outcome for one asset. Failures are carried here, never
// returned as errors.
type Result struct {
	ID        string            `json:"id"`
	Action    asset.Action      `json:"action"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	ErrorKind string            `json:"errorKind,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`

	err error
}

// Err returns the underlying failure, or nil on success.
func (r Result) Err() error { return r.err }

type BatchResult struct {
	Action    asset.Action `json:"action"`
	Items     []Result     `json:"items"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

type Options struct {
	Connections ConnectionStatus
	Recorder    Recorder
	Logger      *slog.Logger
	Now         func() time.Time
}

type Router struct {
	sources     Sources
	connections ConnectionStatus
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
}

func NewRouter(sources Sources, opts Options) *Router {
	r := &Router{
		sources:     sources,
		connections: opts.Connections,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// PerformAction decodes rawID, checks the action against the asset's kind,
// current state and connection, then dispatches one write.
func (r *Router) PerformAction(ctx context.Context, rawID string, action asset.Action) Result {
	res := Result{ID: rawID, Action: action}

	id, target, err := r.prepare(ctx, rawID, action)
	if err == nil {
		res.ID = id.String()
		res.Action = target.action
		var out registry.WriteResult
		out, err = target.adapter.Write(ctx, target.action, id)
		if err == nil {
			res.Success = true
			res.Payload = out.Payload
		}
	}
	if err != nil {
		res.err = err
		res.Error = err.Error()
		res.ErrorKind = asset.KindOf(err)
	}

	r.record(ctx, id, target.name, res)
	return res
}

// PerformBatch applies action to every id in order. Each id gets its own
// outcome; one failure never stops the rest.
func (r *Router) PerformBatch(ctx context.Context, rawIDs []string, action asset.Action) (BatchResult, error) {
	if err := asset.ValidateBatch(asset.BatchRequest{IDs: rawIDs}); err != nil {
		return BatchResult{}, err
	}
	out := BatchResult{Action: action, Items: make([]Result, 0, len(rawIDs))}
	for _, rawID := range rawIDs {
		res := r.PerformAction(ctx, rawID, action)
		if res.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
		out.Items = append(out.Items, res)
	}
	return out, nil
}

type dispatch struct {
	adapter registry.SourceAdapter
	action  asset.Action
	name    string
}

func (r *Router) prepare(ctx context.Context, rawID string, rawAction asset.Action) (asset.ID, dispatch, error) {
	if err := ctx.Err(); err != nil {
		return asset.ID{}, dispatch{}, err
	}
	id, err := asset.DecodeID(rawID)
	if err != nil {
		return asset.ID{}, dispatch{}, err
	}
	action, err := asset.ParseAction(string(rawAction))
	if err != nil {
		return id, dispatch{}, err
	}
	if !Supported(id.Kind, action) {
		return id, dispatch{}, asset.Unsupported("%s is not defined for %s assets", action, id.Kind.Type())
	}

	adapter, ok := r.sources.ForKind(id.Kind)
	if !ok {
		return id, dispatch{}, asset.SourceUnavailable(string(id.Kind), errors.New("no adapter registered"))
	}
	current, err := adapter.Get(ctx, id)
	if err != nil {
		return id, dispatch{}, err
	}
	target := dispatch{adapter: adapter, action: action, name: current.Name}
	if err := asset.Match[error](current.Metadata(), stateCheck{action: action}); err != nil {
		return id, target, err
	}
	if err := r.checkConnection(ctx, id.Kind, action); err != nil {
		return id, target, err
	}
	return id, target, nil
}

func (r *Router) checkConnection(ctx context.Context, kind asset.SourceKind, action asset.Action) error {
	if r.connections == nil {
		return nil
	}
	conn := r.connections.Status(ctx, kind.Platform())
	if !conn.IsConnected {
		reason := conn.Error
		if reason == "" {
			reason = "not connected"
		}
		return asset.SourceUnavailable(string(kind.Platform()), errors.New(reason))
	}
	if action.Mutating() && !conn.Capabilities.CanWrite(kind) {
		return asset.Unsupported("%s connection does not allow %s", kind.Platform(), action)
	}
	if !conn.Capabilities.CanRead(kind) {
		return asset.Unsupported("%s connection cannot read %s assets", kind.Platform(), kind.Type())
	}
	// Refreshing a sender searches the mailbox by sender address.
	if kind == asset.KindSender && action == asset.ActionRefresh && !conn.Capabilities.SearchEmail {
		return asset.Unsupported("%s connection cannot search mail, so senders cannot be refreshed", kind.Platform())
	}
	return nil
}

func (r *Router) record(ctx context.Context, id asset.ID, name string, res Result) {
	source := string(id.Kind)
	if source == "" {
		source = "unknown"
	}
	status := metrics.StatusSuccess
	if !res.Success {
		status = metrics.StatusFailure
		r.logger.Warn("action failed", "asset_id", res.ID, "action", res.Action, "kind", res.ErrorKind, "err", res.err)
	}
	metrics.ActionsTotal.WithLabelValues(source, string(res.Action), status).Inc()

	if r.recorder == nil {
		return
	}
	entry := activity.Entry{
		At:        r.now(),
		Action:    res.Action,
		AssetID:   res.ID,
		AssetName: name,
		Success:   res.Success,
		ErrorKind: res.ErrorKind,
		Message:   res.Error,
	}
	if id.Kind.Valid() {
		entry.Platform = id.Kind.Platform()
	}
	if _, err := r.recorder.Append(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("activity append failed", "asset_id", res.ID, "err", err)
	}
}

// Supported reports whether action is defined for assets of kind.
func Supported(kind asset.SourceKind, action asset.Action) bool {
	switch kind {
	case asset.KindDrive, asset.KindMessage:
		return action == asset.ActionDelete || action == asset.ActionRefresh
	case asset.KindSender:
		return action == asset.ActionDelete || action == asset.ActionRefresh || action == asset.ActionUnsubscribe
	default:
		return false
	}
}

// stateCheck rejects actions the asset's current state does not allow.
type stateCheck struct {
	action asset.Action
}

func (c stateCheck) File(asset.FileMetadata) error { return nil }

func (c stateCheck) Sender(m asset.SenderMetadata) error {
	if c.action != asset.ActionUnsubscribe {
		return nil
	}
	if m.IsUnsubscribed {
		return asset.Unsupported("sender %s is already unsubscribed", m.Email)
	}
	if !m.HasUnsubscribe {
		return asset.Unsupported("sender %s offers no unsubscribe option", m.Email)
	}
	return nil
}

func (c stateCheck) Message(asset.MessageMetadata) error { return nil }
