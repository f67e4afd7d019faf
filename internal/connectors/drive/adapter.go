// Package drive adapts Google Drive files into unified file assets.
package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/googleapi"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
	"github.com/open-sspm/workspace-audit/internal/risk"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

type Adapter struct {
	store     rawstore.Store
	connector googleapi.Connector
	scorer    *risk.Scorer
	logger    *slog.Logger
	now       func() time.Time
}

type Options struct {
	Store     rawstore.Store
	Connector googleapi.Connector
	Scorer    *risk.Scorer
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(opts Options) (*Adapter, error) {
	if opts.Store == nil {
		return nil, errors.New("drive adapter: store is required")
	}
	if opts.Connector == nil {
		return nil, errors.New("drive adapter: connector is required")
	}
	if opts.Scorer == nil {
		opts.Scorer = risk.NewScorer(risk.DefaultPolicy())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Adapter{
		store:     opts.Store,
		connector: opts.Connector,
		scorer:    opts.Scorer,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

func (a *Adapter) Platform() asset.Platform { return asset.PlatformGoogleDrive }

func (a *Adapter) Kinds() []asset.SourceKind { return []asset.SourceKind{asset.KindDrive} }

func (a *Adapter) List(ctx context.Context, kind asset.SourceKind, filters registry.NativeFilters, page registry.PageRequest) ([]rawstore.Record, registry.PageInfo, error) {
	if kind != asset.KindDrive {
		return nil, registry.PageInfo{}, fmt.Errorf("drive adapter cannot list %q", kind)
	}
	records, err := a.store.List(ctx, kind, rawstore.Query{Search: filters.Search, Limit: page.Limit, Offset: page.Offset})
	if err != nil {
		return nil, registry.PageInfo{}, asset.SourceUnavailable(string(kind), err)
	}
	info := registry.PageInfo{NextOffset: page.Offset + len(records)}
	info.HasMore = page.Limit > 0 && len(records) == page.Limit
	return records, info, nil
}

func (a *Adapter) Normalize(rec rawstore.Record, now time.Time) (asset.Asset, error) {
	f, err := decodeFile(rec.Payload)
	if err != nil {
		return asset.Asset{}, err
	}
	localID := rec.LocalID
	if localID == "" {
		localID = f.ID
	}
	owner := f.owner()
	lastActivity := f.lastActivity()

	base := asset.Base{
		ID:             asset.NewID(asset.KindDrive, localID),
		Name:           f.Name,
		Owner:          owner.DisplayName,
		OwnerEmail:     owner.EmailAddress,
		CreatedAt:      googleapi.ParseTime(f.CreatedTime),
		LastActivityAt: lastActivity,
		LastSyncedAt:   rec.FetchedAt,
	}
	if strings.TrimSpace(base.Name) == "" {
		base.Name = "Untitled"
	}
	if base.Owner == "" {
		base.Owner = owner.EmailAddress
	}
	return asset.New(base, f.metadata(a.scorer.Inactive(lastActivity, now)), a.scorer, now)
}

func (a *Adapter) Get(ctx context.Context, id asset.ID) (asset.Asset, error) {
	if id.Kind != asset.KindDrive {
		return asset.Asset{}, asset.NotFound(id)
	}
	rec, err := a.store.Get(ctx, id.Kind, id.LocalID)
	if errors.Is(err, rawstore.ErrNotFound) {
		return asset.Asset{}, asset.NotFound(id)
	}
	if err != nil {
		return asset.Asset{}, asset.SourceUnavailable(string(id.Kind), err)
	}
	return a.Normalize(rec, a.now().UTC())
}

// FetchDiscoveryPage walks one page of files.list and upserts each file.
func (a *Adapter) FetchDiscoveryPage(ctx context.Context, req registry.DiscoveryRequest) (registry.DiscoveryPage, error) {
	client, conn, err := a.connector.Connect(ctx, a.Platform())
	if err != nil {
		return registry.DiscoveryPage{}, asset.SourceUnavailable(string(a.Platform()), err)
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	now := a.now().UTC()
	query := "trashed = false"
	if since := req.Mode.Since(now); !since.IsZero() {
		query += " and modifiedTime > '" + since.Format(time.RFC3339) + "'"
	}
	values := url.Values{}
	values.Set("pageSize", strconv.Itoa(pageSize))
	values.Set("q", query)
	values.Set("fields", "nextPageToken,files("+fileFields+")")
	values.Set("supportsAllDrives", "true")
	values.Set("includeItemsFromAllDrives", "true")

	page, err := client.ListPage(ctx, client.DriveBaseURL()+"/files", "files", req.PageToken, values)
	if err != nil {
		return registry.DiscoveryPage{}, asset.SourceUnavailable(string(a.Platform()), err)
	}

	owners := ownerLookup{client: client, enabled: conn.Capabilities.ReadDirectory, known: map[string]*bool{}}
	out := registry.DiscoveryPage{
		NextPageToken: page.NextPageToken,
		HasMore:       page.NextPageToken != "",
	}
	for _, item := range page.Items {
		out.Processed++
		f, err := decodeFile(item)
		if err != nil || f.ID == "" {
			a.logger.Warn("skipping malformed drive file", "err", err)
			continue
		}
		f.OwnerExists = owners.exists(ctx, a.logger, f.owner().EmailAddress)

		created, err := a.upsert(ctx, f, now)
		if err != nil {
			return out, err
		}
		if created {
			out.Discovered++
		}
	}
	return out, nil
}

func (a *Adapter) upsert(ctx context.Context, f filePayload, now time.Time) (bool, error) {
	rec, err := f.record(now)
	if err != nil {
		return false, err
	}
	return a.store.Put(ctx, rec)
}

// ownerLookup caches directory lookups for the duration of one page.
type ownerLookup struct {
	client  *googleapi.Client
	enabled bool
	known   map[string]*bool
}

func (o ownerLookup) exists(ctx context.Context, logger *slog.Logger, email string) *bool {
	if !o.enabled || email == "" {
		return nil
	}
	if v, ok := o.known[email]; ok {
		return v
	}
	endpoint := o.client.DirectoryBaseURL() + "/users/" + url.PathEscape(email)
	err := o.client.GetJSON(ctx, endpoint, url.Values{"fields": {"id"}}, nil)
	var result *bool
	switch {
	case err == nil:
		result = boolPtr(true)
	case errors.Is(err, googleapi.ErrNotFound):
		result = boolPtr(false)
	default:
		logger.Warn("directory owner lookup failed", "owner", email, "err", err)
	}
	o.known[email] = result
	return result
}

func boolPtr(v bool) *bool { return &v }

func (a *Adapter) Write(ctx context.Context, action asset.Action, id asset.ID) (registry.WriteResult, error) {
	if id.Kind != asset.KindDrive {
		return registry.WriteResult{}, asset.Unsupported("drive adapter cannot act on %s", id)
	}
	switch action {
	case asset.ActionDelete:
		return registry.WriteResult{}, a.trash(ctx, id)
	case asset.ActionRefresh:
		return registry.WriteResult{}, a.refresh(ctx, id)
	default:
		return registry.WriteResult{}, asset.Unsupported("%s is not supported for drive files", action)
	}
}

// trash moves the file to the owner's trash rather than deleting it outright.
func (a *Adapter) trash(ctx context.Context, id asset.ID) error {
	client, _, err := a.connector.Connect(ctx, a.Platform())
	if err != nil {
		return asset.SourceUnavailable(string(a.Platform()), err)
	}
	endpoint := client.DriveBaseURL() + "/files/" + url.PathEscape(id.LocalID) + "?supportsAllDrives=true"
	if err := client.PatchJSON(ctx, endpoint, map[string]bool{"trashed": true}, nil); err != nil {
		if errors.Is(err, googleapi.ErrNotFound) {
			_ = a.store.Delete(ctx, id.Kind, id.LocalID)
			return asset.NotFound(id)
		}
		return asset.SourceUnavailable(string(a.Platform()), err)
	}
	if err := a.store.Delete(ctx, id.Kind, id.LocalID); err != nil && !errors.Is(err, rawstore.ErrNotFound) {
		return fmt.Errorf("remove trashed file record: %w", err)
	}
	return nil
}

func (a *Adapter) refresh(ctx context.Context, id asset.ID) error {
	client, conn, err := a.connector.Connect(ctx, a.Platform())
	if err != nil {
		return asset.SourceUnavailable(string(a.Platform()), err)
	}
	var f filePayload
	endpoint := client.DriveBaseURL() + "/files/" + url.PathEscape(id.LocalID)
	err = client.GetJSON(ctx, endpoint, url.Values{"fields": {fileFields}, "supportsAllDrives": {"true"}}, &f)
	if errors.Is(err, googleapi.ErrNotFound) {
		_ = a.store.Delete(ctx, id.Kind, id.LocalID)
		return asset.NotFound(id)
	}
	if err != nil {
		return asset.SourceUnavailable(string(a.Platform()), err)
	}
	if f.Trashed {
		_ = a.store.Delete(ctx, id.Kind, id.LocalID)
		return nil
	}
	f.ID = id.LocalID
	owners := ownerLookup{client: client, enabled: conn.Capabilities.ReadDirectory, known: map[string]*bool{}}
	f.OwnerExists = owners.exists(ctx, a.logger, f.owner().EmailAddress)
	_, err = a.upsert(ctx, f, a.now().UTC())
	return err
}
