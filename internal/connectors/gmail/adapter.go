// Package gmail adapts a Gmail mailbox into sender and message assets.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/googleapi"
	"github.com/open-sspm/workspace-audit/internal/connectors/registry"
	"github.com/open-sspm/workspace-audit/internal/rawstore"
	"github.com/open-sspm/workspace-audit/internal/risk"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
	mailbox         = "/users/me"
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
		return nil, errors.New("gmail adapter: store is required")
	}
	if opts.Connector == nil {
		return nil, errors.New("gmail adapter: connector is required")
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

func (a *Adapter) Platform() asset.Platform { return asset.PlatformGmail }

func (a *Adapter) Kinds() []asset.SourceKind {
	return []asset.SourceKind{asset.KindSender, asset.KindMessage}
}

func (a *Adapter) List(ctx context.Context, kind asset.SourceKind, filters registry.NativeFilters, page registry.PageRequest) ([]rawstore.Record, registry.PageInfo, error) {
	if kind != asset.KindSender && kind != asset.KindMessage {
		return nil, registry.PageInfo{}, fmt.Errorf("gmail adapter cannot list %q", kind)
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
	switch rec.Kind {
	case asset.KindSender:
		s, err := decodeSender(rec.Payload)
		if err != nil {
			return asset.Asset{}, err
		}
		email := s.Email
		if email == "" {
			email = rec.LocalID
			s.Email = email
		}
		base := asset.Base{
			ID:             asset.NewID(asset.KindSender, rec.LocalID),
			Name:           s.Name,
			Owner:          s.Name,
			OwnerEmail:     email,
			CreatedAt:      s.FirstEmailAt,
			LastActivityAt: s.LastEmailAt,
			LastSyncedAt:   rec.FetchedAt,
		}
		if base.Name == "" {
			base.Name = email
		}
		if base.Owner == "" {
			base.Owner = email
		}
		return asset.New(base, s.metadata(), a.scorer, now)
	case asset.KindMessage:
		m, err := decodeMessage(rec.Payload)
		if err != nil {
			return asset.Asset{}, err
		}
		base := asset.Base{
			ID:             asset.NewID(asset.KindMessage, rec.LocalID),
			Name:           m.Subject,
			Owner:          m.FromName,
			OwnerEmail:     m.From,
			CreatedAt:      m.Date,
			LastActivityAt: m.Date,
			LastSyncedAt:   rec.FetchedAt,
		}
		if base.Name == "" {
			base.Name = "(no subject)"
		}
		if base.Owner == "" {
			base.Owner = m.From
		}
		return asset.New(base, m.metadata(), a.scorer, now)
	default:
		return asset.Asset{}, fmt.Errorf("gmail adapter cannot normalize %q", rec.Kind)
	}
}

func (a *Adapter) Get(ctx context.Context, id asset.ID) (asset.Asset, error) {
	if id.Kind != asset.KindSender && id.Kind != asset.KindMessage {
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

func (a *Adapter) client(ctx context.Context) (*googleapi.Client, error) {
	client, _, err := a.connector.Connect(ctx, a.Platform())
	if err != nil {
		return nil, asset.SourceUnavailable(string(a.Platform()), err)
	}
	return client, nil
}

func (a *Adapter) unavailable(err error) error {
	return asset.SourceUnavailable(string(a.Platform()), err)
}
