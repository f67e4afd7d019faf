// Package rawstore persists raw per-source records exactly as fetched, before normalization.
package rawstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
)

var ErrNotFound = errors.New("raw record not found")

// Record is one raw upstream object. Seq is assigned on first insert and never
// changes, so listing by Seq reproduces the original fetch order.
type Record struct {
	Kind        asset.SourceKind
	LocalID     string
	DisplayName string
	Owner       string
	Payload     json.RawMessage
	Seq         int64
	FetchedAt   time.Time
	UpdatedAt   time.Time
}

// Query narrows a List call. Search is a case-insensitive substring over
// DisplayName and Owner. Limit <= 0 means no limit.
type Query struct {
	Search string
	Limit  int
	Offset int
}

type Store interface {
	List(ctx context.Context, kind asset.SourceKind, q Query) ([]Record, error)
	Get(ctx context.Context, kind asset.SourceKind, localID string) (Record, error)
	// Put inserts or replaces a record and reports whether it was newly created.
	Put(ctx context.Context, rec Record) (bool, error)
	Delete(ctx context.Context, kind asset.SourceKind, localID string) error
	Count(ctx context.Context, kind asset.SourceKind) (int, error)
}

func normalizeRecord(rec Record) (Record, error) {
	rec.LocalID = strings.TrimSpace(rec.LocalID)
	rec.DisplayName = strings.TrimSpace(rec.DisplayName)
	rec.Owner = strings.TrimSpace(rec.Owner)
	if !rec.Kind.Valid() {
		return Record{}, errors.New("raw record kind is invalid")
	}
	if rec.LocalID == "" {
		return Record{}, errors.New("raw record local id is required")
	}
	if len(rec.Payload) == 0 {
		rec.Payload = json.RawMessage("{}")
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}
	return rec, nil
}
