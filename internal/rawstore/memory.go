package rawstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
)

type recordKey struct {
	kind    asset.SourceKind
	localID string
}

// MemoryStore is a process-local Store used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
	nextSeq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record)}
}

func (s *MemoryStore) List(ctx context.Context, kind asset.SourceKind, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for key, rec := range s.records {
		if key.kind != kind {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(rec.DisplayName), needle) &&
			!strings.Contains(strings.ToLower(rec.Owner), needle) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Record) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Record{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, kind asset.SourceKind, localID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{kind: kind, localID: strings.TrimSpace(localID)}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Put(ctx context.Context, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rec, err := normalizeRecord(rec)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{kind: rec.Kind, localID: rec.LocalID}
	rec.UpdatedAt = time.Now().UTC()
	if existing, ok := s.records[key]; ok {
		rec.Seq = existing.Seq
		s.records[key] = cloneRecord(rec)
		return false, nil
	}
	s.nextSeq++
	rec.Seq = s.nextSeq
	s.records[key] = cloneRecord(rec)
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, kind asset.SourceKind, localID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{kind: kind, localID: strings.TrimSpace(localID)}
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, kind asset.SourceKind) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.records {
		if key.kind == kind {
			n++
		}
	}
	return n, nil
}

func cloneRecord(rec Record) Record {
	out := rec
	out.Payload = append([]byte(nil), rec.Payload...)
	return out
}
