// Package activity keeps the action log and per-platform sync state in an
// embedded badger database.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/open-sspm/workspace-audit/internal/asset"
)

const (
	DefaultRetention  = 30 * 24 * time.Hour
	DefaultMaxEntries = 500
)

var (
	entryPrefix = []byte("activity/")
	syncPrefix  = []byte("sync/")
)

// Entry is one recorded action outcome.
type Entry struct {
	ID        string         `json:"id"`
	At        time.Time      `json:"at"`
	Action    asset.Action   `json:"action"`
	AssetID   string         `json:"assetId"`
	AssetName string         `json:"assetName,omitempty"`
	Platform  asset.Platform `json:"platform,omitempty"`
	Success   bool           `json:"success"`
	ErrorKind string         `json:"errorKind,omitempty"`
	Message   string         `json:"message,omitempty"`
}

type Options struct {
	// Path is the database directory. Empty opens an in-memory database.
	Path       string
	Retention  time.Duration
	MaxEntries int
	Logger     *slog.Logger
	Now        func() time.Time
}

type Store struct {
	db         *badger.DB
	retention  time.Duration
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time
}

func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.Path == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create state directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger.With("component", "badger")})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open activity store: %w", err)
	}

	s := &Store{
		db:         db,
		retention:  opts.Retention,
		maxEntries: opts.MaxEntries,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	if s.maxEntries <= 0 {
		s.maxEntries = DefaultMaxEntries
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// entryKey sorts by time: activity/<unix nanos, zero padded>/<id>.
func entryKey(at time.Time, id string) []byte {
	return fmt.Appendf(append([]byte(nil), entryPrefix...), "%020d/%s", at.UnixNano(), id)
}

// Append records e, filling in ID and At when unset, and trims the log to
// the configured maximum.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	e.At = e.At.UTC()

	raw, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encode activity entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(entryKey(e.At, e.ID), raw).WithTTL(s.retention))
	})
	if err != nil {
		return Entry{}, fmt.Errorf("append activity entry: %w", err)
	}
	if _, err := s.Prune(ctx); err != nil {
		s.logger.Warn("activity prune failed", "err", err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. limit <= 0 means the
// configured maximum.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.maxEntries {
		limit = s.maxEntries
	}

	out := make([]Entry, 0, min(limit, 64))
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(reverseOptions(entryPrefix))
		defer it.Close()
		for it.Seek(seekLast(entryPrefix)); it.ValidForPrefix(entryPrefix) && len(out) < limit; it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				s.logger.Debug("skipping unreadable activity entry", "key", string(it.Item().Key()), "err", err)
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.DropPrefix(entryPrefix); err != nil {
		return fmt.Errorf("clear activity: %w", err)
	}
	return nil
}

// Prune deletes every entry beyond the newest MaxEntries and reports how many
// were removed. Expired entries are dropped by their TTL.
func (s *Store) Prune(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := reverseOptions(entryPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		kept := 0
		for it.Seek(seekLast(entryPrefix)); it.ValidForPrefix(entryPrefix); it.Next() {
			if kept < s.maxEntries {
				kept++
				continue
			}
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("prune activity: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	return len(stale), nil
}

func (s *Store) SetLastSync(ctx context.Context, platform asset.Platform, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := at.UTC().MarshalText()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(syncKey(platform), raw)
	})
}

// LastSync reports when platform last finished a scan without error.
func (s *Store) LastSync(ctx context.Context, platform asset.Platform) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	var at time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(syncKey(platform))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return at.UnmarshalText(val)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last sync for %s: %w", platform, err)
	}
	return at, true, nil
}

func syncKey(platform asset.Platform) []byte {
	return append(append([]byte(nil), syncPrefix...), string(platform)...)
}

func reverseOptions(prefix []byte) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	return opts
}

// seekLast is the first key past every key under prefix, the starting point
// for a reverse scan.
func seekLast(prefix []byte) []byte {
	return append(append([]byte(nil), prefix...), 0xff)
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
