package rawstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/open-sspm/workspace-audit/internal/asset"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps raw records in the raw_records table (see db/migrations).
type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = "source_kind, local_id, display_name, owner, payload, seq, fetched_at, updated_at"

func (s *PostgresStore) List(ctx context.Context, kind asset.SourceKind, q Query) ([]Record, error) {
	sql, args := buildListQuery(kind, q)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list raw records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list raw records: %w", err)
	}
	return out, nil
}

func buildListQuery(kind asset.SourceKind, q Query) (string, []any) {
	var b strings.Builder
	args := []any{string(kind)}
	b.WriteString("SELECT " + recordColumns + " FROM raw_records WHERE source_kind = $1")
	if search := strings.TrimSpace(q.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		fmt.Fprintf(&b, " AND (display_name ILIKE $%d OR owner ILIKE $%d)", len(args), len(args))
	}
	b.WriteString(" ORDER BY seq ASC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *PostgresStore) Get(ctx context.Context, kind asset.SourceKind, localID string) (Record, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM raw_records WHERE source_kind = $1 AND local_id = $2",
		string(kind), strings.TrimSpace(localID))
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

const upsertRecordSQL = `INSERT INTO raw_records (source_kind, local_id, display_name, owner, payload, fetched_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (source_kind, local_id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	owner = EXCLUDED.owner,
	payload = EXCLUDED.payload,
	fetched_at = EXCLUDED.fetched_at,
	updated_at = now()
RETURNING (xmax = 0) AS created`

func (s *PostgresStore) Put(ctx context.Context, rec Record) (bool, error) {
	rec, err := normalizeRecord(rec)
	if err != nil {
		return false, err
	}
	var created bool
	err = s.db.QueryRow(ctx, upsertRecordSQL,
		string(rec.Kind), rec.LocalID, rec.DisplayName, rec.Owner, []byte(rec.Payload), rec.FetchedAt,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert raw record %s: %w", asset.NewID(rec.Kind, rec.LocalID), err)
	}
	return created, nil
}

func (s *PostgresStore) Delete(ctx context.Context, kind asset.SourceKind, localID string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM raw_records WHERE source_kind = $1 AND local_id = $2", string(kind), strings.TrimSpace(localID))
	if err != nil {
		return fmt.Errorf("delete raw record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, kind asset.SourceKind) (int, error) {
	var n int64
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM raw_records WHERE source_kind = $1", string(kind)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count raw records: %w", err)
	}
	return int(n), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec     Record
		kind    string
		payload []byte
	)
	if err := row.Scan(&kind, &rec.LocalID, &rec.DisplayName, &rec.Owner, &payload, &rec.Seq, &rec.FetchedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Kind = asset.SourceKind(kind)
	rec.Payload = payload
	return rec, nil
}
