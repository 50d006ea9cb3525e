// Package postgres implements the attempt counter, delayed schedule and
// failure log on PostgreSQL through a pgx pool. Several worker processes
// may share one database.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobretry/internal/failure"
	"jobretry/internal/platform/pg"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
	"jobretry/internal/shared"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	_ retry.KV       = (*Store)(nil)
	_ schedule.Store = (*Store)(nil)
	_ failure.Store  = (*Store)(nil)
)

// Store is a PostgreSQL backed store.
type Store struct {
	pool *pgxpool.Pool
	tx   *pg.TxRunner
}

// Migrate applies the embedded schema to the database at dsn.
func Migrate(dsn string) (pg.MigrationInfo, error) {
	info, err := pg.Migrate(pg.MigrateURL(dsn), migrations, "migrations")
	if err != nil {
		return info, shared.Wrap(shared.MarkKind(err, shared.KindMisconfigured), "postgres schema")
	}
	return info, nil
}

// New returns a store over an open pool. The schema must already be
// migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, tx: pg.NewTxRunner(pool)}
}

// Ping checks the pool with a round trip.
func (s *Store) Ping(ctx context.Context) error {
	return fail(pg.HealthCheckPool(ctx, s.pool), "ping")
}

// SetIfAbsent implements retry.KV.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO retry_counters (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return false, fail(err, "set counter")
	}
	return tag.RowsAffected() == 1, nil
}

// Increment implements retry.KV. A missing key starts at zero.
func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO retry_counters (key, value) VALUES ($1, 1)
		 ON CONFLICT (key) DO UPDATE SET value = retry_counters.value + 1
		 RETURNING value`, key).Scan(&v)
	return v, fail(err, "increment counter")
}

// Get implements retry.KV.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT value FROM retry_counters WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fail(err, "get counter")
	}
	return strconv.FormatInt(v, 10), true, nil
}

// Delete implements retry.KV.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM retry_counters WHERE key = $1`, key)
	return fail(err, "delete counter")
}

// Add implements schedule.Store.
func (s *Store) Add(ctx context.Context, e schedule.Entry) error {
	return insertEntry(ctx, s.pool, e)
}

// Claim implements schedule.Store. SKIP LOCKED lets pollers of several
// processes claim disjoint batches. The delete commits only when every
// claimed row decodes, so a bad row leaves its batch in place.
func (s *Store) Claim(ctx context.Context, now time.Time, limit int) ([]schedule.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []schedule.Entry
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		claimed, err = claimDue(ctx, tx, now, limit)
		return err
	})
	if err != nil {
		if shared.KindOf(err) == shared.KindInternal {
			return nil, err
		}
		return nil, fail(err, "claim delayed jobs")
	}
	sort.SliceStable(claimed, func(i, j int) bool { return claimed[i].RunAt.Before(claimed[j].RunAt) })
	return claimed, nil
}

func insertEntry(ctx context.Context, q pg.Querier, e schedule.Entry) error {
	args, err := encodeArgs(e.Envelope.Args)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		`INSERT INTO delayed_jobs (id, run_at, queue, class, args, payload_id, track_progress)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.RunAt, e.Envelope.Queue, e.Envelope.Class, args, e.Envelope.PayloadID, e.Envelope.TrackProgress)
	return fail(err, "add delayed job")
}

func claimDue(ctx context.Context, q pg.Querier, now time.Time, limit int) ([]schedule.Entry, error) {
	rows, err := q.Query(ctx,
		`DELETE FROM delayed_jobs WHERE id IN (
		     SELECT id FROM delayed_jobs WHERE run_at <= $1
		     ORDER BY run_at LIMIT $2 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, run_at, queue, class, args, payload_id, track_progress`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []schedule.Entry
	for rows.Next() {
		var (
			e   schedule.Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.RunAt, &e.Envelope.Queue, &e.Envelope.Class, &raw, &e.Envelope.PayloadID, &e.Envelope.TrackProgress); err != nil {
			return nil, err
		}
		e.RunAt = e.RunAt.UTC()
		if e.Envelope.Args, err = decodeArgs(raw); err != nil {
			return nil, shared.Wrapf(err, "delayed job %s", e.ID)
		}
		claimed = append(claimed, e)
	}
	return claimed, rows.Err()
}

// Pending implements schedule.Store.
func (s *Store) Pending(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delayed_jobs`).Scan(&n)
	return n, fail(err, "count delayed jobs")
}

// Report implements failure.Reporter.
func (s *Store) Report(ctx context.Context, r failure.Record) error {
	args, err := encodeArgs(r.Args)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO failed_jobs (queue, class, payload_id, args, attempt, error, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.Queue, r.Class, r.PayloadID, args, r.Attempt, r.Error, r.FailedAt)
	return fail(err, "insert failure")
}

// List implements failure.Store.
func (s *Store) List(ctx context.Context, limit int) ([]failure.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT queue, class, payload_id, args, attempt, error, failed_at
		 FROM failed_jobs ORDER BY failed_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fail(err, "list failures")
	}
	defer rows.Close()

	var out []failure.Record
	for rows.Next() {
		var (
			r   failure.Record
			raw []byte
		)
		if err := rows.Scan(&r.Queue, &r.Class, &r.PayloadID, &raw, &r.Attempt, &r.Error, &r.FailedAt); err != nil {
			return nil, fail(err, "scan failure")
		}
		r.FailedAt = r.FailedAt.UTC()
		if r.Args, err = decodeArgs(raw); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, fail(rows.Err(), "list failures")
}

// Purge implements failure.Store.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM failed_jobs WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fail(err, "purge failures")
	}
	return int(tag.RowsAffected()), nil
}

func fail(err error, op string) error {
	switch {
	case err == nil || shared.IsCanceled(err):
		return err
	case shared.IsTimeout(err):
		return shared.Wrap(shared.MarkKind(err, shared.KindTimeout), "postgres "+op)
	}
	return shared.Wrap(shared.MarkKind(err, shared.KindDependencyFailure), "postgres "+op)
}

func encodeArgs(args []any) ([]byte, error) {
	if args == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, shared.Wrap(shared.MarkKind(err, shared.KindValidation), "encode args")
	}
	return b, nil
}

func decodeArgs(raw []byte) ([]any, error) {
	var args []any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, shared.Wrap(shared.MarkKind(err, shared.KindInternal), "decode args")
	}
	return args, nil
}
