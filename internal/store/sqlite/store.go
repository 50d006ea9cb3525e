// Package sqlite implements the attempt counter, delayed schedule and
// failure log on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"jobretry/internal/failure"
	sqlitedb "jobretry/internal/platform/sqlite"
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

// Store is a SQLite backed store.
type Store struct {
	db *sql.DB
	tx *sqlitedb.TxRunner
}

// New applies the schema and returns a store over db.
func New(db *sql.DB) (*Store, error) {
	if err := sqlitedb.Migrate(db, migrations, "migrations"); err != nil {
		return nil, shared.Wrap(shared.MarkKind(err, shared.KindMisconfigured), "sqlite schema")
	}
	return &Store{db: db, tx: sqlitedb.NewTxRunner(db)}, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return fail(s.db.PingContext(ctx), "ping")
}

// SetIfAbsent implements retry.KV.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO retry_counters (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return false, fail(err, "set counter")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fail(err, "set counter")
	}
	return n == 1, nil
}

// Increment implements retry.KV. A missing key starts at zero.
func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO retry_counters (key, value) VALUES (?, 1)
		 ON CONFLICT (key) DO UPDATE SET value = value + 1
		 RETURNING value`, key).Scan(&v)
	return v, fail(err, "increment counter")
}

// Get implements retry.KV.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM retry_counters WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fail(err, "get counter")
	}
	return strconv.FormatInt(v, 10), true, nil
}

// Delete implements retry.KV.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM retry_counters WHERE key = ?`, key)
	return fail(err, "delete counter")
}

// Add implements schedule.Store.
func (s *Store) Add(ctx context.Context, e schedule.Entry) error {
	args, err := encodeArgs(e.Envelope.Args)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO delayed_jobs (id, run_at, queue, class, args, payload_id, track_progress)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunAt.UnixMilli(), e.Envelope.Queue, e.Envelope.Class, args, e.Envelope.PayloadID, e.Envelope.TrackProgress)
	return fail(err, "add delayed job")
}

// Claim implements schedule.Store. Selection and deletion share one
// transaction, so concurrent pollers never get the same row.
func (s *Store) Claim(ctx context.Context, now time.Time, limit int) ([]schedule.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []schedule.Entry
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		claimed = claimed[:0]
		rows, err := tx.QueryContext(ctx,
			`DELETE FROM delayed_jobs WHERE id IN (
			     SELECT id FROM delayed_jobs WHERE run_at <= ? ORDER BY run_at, id LIMIT ?
			 )
			 RETURNING id, run_at, queue, class, args, payload_id, track_progress`,
			now.UnixMilli(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e      schedule.Entry
				runAt  int64
				rawArg string
			)
			if err := rows.Scan(&e.ID, &runAt, &e.Envelope.Queue, &e.Envelope.Class, &rawArg, &e.Envelope.PayloadID, &e.Envelope.TrackProgress); err != nil {
				return err
			}
			e.RunAt = time.UnixMilli(runAt).UTC()
			if e.Envelope.Args, err = decodeArgs(rawArg); err != nil {
				return err
			}
			claimed = append(claimed, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fail(err, "claim delayed jobs")
	}
	sortByRunAt(claimed)
	return claimed, nil
}

// Pending implements schedule.Store.
func (s *Store) Pending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delayed_jobs`).Scan(&n)
	return n, fail(err, "count delayed jobs")
}

// Report implements failure.Reporter.
func (s *Store) Report(ctx context.Context, r failure.Record) error {
	args, err := encodeArgs(r.Args)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO failed_jobs (queue, class, payload_id, args, attempt, error, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Queue, r.Class, r.PayloadID, args, r.Attempt, r.Error, r.FailedAt.UnixMilli())
	return fail(err, "insert failure")
}

// List implements failure.Store.
func (s *Store) List(ctx context.Context, limit int) ([]failure.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT queue, class, payload_id, args, attempt, error, failed_at
		 FROM failed_jobs ORDER BY failed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fail(err, "list failures")
	}
	defer rows.Close()

	var out []failure.Record
	for rows.Next() {
		var (
			r        failure.Record
			rawArgs  string
			failedAt int64
		)
		if err := rows.Scan(&r.Queue, &r.Class, &r.PayloadID, &rawArgs, &r.Attempt, &r.Error, &failedAt); err != nil {
			return nil, fail(err, "scan failure")
		}
		r.FailedAt = time.UnixMilli(failedAt).UTC()
		if r.Args, err = decodeArgs(rawArgs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, fail(rows.Err(), "list failures")
}

// Purge implements failure.Store.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failed_jobs WHERE failed_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fail(err, "purge failures")
	}
	n, err := res.RowsAffected()
	return int(n), fail(err, "purge failures")
}

func fail(err error, op string) error {
	switch {
	case err == nil || shared.IsCanceled(err):
		return err
	case shared.IsTimeout(err):
		return shared.Wrap(shared.MarkKind(err, shared.KindTimeout), "sqlite "+op)
	}
	return shared.Wrap(shared.MarkKind(err, shared.KindDependencyFailure), "sqlite "+op)
}

func encodeArgs(args []any) (string, error) {
	if args == nil {
		return "[]", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", shared.Wrap(shared.MarkKind(err, shared.KindValidation), "encode args")
	}
	return string(b), nil
}

func decodeArgs(raw string) ([]any, error) {
	var args []any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, shared.Wrap(shared.MarkKind(err, shared.KindInternal), "decode args")
	}
	return args, nil
}

// RETURNING does not guarantee row order.
func sortByRunAt(entries []schedule.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RunAt.Before(entries[j].RunAt)
	})
}
