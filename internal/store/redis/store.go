// Package redis implements the attempt counter, delayed schedule and
// failure log on Redis. Counters map to SETNX/INCR/GET/DEL; delayed entries
// and failures use a Sorted Set index next to a Hash of JSON documents.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"jobretry/internal/failure"
	"jobretry/internal/job"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
	"jobretry/internal/shared"
)

var (
	_ retry.KV       = (*Store)(nil)
	_ schedule.Store = (*Store)(nil)
	_ failure.Store  = (*Store)(nil)
)

// claimScript pops due entries atomically, so concurrent pollers never
// receive the same entry.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then
  return {}
end
redis.call('ZREM', KEYS[1], unpack(ids))
local docs = redis.call('HMGET', KEYS[2], unpack(ids))
redis.call('HDEL', KEYS[2], unpack(ids))
local out = {}
for i, doc in ipairs(docs) do
  if doc then
    table.insert(out, doc)
  end
end
return out
`)

// Store is a Redis backed store. The caller owns the client lifecycle.
type Store struct {
	client goredis.Cmdable
}

// New creates a store over client.
func New(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return fail(s.client.Ping(ctx).Err(), "ping")
}

// SetIfAbsent implements retry.KV.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, 0).Result()
	return ok, fail(err, "setnx")
}

// Increment implements retry.KV.
func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	return n, fail(err, "incr")
}

// Get implements retry.KV.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fail(err, "get")
	}
	return v, true, nil
}

// Delete implements retry.KV.
func (s *Store) Delete(ctx context.Context, key string) error {
	return fail(s.client.Del(ctx, key).Err(), "del")
}

type entryDoc struct {
	ID       string       `json:"id"`
	RunAt    time.Time    `json:"run_at"`
	Envelope job.Envelope `json:"envelope"`
}

// Add implements schedule.Store.
func (s *Store) Add(ctx context.Context, e schedule.Entry) error {
	if e.ID == "" {
		return shared.Wrap(shared.ErrValidation, "schedule entry without id")
	}
	doc, err := json.Marshal(entryDoc{ID: e.ID, RunAt: e.RunAt.UTC(), Envelope: e.Envelope})
	if err != nil {
		return shared.Wrap(shared.MarkKind(err, shared.KindValidation), "encode entry")
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, delayedDataKey, e.ID, doc)
	pipe.ZAdd(ctx, delayedIndexKey, goredis.Z{Score: float64(e.RunAt.UnixMilli()), Member: e.ID})
	_, err = pipe.Exec(ctx)
	return fail(err, "add delayed entry")
}

// Claim implements schedule.Store.
func (s *Store) Claim(ctx context.Context, now time.Time, limit int) ([]schedule.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	docs, err := claimScript.Run(ctx, s.client,
		[]string{delayedIndexKey, delayedDataKey},
		strconv.FormatInt(now.UnixMilli(), 10), limit).StringSlice()
	if err != nil {
		return nil, fail(err, "claim delayed entries")
	}

	out, corrupt := decodeEntries(docs)
	if len(corrupt) > 0 {
		// The script already removed them from the schedule; park them
		// instead of dropping the rest of the batch.
		vals := make([]any, len(corrupt))
		for i, raw := range corrupt {
			vals[i] = raw
		}
		if err := s.client.RPush(ctx, delayedCorruptKey, vals...).Err(); err != nil {
			return out, fail(err, "park corrupt entries")
		}
	}
	return out, nil
}

// decodeEntries decodes claimed documents. Documents that fail to decode
// are returned as is in corrupt.
func decodeEntries(docs []string) (out []schedule.Entry, corrupt []string) {
	out = make([]schedule.Entry, 0, len(docs))
	for _, raw := range docs {
		var d entryDoc
		if err := json.Unmarshal([]byte(raw), &d); err != nil || d.ID == "" {
			corrupt = append(corrupt, raw)
			continue
		}
		out = append(out, schedule.Entry{ID: d.ID, RunAt: d.RunAt, Envelope: d.Envelope})
	}
	return out, corrupt
}

// Corrupt returns the parked documents that could not be decoded.
func (s *Store) Corrupt(ctx context.Context) ([]string, error) {
	docs, err := s.client.LRange(ctx, delayedCorruptKey, 0, -1).Result()
	return docs, fail(err, "list corrupt entries")
}

// Pending implements schedule.Store.
func (s *Store) Pending(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, delayedIndexKey).Result()
	return int(n), fail(err, "count delayed entries")
}

// Report implements failure.Reporter.
func (s *Store) Report(ctx context.Context, r failure.Record) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return shared.Wrap(shared.MarkKind(err, shared.KindValidation), "encode failure")
	}
	id := uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, failuresDataKey, id, doc)
	pipe.ZAdd(ctx, failuresIndexKey, goredis.Z{Score: float64(r.FailedAt.UnixMilli()), Member: id})
	_, err = pipe.Exec(ctx)
	return fail(err, "report failure")
}

// List implements failure.Store.
func (s *Store) List(ctx context.Context, limit int) ([]failure.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.client.ZRevRange(ctx, failuresIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fail(err, "list failures")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := s.client.HMGet(ctx, failuresDataKey, ids...).Result()
	if err != nil {
		return nil, fail(err, "list failures")
	}

	out := make([]failure.Record, 0, len(docs))
	for _, d := range docs {
		raw, ok := d.(string)
		if !ok {
			continue
		}
		var r failure.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return out, shared.Wrap(shared.MarkKind(err, shared.KindInternal), "decode failure")
		}
		out = append(out, r)
	}
	return out, nil
}

// Purge implements failure.Store.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, failuresIndexKey, &goredis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fail(err, "purge failures")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, failuresIndexKey, members...)
	pipe.HDel(ctx, failuresDataKey, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fail(err, "purge failures")
	}
	return len(ids), nil
}

func fail(err error, op string) error {
	switch {
	case err == nil || shared.IsCanceled(err):
		return err
	case shared.IsTimeout(err):
		return shared.Wrap(shared.MarkKind(err, shared.KindTimeout), "redis "+op)
	}
	return shared.Wrap(shared.MarkKind(err, shared.KindDependencyFailure), "redis "+op)
}
