package retry

import (
	"context"
	"strconv"

	"jobretry/internal/shared"
)

// KV is the subset of a shared key-value store the attempt counter needs.
// Every method must be atomic on its own.
type KV interface {
	// SetIfAbsent stores value under key unless the key exists and reports
	// whether it stored.
	SetIfAbsent(ctx context.Context, key string, value int64) (bool, error)
	// Increment adds one to the integer under key and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)
	// Get returns the raw value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// AttemptStore is an atomic per-occurrence attempt counter over a KV store.
type AttemptStore struct {
	kv KV
}

// NewAttemptStore creates an attempt store backed by kv.
func NewAttemptStore(kv KV) *AttemptStore {
	return &AttemptStore{kv: kv}
}

// Record makes sure the counter exists, starting at -1, increments it and
// returns the new value: 0 on the first run, 1 after one failure and so on.
func (s *AttemptStore) Record(ctx context.Context, key string) (int, error) {
	if _, err := s.kv.SetIfAbsent(ctx, key, -1); err != nil {
		return 0, shared.Wrapf(err, "init attempt counter %q", key)
	}
	n, err := s.kv.Increment(ctx, key)
	if err != nil {
		return 0, shared.Wrapf(err, "increment attempt counter %q", key)
	}
	return int(n), nil
}

// Read returns the current counter without changing it.
func (s *AttemptStore) Read(ctx context.Context, key string) (int, bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return 0, false, shared.Wrapf(err, "read attempt counter %q", key)
	}
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, shared.Wrapf(shared.MarkKind(err, shared.KindInternal), "parse attempt counter %q", key)
	}
	return n, true, nil
}

// Clear removes the counter. It is idempotent.
func (s *AttemptStore) Clear(ctx context.Context, key string) error {
	return shared.Wrapf(s.kv.Delete(ctx, key), "clear attempt counter %q", key)
}

// Key returns the retry tracking key of an occurrence. It is stable across
// retries sharing the same payload id.
func Key(queue, class, payloadID string) string {
	return "retry:(Job{" + queue + "} | " + class + " | " + payloadID + ")"
}
