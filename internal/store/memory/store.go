// Package memory implements the key-value, delayed schedule and failure
// stores in process memory. It backs tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"jobretry/internal/failure"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
	"jobretry/internal/shared"
)

// Compile-time interface checks.
var (
	_ retry.KV       = (*Store)(nil)
	_ schedule.Store = (*Store)(nil)
	_ failure.Store  = (*Store)(nil)
)

// Store is an in-memory store. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	kv       map[string]int64
	entries  []schedule.Entry
	failures []failure.Record
}

// New creates an empty store.
func New() *Store {
	return &Store{kv: make(map[string]int64)}
}

// Ping implements the health check.
func (s *Store) Ping(context.Context) error { return nil }

// SetIfAbsent implements retry.KV.
func (s *Store) SetIfAbsent(_ context.Context, key string, value int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kv[key]; ok {
		return false, nil
	}
	s.kv[key] = value
	return true, nil
}

// Increment implements retry.KV. A missing key starts at zero.
func (s *Store) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key]++
	return s.kv[key], nil
}

// Get implements retry.KV.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return "", false, nil
	}
	return strconv.FormatInt(v, 10), true, nil
}

// Delete implements retry.KV.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

// Add implements schedule.Store.
func (s *Store) Add(_ context.Context, e schedule.Entry) error {
	if e.ID == "" {
		return shared.Wrap(shared.ErrValidation, "schedule entry without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Claim implements schedule.Store.
func (s *Store) Claim(_ context.Context, now time.Time, limit int) ([]schedule.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].RunAt.Before(s.entries[j].RunAt)
	})

	n := 0
	for n < len(s.entries) && n < limit && !s.entries[n].RunAt.After(now) {
		n++
	}
	claimed := append([]schedule.Entry(nil), s.entries[:n]...)
	s.entries = append(s.entries[:0], s.entries[n:]...)
	return claimed, nil
}

// Pending implements schedule.Store.
func (s *Store) Pending(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Report implements failure.Reporter.
func (s *Store) Report(_ context.Context, r failure.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, r)
	return nil
}

// List implements failure.Store.
func (s *Store) List(_ context.Context, limit int) ([]failure.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]failure.Record, 0, min(limit, len(s.failures)))
	for i := len(s.failures) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.failures[i])
	}
	return out, nil
}

// Purge implements failure.Store.
func (s *Store) Purge(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.failures[:0]
	for _, r := range s.failures {
		if !r.FailedAt.Before(before) {
			kept = append(kept, r)
		}
	}
	removed := len(s.failures) - len(kept)
	s.failures = kept
	return removed, nil
}
