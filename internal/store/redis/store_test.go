package redis_test

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobretry/internal/failure"
	"jobretry/internal/job"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
	"jobretry/internal/shared"
	"jobretry/internal/store/redis"
)

// newStore connects to REDIS_TEST_ADDR, flushes the selected database and
// skips when the variable is unset.
func newStore(t *testing.T) *redis.Store {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.FlushDB(context.Background()).Err())
	return redis.New(client)
}

func TestStore_AttemptCounter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Ping(ctx))

	attempts := retry.NewAttemptStore(s)
	key := retry.Key("default", "Mail", uuid.NewString())

	const workers = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := attempts.Record(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(got)
	require.Len(t, got, workers)
	for i, n := range got {
		assert.Equal(t, i, n)
	}

	require.NoError(t, attempts.Clear(ctx, key))
	_, ok, err := attempts.Read(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Schedule(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	sched := schedule.New(s)
	require.NoError(t, sched.EnqueueAt(ctx, now.Add(-time.Second), "q", "Mail", []any{"x"}, true, "p1"))
	require.NoError(t, sched.EnqueueAt(ctx, now.Add(time.Hour), "q", "Mail", nil, false, "p2"))

	got, err := s.Claim(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].Envelope.PayloadID)
	assert.True(t, got[0].RunAt.Equal(now.Add(-time.Second)))

	again, err := s.Claim(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.Add(ctx, schedule.Entry{})
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestStore_Failures(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	t0 := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"1", "2", "3"} {
		require.NoError(t, s.Report(ctx, failure.Record{PayloadID: id, Attempt: i, FailedAt: t0.Add(time.Duration(i) * time.Hour)}))
	}

	got, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].PayloadID)

	removed, err := s.Purge(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestStore_UnreachableIsDependencyFailure(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	s := redis.New(client)

	_, err := s.Increment(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, shared.IsDependencyFailure(err))
}

func TestStore_ExpiredDeadlineIsTimeout(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	s := redis.New(client)

	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	_, err := s.Increment(ctx, "k")
	require.Error(t, err)
	assert.Equal(t, shared.KindTimeout, shared.KindOf(err))
}

func TestStore_ClaimParksCorruptEntries(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.FlushDB(ctx).Err())
	st := redis.New(client)

	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "c"} {
		require.NoError(t, st.Add(ctx, schedule.Entry{ID: id, RunAt: at, Envelope: job.Envelope{Class: "Mail", PayloadID: id}}))
	}
	require.NoError(t, client.HSet(ctx, "jobretry:delayed:data", "b", "not json").Err())
	require.NoError(t, client.ZAdd(ctx, "jobretry:delayed", goredis.Z{Score: float64(at.UnixMilli()), Member: "b"}).Err())

	got, err := st.Claim(ctx, at, 10)
	require.NoError(t, err)
	ids := []string{}
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "c"}, ids)

	corrupt, err := st.Corrupt(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"not json"}, corrupt)
}
