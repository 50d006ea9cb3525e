package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobretry/internal/adapter/httpapi"
	"jobretry/internal/failure"
	"jobretry/internal/job"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
	"jobretry/internal/shared"
	"jobretry/internal/store/memory"
	"jobretry/internal/worker"
)

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type noop struct{}

func (noop) Perform(context.Context, []any) error { return nil }

type recordingDispatcher struct {
	mu   sync.Mutex
	envs []job.Envelope
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, env job.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.envs = append(d.envs, env)
	return nil
}

type downStore struct{ *memory.Store }

func (downStore) Ping(context.Context) error { return errors.New("dial tcp: refused") }

type fixture struct {
	router http.Handler
	store  *memory.Store
	disp   *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memory.New()
	classes := job.NewRegistry()
	classes.Register("Mail", func() job.Job { return noop{} })
	disp := &recordingDispatcher{}
	router := httpapi.NewRouter(httpapi.Deps{
		Store:      st,
		Classes:    classes,
		Scheduler:  schedule.New(st),
		Dispatcher: disp,
		Attempts:   retry.NewAttemptStore(st),
		Failures:   st,
		Now:        func() time.Time { return now },
	})
	return &fixture{router: router, store: st, disp: disp}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, httpapi.PathHealth, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	gin.SetMode(gin.TestMode)
	router := httpapi.NewRouter(httpapi.Deps{Store: downStore{memory.New()}})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, httpapi.PathHealth, nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEnqueue_Immediate(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, httpapi.PathJobs, `{"queue":"default","class":"Mail","args":["a",1],"payload_id":"p1"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp httpapi.EnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "p1", resp.PayloadID)
	assert.Nil(t, resp.RunAt)

	require.Len(t, f.disp.envs, 1)
	assert.Equal(t, job.Envelope{Queue: "default", Class: "Mail", Args: []any{"a", float64(1)}, PayloadID: "p1"}, f.disp.envs[0])
}

func TestEnqueue_GeneratesPayloadID(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, httpapi.PathJobs, `{"queue":"default","class":"Mail"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp httpapi.EnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.PayloadID, 36)
	require.Len(t, f.disp.envs, 1)
	assert.Equal(t, resp.PayloadID, f.disp.envs[0].PayloadID)
}

func TestEnqueue_Delayed(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, httpapi.PathJobs, `{"queue":"default","class":"Mail","payload_id":"p1","delay_seconds":30,"track_progress":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, f.disp.envs)

	due, err := f.store.Claim(context.Background(), now.Add(29*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = f.store.Claim(context.Background(), now.Add(30*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "p1", due[0].Envelope.PayloadID)
	assert.True(t, due[0].Envelope.TrackProgress)
}

func TestEnqueue_Rejects(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"queue":`},
		{"missing class", `{"queue":"default"}`},
		{"missing queue", `{"class":"Mail"}`},
		{"negative delay", `{"queue":"default","class":"Mail","delay_seconds":-1}`},
		{"unknown class", `{"queue":"default","class":"Nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, httpapi.PathJobs, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, f.disp.envs)
}

func TestEnqueue_PoolClosed(t *testing.T) {
	f := newFixture(t)
	f.disp.err = worker.ErrPoolClosed
	w := f.do(http.MethodPost, httpapi.PathJobs, `{"queue":"default","class":"Mail"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAttempts_ReadAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const q = "?queue=default&class=Mail&payload_id=p1"

	w := f.do(http.MethodGet, httpapi.PathAttempts+q, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"key":"retry:(Job{default} | Mail | p1)","attempt":0,"present":false}`, w.Body.String())

	attempts := retry.NewAttemptStore(f.store)
	for i := 0; i < 3; i++ {
		_, err := attempts.Record(ctx, retry.Key("default", "Mail", "p1"))
		require.NoError(t, err)
	}
	w = f.do(http.MethodGet, httpapi.PathAttempts+q, "")
	assert.JSONEq(t, `{"key":"retry:(Job{default} | Mail | p1)","attempt":2,"present":true}`, w.Body.String())

	w = f.do(http.MethodDelete, httpapi.PathAttempts+q, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, ok, err := attempts.Read(ctx, retry.Key("default", "Mail", "p1"))
	require.NoError(t, err)
	assert.False(t, ok)

	w = f.do(http.MethodGet, httpapi.PathAttempts+"?queue=default", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	w := f.do(http.MethodGet, httpapi.PathFailures, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.store.Report(ctx, failure.Record{Queue: "default", Class: "Mail", PayloadID: id, FailedAt: now}))
	}
	w = f.do(http.MethodGet, httpapi.PathFailures+"?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []failure.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	w = f.do(http.MethodGet, httpapi.PathFailures+"?limit=0", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodGet, httpapi.PathFailures+"?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrValidation, http.StatusBadRequest},
		{shared.Wrap(shared.ErrNotFound, "x"), http.StatusNotFound},
		{shared.ErrConflict, http.StatusConflict},
		{shared.MarkKind(errors.New("redis down"), shared.KindDependencyFailure), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{shared.Wrap(shared.MarkKind(context.DeadlineExceeded, shared.KindTimeout), "redis get counter"), http.StatusGatewayTimeout},
		{context.Canceled, http.StatusServiceUnavailable},
		{worker.ErrPoolClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpapi.StatusFor(tt.err), tt.err.Error())
	}
}
