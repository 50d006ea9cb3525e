// Package httpapi is the admin HTTP API: enqueue jobs, inspect and reset
// attempt counters, list terminal failures.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobretry/internal/failure"
	"jobretry/internal/job"
	"jobretry/internal/retry"
)

const (
	PathHealth   = "/healthz"
	PathJobs     = "/jobs"
	PathAttempts = "/attempts"
	PathFailures = "/failures"
)

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Enqueuer stores an occurrence for later delivery.
type Enqueuer interface {
	EnqueueAt(ctx context.Context, at time.Time, queue, class string, args []any, trackProgress bool, payloadID string) error
}

// Dispatcher runs an envelope now.
type Dispatcher interface {
	Dispatch(ctx context.Context, env job.Envelope) error
}

// Classes tells whether a job class is registered.
type Classes interface {
	Has(class string) bool
}

// Deps are the collaborators behind the API.
type Deps struct {
	Store      Pinger
	Classes    Classes
	Scheduler  Enqueuer
	Dispatcher Dispatcher
	Attempts   *retry.AttemptStore
	Failures   failure.Store
	Now        func() time.Time
	Logger     *slog.Logger
}

// Server serves the admin API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewRouter builds the gin engine with all routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handler{deps: d, logger: d.Logger.With("component", "httpapi")}

	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog)
	r.GET(PathHealth, h.health)
	r.POST(PathJobs, h.enqueue)
	r.GET(PathAttempts, h.readAttempt)
	r.DELETE(PathAttempts, h.clearAttempt)
	r.GET(PathFailures, h.listFailures)
	return r
}

// NewServer creates a server listening on addr once Run is called.
func NewServer(rootCtx context.Context, addr string, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger.With("component", "httpapi"),
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext: func(net.Listener) context.Context {
				return rootCtx
			},
		},
	}
}

// Run serves until ctx is done, then shuts down with a 5s grace period.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
