package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"jobretry/internal/failure"
	"jobretry/internal/job"
	"jobretry/internal/retry"
	"jobretry/internal/shared"
	"jobretry/internal/worker"
)

type handler struct {
	deps   Deps
	logger *slog.Logger
}

// EnqueueRequest is the body of POST /jobs.
type EnqueueRequest struct {
	Queue         string `json:"queue" binding:"required,max=128"`
	Class         string `json:"class" binding:"required,max=128"`
	Args          []any  `json:"args"`
	PayloadID     string `json:"payload_id" binding:"omitempty,max=128"`
	TrackProgress bool   `json:"track_progress"`
	DelaySeconds  int    `json:"delay_seconds" binding:"min=0,max=31536000"`
}

// EnqueueResponse is returned with 202.
type EnqueueResponse struct {
	PayloadID string     `json:"payload_id"`
	RunAt     *time.Time `json:"run_at,omitempty"`
}

// AttemptQuery identifies one retry counter.
type AttemptQuery struct {
	Queue     string `form:"queue" binding:"required"`
	Class     string `form:"class" binding:"required"`
	PayloadID string `form:"payload_id" binding:"required"`
}

// AttemptResponse is returned by GET /attempts.
type AttemptResponse struct {
	Key     string `json:"key"`
	Attempt int    `json:"attempt"`
	Present bool   `json:"present"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

type failuresQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

func (h *handler) health(c *gin.Context) {
	if err := h.deps.Store.Ping(c.Request.Context()); err != nil {
		h.fail(c, shared.MarkKind(err, shared.KindDependencyFailure))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if !h.deps.Classes.Has(req.Class) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown job class " + strconv.Quote(req.Class)})
		return
	}
	if req.PayloadID == "" {
		req.PayloadID = uuid.NewString()
	}
	ctx := c.Request.Context()

	if req.DelaySeconds > 0 {
		at := h.deps.Now().Add(time.Duration(req.DelaySeconds) * time.Second).UTC()
		if err := h.deps.Scheduler.EnqueueAt(ctx, at, req.Queue, req.Class, req.Args, req.TrackProgress, req.PayloadID); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, EnqueueResponse{PayloadID: req.PayloadID, RunAt: &at})
		return
	}

	env := job.Envelope{
		Queue:         req.Queue,
		Class:         req.Class,
		Args:          req.Args,
		PayloadID:     req.PayloadID,
		TrackProgress: req.TrackProgress,
	}
	if err := h.deps.Dispatcher.Dispatch(ctx, env); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, EnqueueResponse{PayloadID: req.PayloadID})
}

func (h *handler) readAttempt(c *gin.Context) {
	var q AttemptQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query: " + err.Error()})
		return
	}
	key := retry.Key(q.Queue, q.Class, q.PayloadID)
	n, ok, err := h.deps.Attempts.Read(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AttemptResponse{Key: key, Attempt: n, Present: ok})
}

func (h *handler) clearAttempt(c *gin.Context) {
	var q AttemptQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query: " + err.Error()})
		return
	}
	if err := h.deps.Attempts.Clear(c.Request.Context(), retry.Key(q.Queue, q.Class, q.PayloadID)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listFailures(c *gin.Context) {
	q := failuresQuery{}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query: " + err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	recs, err := h.deps.Failures.List(c.Request.Context(), q.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if recs == nil {
		recs = []failure.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func (h *handler) fail(c *gin.Context, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("kind", shared.KindOf(err).String()),
			slog.Any("error", err))
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

func (h *handler) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.logger.Debug("http request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("took", time.Since(start)))
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, worker.ErrPoolClosed), shared.IsCanceled(err):
		return http.StatusServiceUnavailable
	case shared.IsTimeout(err):
		return http.StatusGatewayTimeout
	case shared.IsDependencyFailure(err):
		return http.StatusServiceUnavailable
	case shared.IsNotFound(err):
		return http.StatusNotFound
	case shared.HasKind(err, shared.KindValidation):
		return http.StatusBadRequest
	case shared.HasKind(err, shared.KindConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
