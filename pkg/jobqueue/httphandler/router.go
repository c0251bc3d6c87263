// Package httphandler exposes a jobqueue.Manager over HTTP with JSON bodies.
//
//	POST /jobs                 enqueue a job
//	GET  /jobs                 current state document
//	GET  /jobs/lookup          is an action queued or running
//	GET  /queues/{name}        is a queue free
//	POST /run                  run every queue
//	POST /queues/{name}/run    run one queue
//	GET  /health/live          liveness probe
//	GET  /health/ready         readiness probe
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// Queue is the part of *jobqueue.Manager the handlers use.
type Queue interface {
	Enqueue(ctx context.Context, job *jobqueue.Job) (*jobqueue.Job, error)
	EnqueueUnique(ctx context.Context, job *jobqueue.Job) (*jobqueue.Job, bool, error)
	Snapshot(ctx context.Context) (*jobqueue.State, error)
	IsQueued(ctx context.Context, job *jobqueue.Job) (bool, error)
	IsRunning(ctx context.Context, job *jobqueue.Job) (bool, error)
	IsQueueFree(ctx context.Context, queueName string) (bool, error)
	RunAll(ctx context.Context) (jobqueue.RunReport, error)
	Run(ctx context.Context, queueName string) (jobqueue.RunReport, error)
}

var errBadRequest = errors.New("bad request")

// Option configures the router.
type Option func(*handler)

// WithHealthchecks adds readiness checks, typically the store backend's Healthcheck.
func WithHealthchecks(checks ...func(context.Context) error) Option {
	return func(h *handler) {
		h.checks = append(h.checks, checks...)
	}
}

type handler struct {
	queue  Queue
	logger *slog.Logger
	checks []func(context.Context) error
}

// NewRouter returns a router serving q. A nil logger discards output.
func NewRouter(q Queue, log *slog.Logger, opts ...Option) chi.Router {
	if log == nil {
		log = logger.Discard()
	}
	h := &handler{queue: q, logger: log.With(logger.Component("httphandler"))}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.enqueue)
		r.Get("/", h.snapshot)
		r.Get("/lookup", h.lookup)
	})
	r.Route("/queues/{name}", func(r chi.Router) {
		r.Get("/", h.queueStatus)
		r.Post("/run", h.runQueue)
	})
	r.Post("/run", h.runAll)

	r.Get("/health/live", h.health(false))
	r.Get("/health/ready", h.health(true))

	return r
}

type enqueueRequest struct {
	QueueName  string          `json:"queue_name"`
	Action     string          `json:"action"`
	ActionType json.RawMessage `json:"action_type"`
	QID        int64           `json:"qid,omitempty"`
	Unique     bool            `json:"unique,omitempty"`
}

func (h *handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid JSON body: %w", errBadRequest, err))
		return
	}

	kind, err := parseKind(req.ActionType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := jobqueue.NewJob(kind, req.Action, req.QueueName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	job.WithID(req.QID)

	if req.Unique {
		stored, added, err := h.queue.EnqueueUnique(r.Context(), job)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if !added {
			writeJSON(w, http.StatusOK, Response{Meta: map[string]any{"skipped": true}})
			return
		}
		writeJSON(w, http.StatusCreated, Response{Data: stored})
		return
	}

	stored, err := h.queue.Enqueue(r.Context(), job)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Data: stored})
}

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	st, err := h.queue.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: st})
}

func (h *handler) lookup(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind, err := jobqueue.ParseActionKind(query.Get("action_type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	action := query.Get("action")
	if strings.TrimSpace(action) == "" {
		h.writeError(w, r, fmt.Errorf("%w: action is required", errBadRequest))
		return
	}
	probe := &jobqueue.Job{Kind: kind, Target: action}

	queued, err := h.queue.IsQueued(r.Context(), probe)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	running, err := h.queue.IsRunning(r.Context(), probe)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Data: map[string]bool{
		"queued":  queued,
		"running": running,
	}})
}

func (h *handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	free, err := h.queue.IsQueueFree(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: map[string]any{
		"queue_name": name,
		"free":       free,
	}})
}

func (h *handler) runAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.queue.RunAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: report})
}

func (h *handler) runQueue(w http.ResponseWriter, r *http.Request) {
	report, err := h.queue.Run(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: report})
}

// health serves liveness when ready is false and runs every check otherwise.
func (h *handler) health(ready bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ALIVE"))
			return
		}
		for _, check := range h.checks {
			if err := check(r.Context()); err != nil {
				h.logger.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("NOT_READY"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	}
}

// parseKind accepts the wire number (1) or the name ("procedure").
func parseKind(raw json.RawMessage) (jobqueue.ActionKind, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`""`)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return jobqueue.ParseActionKind(s)
	}
	return jobqueue.ParseActionKind(string(raw))
}
