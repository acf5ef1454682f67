package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
	"github.com/PortNumber53/saas-starter/internal/worker"
)

const defaultJobPageSize = 100

// JobStore defines the interface for job storage operations
type JobStore interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	CancelJob(ctx context.Context, id int64) error
	RetryJob(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.JobStats, error)
	ListPendingJobs(ctx context.Context, limit int) ([]*models.Job, error)
	ListFailedJobs(ctx context.Context, limit int) ([]*models.Job, error)
}

// EventLog looks up recorded webhook events.
type EventLog interface {
	GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
}

// JobRunner is the running worker as seen by the admin routes.
type JobRunner interface {
	GetStats() worker.Stats
	RequeueEvent(ctx context.Context, eventID, reason string) error
}

// JobHandler holds dependencies for job handlers
type JobHandler struct {
	Store  JobStore
	Events EventLog
	Runner JobRunner
	Logger *zap.Logger
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(s JobStore, events EventLog, runner JobRunner, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{Store: s, Events: events, Runner: runner, Logger: logger}
}

// RegisterRoutes registers job handlers with the router. The router must
// already carry the admin token middleware.
func (h *JobHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/admin/jobs/stats", h.GetJobStats())
	router.Get("/api/admin/jobs/pending", h.ListPendingJobs())
	router.Get("/api/admin/jobs/failed", h.ListFailedJobs())
	router.Get("/api/admin/jobs/{id}", h.GetJob())
	router.Post("/api/admin/jobs/{id}/cancel", h.CancelJob())
	router.Post("/api/admin/jobs/{id}/retry", h.RetryJob())
	router.Post("/api/admin/events/{id}/reprocess", h.ReprocessEvent())
}

func jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid job ID")
		return 0, false
	}
	return id, true
}

// GetJob retrieves a job by ID
func (h *JobHandler) GetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		job, err := h.Store.GetByID(r.Context(), id)
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			h.Logger.Error("get job", zap.Int64("job_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to retrieve job")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// CancelJob cancels a pending or failed job
func (h *JobHandler) CancelJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		if err := h.Store.CancelJob(r.Context(), id); err != nil {
			h.writeTransitionError(w, "cancel", id, err)
			return
		}
		h.Logger.Info("job cancelled", zap.Int64("job_id", id))
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "message": "Job cancelled successfully"})
	}
}

// RetryJob puts a failed job back to pending with a fresh attempt budget.
func (h *JobHandler) RetryJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		if err := h.Store.RetryJob(r.Context(), id); err != nil {
			h.writeTransitionError(w, "retry", id, err)
			return
		}
		h.Logger.Info("job requeued", zap.Int64("job_id", id))
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "message": "Job requeued"})
	}
}

func (h *JobHandler) writeTransitionError(w http.ResponseWriter, op string, id int64, err error) {
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, store.ErrJobNotCancellable), errors.Is(err, store.ErrDuplicateJob):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.Logger.Error(op+" job", zap.Int64("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+op+" job")
	}
}

// GetJobStats returns queue counts plus the in-process worker counters.
func (h *JobHandler) GetJobStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.Store.GetStats(r.Context())
		if err != nil {
			h.Logger.Error("get job stats", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to retrieve job statistics")
			return
		}
		resp := map[string]any{"queue": stats}
		if h.Runner != nil {
			resp["worker"] = h.Runner.GetStats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ListPendingJobs returns pending jobs
func (h *JobHandler) ListPendingJobs() http.HandlerFunc {
	return h.listJobs("pending", h.Store.ListPendingJobs)
}

// ListFailedJobs returns jobs that exhausted their attempts.
func (h *JobHandler) ListFailedJobs() http.HandlerFunc {
	return h.listJobs("failed", h.Store.ListFailedJobs)
}

func (h *JobHandler) listJobs(kind string, list func(context.Context, int) ([]*models.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryLimit(r, defaultJobPageSize, 1000)
		jobs, err := list(r.Context(), limit)
		if err != nil {
			h.Logger.Error("list "+kind+" jobs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to retrieve jobs")
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
	}
}

// ReprocessEvent schedules reconciliation of a logged webhook event. Ids
// missing from the event log are rejected with 404.
func (h *JobHandler) ReprocessEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "id")
		if eventID == "" {
			writeError(w, http.StatusBadRequest, "event id is required")
			return
		}
		if h.Runner == nil || h.Events == nil {
			writeError(w, http.StatusServiceUnavailable, "job worker is not running")
			return
		}

		_, err := h.Events.GetWebhookEvent(r.Context(), eventID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		if err != nil {
			h.Logger.Error("look up webhook event", zap.String("event_id", eventID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to look up event")
			return
		}

		if err := h.Runner.RequeueEvent(r.Context(), eventID, "manual reprocess"); err != nil {
			h.Logger.Error("requeue event", zap.String("event_id", eventID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to schedule reprocess")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"event_id": eventID, "status": "queued"})
	}
}
