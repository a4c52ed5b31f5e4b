package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/reelhub/publish-queue/internal/worker"
)

// SchedulerHandler exposes the operator controls of the scheduler.
type SchedulerHandler struct {
	sched  *worker.Scheduler
	logger *zap.Logger
}

func NewSchedulerHandler(sched *worker.Scheduler, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{sched: sched, logger: logger}
}

// Status handles GET /api/v1/queue/status
//
// @Summary  Item counts per status, rate-limit windows and paused flag
// @Tags     scheduler
// @Produce  json
// @Success  200  {object}  domain.QueueStatus
// @Router   /api/v1/queue/status [get]
func (h *SchedulerHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.sched.QueueStatus(r.Context())
	if err != nil {
		h.logger.Error("queue status failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Pause handles POST /api/v1/queue/pause
//
// @Summary  Stop dispatching; an in-flight publish finishes normally
// @Tags     scheduler
// @Produce  json
// @Success  200  {object}  map[string]bool
// @Router   /api/v1/queue/pause [post]
func (h *SchedulerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.sched.Pause()
	respondJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Resume handles POST /api/v1/queue/resume
//
// @Summary  Restart dispatching
// @Tags     scheduler
// @Produce  json
// @Success  200  {object}  map[string]bool
// @Router   /api/v1/queue/resume [post]
func (h *SchedulerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.sched.Resume()
	respondJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// RetryFailed handles POST /api/v1/queue/retry-failed
//
// @Summary  Move failed items with retries left back to pending
// @Tags     scheduler
// @Produce  json
// @Success  200  {object}  map[string]int
// @Router   /api/v1/queue/retry-failed [post]
func (h *SchedulerHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.sched.RetryFailedItems(r.Context())
	if err != nil {
		h.logger.Error("retry failed items", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"reset": n})
}
