package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/reelhub/publish-queue/internal/api/middleware"
	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/service"
)

// QueueHandler handles enqueue and lookup of single queue items.
type QueueHandler struct {
	svc    *service.PublishingService
	logger *zap.Logger
}

func NewQueueHandler(svc *service.PublishingService, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

// Enqueue handles POST /api/v1/queue
//
// @Summary     Queue a video for publishing
// @Tags        queue
// @Accept      json
// @Produce     json
// @Param       body  body      domain.EnqueueRequest  true  "Publish request"
// @Success     201   {object}  domain.QueueItem
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/queue [post]
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	q, err := h.svc.AddToPublishingQueue(r.Context(), req)
	if err != nil {
		h.logger.Warn("enqueue failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, q)
}

// GetByID handles GET /api/v1/queue/{id}
//
// @Summary  Get a queue item by ID
// @Tags     queue
// @Produce  json
// @Param    id   path      string  true  "Queue item UUID"
// @Success  200  {object}  domain.QueueItem
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/queue/{id} [get]
func (h *QueueHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

// List handles GET /api/v1/queue
//
// @Summary  List queue items in one status, in dispatch order
// @Tags     queue
// @Produce  json
// @Param    status  query     string  false  "pending (default), processing, completed or failed"
// @Success  200     {object}  map[string]any
// @Failure  422     {object}  map[string]string
// @Router   /api/v1/queue [get]
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.StatusPending
	if s := r.URL.Query().Get("status"); s != "" {
		status = domain.Status(s)
	}

	items, err := h.svc.ListByStatus(r.Context(), status)
	if err != nil {
		mapError(w, err)
		return
	}
	if items == nil {
		items = []*domain.QueueItem{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"data":   items,
		"total":  len(items),
	})
}
