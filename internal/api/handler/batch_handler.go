package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/service"
)

// BatchRequest is the body of POST /api/v1/queue/batch.
type BatchRequest struct {
	Items []domain.EnqueueRequest `json:"items"`
}

// BatchHandler handles multi-item enqueue.
type BatchHandler struct {
	svc    *service.PublishingService
	logger *zap.Logger
}

func NewBatchHandler(svc *service.PublishingService, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{svc: svc, logger: logger}
}

// Enqueue handles POST /api/v1/queue/batch
//
// @Summary  Queue up to 100 publish requests, e.g. one video to every platform
// @Tags     queue
// @Accept   json
// @Produce  json
// @Param    body  body      BatchRequest  true  "Batch payload"
// @Success  201   {object}  map[string]any
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/queue/batch [post]
func (h *BatchHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	items, err := h.svc.AddBatch(r.Context(), req.Items)
	if err != nil {
		h.logger.Warn("batch enqueue failed", zap.Int("queued", len(items)), zap.Error(err))
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"data":  items,
		"total": len(items),
	})
}
