package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/service"
)

// PlatformHandler serves per-platform lookups.
type PlatformHandler struct {
	svc       *service.PublishingService
	platforms func() []domain.Platform
}

func NewPlatformHandler(svc *service.PublishingService, platforms func() []domain.Platform) *PlatformHandler {
	return &PlatformHandler{svc: svc, platforms: platforms}
}

// List handles GET /api/v1/platforms
//
// @Summary  Platforms with a registered publisher
// @Tags     platforms
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/platforms [get]
func (h *PlatformHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"data": h.platforms()})
}

// OptimalTime handles GET /api/v1/platforms/{platform}/optimal-time
//
// @Summary  Next recommended publish instant for a platform
// @Tags     platforms
// @Produce  json
// @Param    platform  path      string  true  "Platform name"
// @Success  200       {object}  map[string]any
// @Failure  422       {object}  map[string]string
// @Router   /api/v1/platforms/{platform}/optimal-time [get]
func (h *PlatformHandler) OptimalTime(w http.ResponseWriter, r *http.Request) {
	p := domain.Platform(chi.URLParam(r, "platform"))
	at, err := h.svc.NextOptimalTime(p)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"platform": p, "optimal_time": at})
}
