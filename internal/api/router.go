package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reelhub/publish-queue/internal/api/handler"
	apimw "github.com/reelhub/publish-queue/internal/api/middleware"
	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/service"
	"github.com/reelhub/publish-queue/internal/worker"
)

// Deps collects what the HTTP surface needs. Ping and Platforms may be nil.
type Deps struct {
	Service   *service.PublishingService
	Scheduler *worker.Scheduler
	Gatherer  prometheus.Gatherer
	Ping      func(ctx context.Context) error
	Platforms func() []domain.Platform
	Logger    *zap.Logger
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(d.Logger))

	platforms := d.Platforms
	if platforms == nil {
		platforms = func() []domain.Platform { return nil }
	}

	qh := handler.NewQueueHandler(d.Service, d.Logger)
	bh := handler.NewBatchHandler(d.Service, d.Logger)
	sh := handler.NewSchedulerHandler(d.Scheduler, d.Logger)
	ph := handler.NewPlatformHandler(d.Service, platforms)
	hh := handler.NewHealthHandler(d.Ping)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Literal segments go before /queue/{id} so they are not read as ids.
		r.Post("/queue/batch", bh.Enqueue)
		r.Get("/queue/status", sh.Status)
		r.Post("/queue/pause", sh.Pause)
		r.Post("/queue/resume", sh.Resume)
		r.Post("/queue/retry-failed", sh.RetryFailed)

		r.Post("/queue", qh.Enqueue)
		r.Get("/queue", qh.List)
		r.Get("/queue/{id}", qh.GetByID)

		r.Get("/platforms", ph.List)
		r.Get("/platforms/{platform}/optimal-time", ph.OptimalTime)
	})

	return r
}
