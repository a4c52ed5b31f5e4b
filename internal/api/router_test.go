package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reelhub/publish-queue/internal/api"
	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/metrics"
	"github.com/reelhub/publish-queue/internal/optimal"
	"github.com/reelhub/publish-queue/internal/publisher"
	"github.com/reelhub/publish-queue/internal/ratelimiter"
	"github.com/reelhub/publish-queue/internal/repository"
	"github.com/reelhub/publish-queue/internal/retry"
	"github.com/reelhub/publish-queue/internal/service"
	"github.com/reelhub/publish-queue/internal/worker"
)

type stubLocator struct{}

func (stubLocator) Locate(_ context.Context, videoID string) (string, error) {
	return "/renders/" + videoID + ".mp4", nil
}

type testServer struct {
	handler http.Handler
	store   *repository.MemoryQueueStore
	sched   *worker.Scheduler
}

func newTestServer(t *testing.T, ping func(context.Context) error) *testServer {
	t.Helper()
	now := func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }

	store := repository.NewMemoryQueueStore().WithClock(now)
	reg := publisher.NewRegistry()
	reg.Register(domain.PlatformYouTube, publisher.NewWebhookPublisher(domain.PlatformYouTube, "http://uploader.invalid", time.Second))
	reg.Register(domain.PlatformTikTok, publisher.NewWebhookPublisher(domain.PlatformTikTok, "http://uploader.invalid", time.Second))

	calc, err := optimal.New(optimal.DefaultRules())
	require.NoError(t, err)

	logger := zap.NewNop()
	svc := service.NewPublishingService(store, reg, calc, domain.DefaultMaxRetries, logger).WithClock(now)
	limiter := ratelimiter.New(ratelimiter.Limits{MaxPerHour: 5, MaxPerDay: 50}, nil).WithClock(now)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	sched := worker.NewScheduler(store, limiter, reg, stubLocator{}, retry.Policy{Base: time.Minute},
		time.Minute, logger, m.SchedulerHooks()).WithClock(now)

	h := api.NewRouter(api.Deps{
		Service:   svc,
		Scheduler: sched,
		Gatherer:  promReg,
		Ping:      ping,
		Platforms: reg.Platforms,
		Logger:    logger,
	})
	return &testServer{handler: h, store: store, sched: sched}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func enqueueBody() map[string]any {
	return map[string]any{
		"video_id": "vid-1",
		"platform": "youtube",
		"metadata": map[string]any{"title": "Launch day"},
	}
}

func TestEnqueueAndGet(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/queue", enqueueBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	var created domain.QueueItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, domain.DefaultPriority, created.Priority)

	rec = s.do(t, http.MethodGet, "/api/v1/queue/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.QueueItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "vid-1", got.VideoID)
}

func TestEnqueue_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queue", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := enqueueBody()
	body["platform"] = "myspace"
	rec = s.do(t, http.MethodPost, "/api/v1/queue", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body = enqueueBody()
	body["metadata"] = map[string]any{"privacy": "public"}
	rec = s.do(t, http.MethodPost, "/api/v1/queue", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var e struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "invalid_metadata", e.Code)
}

func TestGetByID_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/queue/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList(t *testing.T) {
	s := newTestServer(t, nil)
	for range 2 {
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/queue", enqueueBody()).Code)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Status string              `json:"status"`
		Data   []*domain.QueueItem `json:"data"`
		Total  int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, "pending", page.Status)
	assert.Equal(t, 2, page.Total)

	rec = s.do(t, http.MethodGet, "/api/v1/queue?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Data)

	rec = s.do(t, http.MethodGet, "/api/v1/queue?status=queued", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestBatch(t *testing.T) {
	s := newTestServer(t, nil)

	tiktok := map[string]any{
		"video_id": "vid-1",
		"platform": "tiktok",
		"metadata": map[string]any{"caption": "launch"},
	}
	rec := s.do(t, http.MethodPost, "/api/v1/queue/batch", map[string]any{
		"items": []any{enqueueBody(), tiktok},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	counts, err := s.store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.StatusPending])

	rec = s.do(t, http.MethodPost, "/api/v1/queue/batch", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSchedulerControls(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/queue/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.sched.Paused())

	rec = s.do(t, http.MethodGet, "/api/v1/queue/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.QueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Paused)
	assert.Contains(t, st.Counts, domain.StatusCompleted)

	rec = s.do(t, http.MethodPost, "/api/v1/queue/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.sched.Paused())
}

func TestRetryFailed(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	item := &domain.QueueItem{
		ID: "f-1", VideoID: "vid-9", Platform: domain.PlatformYouTube,
		Status: domain.StatusFailed, MaxRetries: 3, RetryCount: 1, Metadata: json.RawMessage(`{}`),
	}
	require.NoError(t, s.store.AddToQueue(ctx, item))

	rec := s.do(t, http.MethodPost, "/api/v1/queue/retry-failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reset":1}`, rec.Body.String())

	got, err := s.store.GetByID(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestPlatforms(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/platforms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["tiktok","youtube"]}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/platforms/youtube/optimal-time", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		OptimalTime time.Time `json:"optimal_time"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OptimalTime.Equal(time.Date(2026, 3, 4, 19, 0, 0, 0, time.UTC)))

	rec = s.do(t, http.MethodGet, "/api/v1/platforms/myspace/optimal-time", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)

	down := newTestServer(t, func(context.Context) error { return errors.New("connection refused") })
	assert.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodGet, "/health", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/queue/pause", nil)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduler_paused 1")
}

func TestCorrelationIDEchoed(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
}
