package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/metrics"
)

func TestSchedulerHooks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := m.SchedulerHooks()

	h.OnPublished(domain.PlatformYouTube, 3*time.Second)
	h.OnPublished(domain.PlatformYouTube, time.Second)
	h.OnRetry(domain.PlatformTikTok)
	h.OnFailed(domain.PlatformTikTok, true)
	h.OnFailed(domain.PlatformTikTok, false)
	h.OnDeferred(domain.PlatformYouTube)
	h.OnCycleSkipped()
	h.OnPaused(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PublicationsSucceeded.WithLabelValues("youtube")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublicationsRetried.WithLabelValues("tiktok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublicationsFailed.WithLabelValues("tiktok", "permanent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublicationsFailed.WithLabelValues("tiktok", "retries_exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublicationsDeferred.WithLabelValues("youtube")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerPaused))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PublishLatency))
}

func TestObserveStatus(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveStatus(&domain.QueueStatus{
		Counts: map[domain.Status]int{domain.StatusPending: 7, domain.StatusFailed: 2},
		RateLimits: map[domain.Platform]domain.RateWindow{
			domain.PlatformYouTube: {CountHour: 3, CountDay: 12},
		},
	})

	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("processing")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RateLimitUsage.WithLabelValues("youtube", "hour")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.RateLimitUsage.WithLabelValues("youtube", "day")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SchedulerPaused))
}
