package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	PublicationsSucceeded *prometheus.CounterVec
	PublicationsFailed    *prometheus.CounterVec
	PublicationsRetried   *prometheus.CounterVec
	PublicationsDeferred  *prometheus.CounterVec
	PublishLatency        *prometheus.HistogramVec
	CyclesSkipped         prometheus.Counter
	QueueDepth            *prometheus.GaugeVec
	RateLimitUsage        *prometheus.GaugeVec
	SchedulerPaused       prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublicationsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publications_succeeded_total",
			Help: "Total number of videos successfully published.",
		}, []string{"platform"}),

		PublicationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publications_failed_total",
			Help: "Total number of queue items that ended in failed.",
		}, []string{"platform", "reason"}),

		PublicationsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publications_retried_total",
			Help: "Total number of failed attempts rescheduled with backoff.",
		}, []string{"platform"}),

		PublicationsDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publications_deferred_total",
			Help: "Total number of cycles that left the head item pending because of a rate limit.",
		}, []string{"platform"}),

		PublishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "publish_duration_seconds",
			Help:    "Time from artifact lookup to publisher acknowledgement.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"platform"}),

		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_cycles_skipped_total",
			Help: "Ticks dropped because the previous cycle was still in flight.",
		}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_items",
			Help: "Current number of queue items per status.",
		}, []string{"status"}),

		RateLimitUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limit_used",
			Help: "Dispatches counted in the current window.",
		}, []string{"platform", "window"}),

		SchedulerPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_paused",
			Help: "1 while the scheduler is paused.",
		}),
	}

	reg.MustRegister(
		m.PublicationsSucceeded,
		m.PublicationsFailed,
		m.PublicationsRetried,
		m.PublicationsDeferred,
		m.PublishLatency,
		m.CyclesSkipped,
		m.QueueDepth,
		m.RateLimitUsage,
		m.SchedulerPaused,
	)

	return m
}

// SchedulerHooks returns the metric callbacks expected by worker.NewScheduler.
// Centralises the prometheus observation calls so the scheduler stays
// metrics-agnostic.
func (m *Metrics) SchedulerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnPublished: func(p domain.Platform, latency time.Duration) {
			m.PublicationsSucceeded.WithLabelValues(string(p)).Inc()
			m.PublishLatency.WithLabelValues(string(p)).Observe(latency.Seconds())
		},
		OnRetry: func(p domain.Platform) {
			m.PublicationsRetried.WithLabelValues(string(p)).Inc()
		},
		OnFailed: func(p domain.Platform, permanent bool) {
			reason := "retries_exhausted"
			if permanent {
				reason = "permanent"
			}
			m.PublicationsFailed.WithLabelValues(string(p), reason).Inc()
		},
		OnDeferred: func(p domain.Platform) {
			m.PublicationsDeferred.WithLabelValues(string(p)).Inc()
		},
		OnCycleSkipped: func() {
			m.CyclesSkipped.Inc()
		},
		OnPaused: func(paused bool) {
			if paused {
				m.SchedulerPaused.Set(1)
			} else {
				m.SchedulerPaused.Set(0)
			}
		},
	}
}

// ObserveStatus copies a queue status snapshot into the gauges. Used as the
// worker.DepthReporter callback.
func (m *Metrics) ObserveStatus(st *domain.QueueStatus) {
	for _, s := range domain.Statuses {
		m.QueueDepth.WithLabelValues(string(s)).Set(float64(st.Counts[s]))
	}
	for p, w := range st.RateLimits {
		m.RateLimitUsage.WithLabelValues(string(p), "hour").Set(float64(w.CountHour))
		m.RateLimitUsage.WithLabelValues(string(p), "day").Set(float64(w.CountDay))
	}
	if st.Paused {
		m.SchedulerPaused.Set(1)
	} else {
		m.SchedulerPaused.Set(0)
	}
}
