package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/classmeet-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	notifyFailures  prometheus.Counter
	sweepDuration   prometheus.Histogram
	sweepSkipped    prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	requestCount         uint64
	requestDurationTotal uint64
	transitionCount      uint64
	notificationCount    uint64
	notificationFailures uint64
	sweepCount           uint64
	sweepSkippedCount    uint64
	cacheHitCount        uint64
	cacheMissCount       uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classmeet_session_transitions_total",
		Help: "Session status transitions by source status, target status and trigger",
	}, []string{"from", "to", "trigger"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classmeet_notifications_emitted_total",
		Help: "Notifications emitted by type",
	}, []string{"type"})

	notifyFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classmeet_notification_failures_total",
		Help: "Notification emissions or archive writes that failed",
	})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "classmeet_sweep_duration_seconds",
		Help:    "Duration of lifecycle sweep passes",
		Buckets: prometheus.DefBuckets,
	})

	sweepSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classmeet_sweep_skipped_sessions_total",
		Help: "Sessions skipped by the sweep because they could not be evaluated or saved",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitions, notifications, notifyFailures,
		sweepDuration, sweepSkipped, cacheHits, cacheMisses, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		transitions:     transitions,
		notifications:   notifications,
		notifyFailures:  notifyFailures,
		sweepDuration:   sweepDuration,
		sweepSkipped:    sweepSkipped,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordTransition counts one status change.
func (m *MetricsService) RecordTransition(from, to models.SessionStatus, trigger string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to), trigger).Inc()
	atomic.AddUint64(&m.transitionCount, 1)
}

// RecordNotification counts an emitted notification.
func (m *MetricsService) RecordNotification(t models.NotificationType) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(t)).Inc()
	atomic.AddUint64(&m.notificationCount, 1)
}

// RecordNotificationFailure counts a notification that could not be emitted or archived.
func (m *MetricsService) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
	atomic.AddUint64(&m.notificationFailures, 1)
}

// ObserveSweep records one sweep pass and how many sessions it skipped.
func (m *MetricsService) ObserveSweep(duration time.Duration, skipped int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	atomic.AddUint64(&m.sweepCount, 1)
	if skipped > 0 {
		m.sweepSkipped.Add(float64(skipped))
		atomic.AddUint64(&m.sweepSkippedCount, uint64(skipped))
	}
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheMisses.Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// Snapshot returns aggregated counters for the JSON summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}
	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		TransitionsTotal:         atomic.LoadUint64(&m.transitionCount),
		NotificationsTotal:       atomic.LoadUint64(&m.notificationCount),
		NotificationFailures:     atomic.LoadUint64(&m.notificationFailures),
		SweepsTotal:              atomic.LoadUint64(&m.sweepCount),
		SweepSkipped:             atomic.LoadUint64(&m.sweepSkippedCount),
		CacheHitRatio:            cacheRatio,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
