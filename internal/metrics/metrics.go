// Package metrics exposes Prometheus collectors for the ingest service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Queue message outcomes.
const (
	OutcomeAck        = "ack"
	OutcomeNack       = "nack"
	OutcomeDeadLetter = "dead_letter"
	OutcomeDropped    = "dropped"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeJobs                 prometheus.Gauge
	queueMessagesTotal         *prometheus.CounterVec
	brokerReconnectsTotal      *prometheus.CounterVec
	schedulerEnqueuedTotal     prometheus.Counter
	schedulerErrorsTotal       prometheus.Counter
	schedulerSkippedRunsTotal  prometheus.Counter
	scholarPagesTotal          *prometheus.CounterVec
	scholarDetailsTotal        *prometheus.CounterVec
	bibliographicRequestsTotal *prometheus.CounterVec
	windowTruncationsTotal     prometheus.Counter
	dedupOutcomesTotal         *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Total number of crawl jobs finished, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_job_duration_seconds",
				Help:    "Histogram of crawl job attempt durations, labeled by type.",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
			},
			[]string{"type"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_jobs",
				Help: "Number of crawl jobs currently being processed.",
			},
		)

		queueMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_queue_messages_total",
				Help: "Total number of queue deliveries, labeled by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		)

		brokerReconnectsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_broker_reconnects_total",
				Help: "Total number of broker reconnect attempts, labeled by queue.",
			},
			[]string{"queue"},
		)

		schedulerEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_scheduler_enqueued_total",
				Help: "Total number of jobs enqueued by the daily scheduler.",
			},
		)

		schedulerErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_scheduler_errors_total",
				Help: "Total number of per-author enqueue failures in the scheduler.",
			},
		)

		schedulerSkippedRunsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_scheduler_skipped_runs_total",
				Help: "Total number of scheduler ticks skipped because a run was in progress.",
			},
		)

		scholarPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_scholar_pages_total",
				Help: "Total number of profile pagination steps, labeled by status.",
			},
			[]string{"status"},
		)

		scholarDetailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_scholar_details_total",
				Help: "Total number of article detail fetches, labeled by status.",
			},
			[]string{"status"},
		)

		bibliographicRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_bibliographic_requests_total",
				Help: "Total number of search API requests, labeled by kind and status code.",
			},
			[]string{"kind", "code"},
		)

		windowTruncationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_bibliographic_window_truncations_total",
				Help: "Total number of query groups whose result count exceeded the API window.",
			},
		)

		dedupOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_dedup_outcomes_total",
				Help: "Total number of duplicate detection decisions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// The Observe helpers are no-ops until Init runs, so library packages can be
// exercised in tests without a registry.

// ObserveJob records a finished job attempt.
func ObserveJob(jobType, status string, duration time.Duration) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(jobType, status).Inc()
	if duration > 0 {
		jobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
	}
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	if activeJobs != nil {
		activeJobs.Inc()
	}
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	if activeJobs != nil {
		activeJobs.Dec()
	}
}

// ObserveQueueMessage records how a delivery was settled.
func ObserveQueueMessage(queue, outcome string) {
	if queueMessagesTotal != nil {
		queueMessagesTotal.WithLabelValues(queue, outcome).Inc()
	}
}

// ObserveBrokerReconnect counts a reconnect attempt.
func ObserveBrokerReconnect(queue string) {
	if brokerReconnectsTotal != nil {
		brokerReconnectsTotal.WithLabelValues(queue).Inc()
	}
}

// ObserveSchedulerRun records the result of one scheduler pass.
func ObserveSchedulerRun(enqueued, failed int) {
	if schedulerEnqueuedTotal == nil {
		return
	}
	schedulerEnqueuedTotal.Add(float64(enqueued))
	schedulerErrorsTotal.Add(float64(failed))
}

// ObserveSchedulerSkipped counts a tick skipped while a run was in progress.
func ObserveSchedulerSkipped() {
	if schedulerSkippedRunsTotal != nil {
		schedulerSkippedRunsTotal.Inc()
	}
}

// ObserveScholarPage counts one pagination step.
func ObserveScholarPage(status string) {
	if scholarPagesTotal != nil {
		scholarPagesTotal.WithLabelValues(status).Inc()
	}
}

// ObserveScholarDetail counts one detail page fetch.
func ObserveScholarDetail(status string) {
	if scholarDetailsTotal != nil {
		scholarDetailsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveBibliographicRequest counts one search API request.
func ObserveBibliographicRequest(kind string, code int) {
	if bibliographicRequestsTotal != nil {
		bibliographicRequestsTotal.WithLabelValues(kind, strconv.Itoa(code)).Inc()
	}
}

// ObserveWindowTruncation counts a query group cut off at the API window.
func ObserveWindowTruncation() {
	if windowTruncationsTotal != nil {
		windowTruncationsTotal.Inc()
	}
}

// ObserveDedupOutcome counts a duplicate detection decision.
func ObserveDedupOutcome(outcome string) {
	if dedupOutcomesTotal != nil {
		dedupOutcomesTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaysSeconds != nil {
		rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
