package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveHelpersDoNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		ObserveScholarDetail("ok")
		ObserveDedupOutcome("indexed")
		ObserveRateLimitDelay("scholar.google.com", time.Second)
	})
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, jobsTotal)
	require.NotNil(t, queueMessagesTotal)
	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, httpRequestDurationSeconds)
}

func TestObserveJobAndQueueOutcomes(t *testing.T) {
	Init()

	before := testutil.ToFloat64(jobsTotal.WithLabelValues("scholar", "completed"))
	ObserveJob("scholar", "completed", 2*time.Second)
	require.Equal(t, before+1, testutil.ToFloat64(jobsTotal.WithLabelValues("scholar", "completed")))

	beforeDL := testutil.ToFloat64(queueMessagesTotal.WithLabelValues("crawl-jobs", OutcomeDeadLetter))
	ObserveQueueMessage("crawl-jobs", OutcomeDeadLetter)
	require.Equal(t, beforeDL+1, testutil.ToFloat64(queueMessagesTotal.WithLabelValues("crawl-jobs", OutcomeDeadLetter)))
}

func TestObserveSchedulerAndBibliographic(t *testing.T) {
	Init()

	enqueued := testutil.ToFloat64(schedulerEnqueuedTotal)
	failed := testutil.ToFloat64(schedulerErrorsTotal)
	ObserveSchedulerRun(3, 1)
	require.Equal(t, enqueued+3, testutil.ToFloat64(schedulerEnqueuedTotal))
	require.Equal(t, failed+1, testutil.ToFloat64(schedulerErrorsTotal))

	throttled := testutil.ToFloat64(bibliographicRequestsTotal.WithLabelValues("search", "429"))
	ObserveBibliographicRequest("search", 429)
	require.Equal(t, throttled+1, testutil.ToFloat64(bibliographicRequestsTotal.WithLabelValues("search", "429")))

	truncated := testutil.ToFloat64(windowTruncationsTotal)
	ObserveWindowTruncation()
	require.Equal(t, truncated+1, testutil.ToFloat64(windowTruncationsTotal))
}
