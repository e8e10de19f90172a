package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// durationCount reads the request-duration sample count for a route from the
// exposition output.
func durationCount(t *testing.T, method, route string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	expr := regexp.MustCompile(fmt.Sprintf(`http_request_duration_seconds_count\{method="%s",route="%s"\} (\d+)`,
		method, regexp.QuoteMeta(route)))
	m := expr.FindSubmatch(body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(string(m[1]))
	require.NoError(t, err)
	return n
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/v1/similarities/{candidate_id}/resolve", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	jobsBefore := durationCount(t, http.MethodGet, "/v1/jobs/{job_id}")
	resolveBefore := durationCount(t, http.MethodPost, "/v1/similarities/{candidate_id}/resolve")
	notFound := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))
	ok := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "200"))

	for _, id := range []string{"job-1", "job-2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/similarities/c1/resolve", nil))

	require.Equal(t, jobsBefore+2, durationCount(t, http.MethodGet, "/v1/jobs/{job_id}"))
	require.Equal(t, resolveBefore+1, durationCount(t, http.MethodPost, "/v1/similarities/{candidate_id}/resolve"))
	require.Equal(t, notFound+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")))
	require.Equal(t, ok+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "200")))
}

func TestMiddlewareOutsideRouterUsesUnknownRoute(t *testing.T) {
	Init()

	before := durationCount(t, http.MethodDelete, "unknown")
	h := Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/anything", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, before+1, durationCount(t, http.MethodDelete, "unknown"))
}
