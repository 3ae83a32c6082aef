package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/2beens/sitegate/internal/telemetry/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMetrics(t *testing.T) {
	m, reg := metrics.NewTestManagerAndRegistry()

	r := mux.NewRouter()
	r.Use(RequestMetrics(m))
	r.HandleFunc("/admin/email/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	r.HandleFunc("/admin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/admin/email/jobs/1", "/admin/email/jobs/2", "/admin"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CounterRequests.WithLabelValues("GET", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterRequests.WithLabelValues("GET", "200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GaugeRequests))
	// one series per route template, ids do not leak into labels
	assert.Equal(t, 2, testutil.CollectAndCount(m.HistogramRequestDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	routes := map[string]uint64{}
	for _, metric := range findFamily(families, "sitegate_test_server_request_duration_seconds").GetMetric() {
		routes[labelValue(metric, "route")] = metric.GetHistogram().GetSampleCount()
	}
	assert.Equal(t, map[string]uint64{"/admin/email/jobs/{id}": 2, "/admin": 1}, routes)
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, l := range metric.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestLimitAndDrainBody(t *testing.T) {
	var readErr error
	handler := LimitAndDrainBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader("way more than eight bytes")))

	var maxBytesErr *http.MaxBytesError
	require.ErrorAs(t, readErr, &maxBytesErr)
	assert.Equal(t, int64(8), maxBytesErr.Limit)

	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader("short")))
	assert.NoError(t, readErr)
}
