package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/2beens/sitegate/internal/middleware"
	"github.com/2beens/sitegate/internal/ratelimit"
	"github.com/2beens/sitegate/internal/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDecision struct {
	decision ratelimit.Decision
	gotIP    string
}

func (f *fixedDecision) Check(identifier string, _ ratelimit.Action) ratelimit.Decision {
	f.gotIP = identifier
	return f.decision
}

func TestRateLimit_ContactSubmissions(t *testing.T) {
	m := metrics.NewTestManager()
	limiter := ratelimit.NewLimiter(ratelimit.DefaultRules())
	ips, err := ratelimit.NewClientIPResolver("remote", nil)
	require.NoError(t, err)

	calls := 0
	handler := middleware.RateLimit(limiter, ips, ratelimit.ActionContactSubmit, m)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
		}),
	)

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/contact", nil)
		req.RemoteAddr = remoteAddr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send("203.0.113.7:4000").Code)
	}

	rr := send("203.0.113.7:4001")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retryAfter)
	assert.LessOrEqual(t, retryAfter, 60)
	assert.Equal(t, 5, calls)

	// another client is not affected
	assert.Equal(t, http.StatusOK, send("198.51.100.1:4000").Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterRateLimitedRequests.WithLabelValues("contact_submit")))
}

func TestRateLimit_RetryAfterRoundsUp(t *testing.T) {
	testCases := []struct {
		retryAfter time.Duration
		expected   string
	}{
		{retryAfter: 35 * time.Second, expected: "35"},
		{retryAfter: 34*time.Second + time.Millisecond, expected: "35"},
		{retryAfter: time.Millisecond, expected: "1"},
		{retryAfter: 0, expected: "1"},
	}

	ips, err := ratelimit.NewClientIPResolver("remote", nil)
	require.NoError(t, err)

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			limiter := &fixedDecision{decision: ratelimit.Decision{RetryAfter: tc.retryAfter}}
			handler := middleware.RateLimit(limiter, ips, ratelimit.ActionLoginAttempt, nil)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					t.Fatal("handler must not be called")
				}),
			)

			req := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
			req.RemoteAddr = "192.0.2.10:1234"
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusTooManyRequests, rr.Code)
			assert.Equal(t, tc.expected, rr.Header().Get("Retry-After"))
			assert.Equal(t, "192.0.2.10", limiter.gotIP)
		})
	}
}
