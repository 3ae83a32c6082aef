package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/sitegate/internal/ratelimit"
	"github.com/2beens/sitegate/internal/telemetry/metrics"

	log "github.com/sirupsen/logrus"
)

type RequestRateLimiter interface {
	Check(identifier string, action ratelimit.Action) ratelimit.Decision
}

type ClientIPResolver interface {
	ClientIP(r *http.Request) string
}

// RateLimit counts every request against the client IP and action. Rejected
// requests get 429 with Retry-After in whole seconds.
func RateLimit(
	limiter RequestRateLimiter,
	ips ClientIPResolver,
	action ratelimit.Action,
	metricsManager *metrics.Manager,
) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Check(ips.ClientIP(r), action)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := retryAfterSeconds(decision.RetryAfter)
			if metricsManager != nil {
				metricsManager.CounterRateLimitedRequests.WithLabelValues(string(action)).Inc()
			}
			log.Tracef("[rate limit] %s rejected => %s, retry after %ds", action, r.URL.Path, retryAfter)

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(
				w,
				fmt.Sprintf("too many requests, retry after %d seconds", retryAfter),
				http.StatusTooManyRequests,
			)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
