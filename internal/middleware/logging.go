package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// LogRequest logs method, path, status and duration. Query strings are left
// out since some carry email addresses.
func LogRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			begin := time.Now()
			resp := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(resp, r)

			log.Debugf(" ====> request [%s] path: [%s] -> %d in %s [UA: %s]",
				r.Method, r.URL.Path, resp.statusCode, time.Since(begin), r.Header.Get("User-Agent"),
			)
		})
	}
}
