package middleware

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SameOrigin answers preflights for the allowed origins and refuses state
// changing requests that come with any other Origin. Requests without an
// Origin header (curl, same-origin navigations of older browsers) pass.
func SameOrigin(allowedOrigins []string) func(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(strings.ToLower(origin), "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			originAllowed := origin != "" && allowed[strings.ToLower(origin)]

			if originAllowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token")
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				if origin != "" && !originAllowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if origin != "" && !originAllowed && !isSafeMethod(r.Method) {
				log.Warnf("same origin: origin [%s] not allowed for %s [%s]", origin, r.Method, r.URL.Path)
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
