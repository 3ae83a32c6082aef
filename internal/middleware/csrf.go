package middleware

import (
	"net/http"

	"github.com/2beens/sitegate/internal/csrf"
	"github.com/2beens/sitegate/internal/telemetry/metrics"

	log "github.com/sirupsen/logrus"
)

type CsrfValidator interface {
	Validate(c csrf.Context, submitted string) bool
}

type CsrfParams struct {
	Guard CsrfValidator
	Scope csrf.Scope
	// form field and header the token may come in, header wins
	FieldName  string
	HeaderName string
	// cookie carrying the anonymous form nonce, unused for session scope
	NonceCookieName string
	Metrics         *metrics.Manager
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// RequireCSRF rejects state changing requests without a valid token with 403.
// Session scope must run after RequireSession.
func RequireCSRF(params CsrfParams) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			submitted := r.Header.Get(params.HeaderName)
			if submitted == "" {
				submitted = r.PostFormValue(params.FieldName)
			}

			var c csrf.Context
			switch params.Scope {
			case csrf.ScopeSession:
				token, _ := SessionTokenFromContext(r.Context())
				c = csrf.SessionContext(token)
			default:
				nonce := ""
				if cookie, err := r.Cookie(params.NonceCookieName); err == nil {
					nonce = cookie.Value
				}
				c = csrf.AnonymousContext(nonce)
			}

			if !params.Guard.Validate(c, submitted) {
				if params.Metrics != nil {
					params.Metrics.CounterCsrfRejections.WithLabelValues(string(c.Scope())).Inc()
				}
				log.Tracef("[csrf] %s token rejected => %s %s", c.Scope(), r.Method, r.URL.Path)
				http.Error(w, "invalid csrf token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
