package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/2beens/sitegate/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

//go:generate mockgen -source=$GOFILE -destination=auth_mocks_test.go -package=middleware_test
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// RequireSession lets the request through only with a valid admin session cookie.
// Browsers navigating (GET/HEAD) are sent to the login page, anything else gets 403.
func RequireSession(sessions SessionResolver, cookieName, loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.session")
			defer span.End()

			token := ""
			if cookie, err := r.Cookie(cookieName); err == nil {
				token = cookie.Value
			}

			adminID, err := sessions.Resolve(ctx, token)
			if err != nil {
				log.Tracef("[session middleware] unauthorized => %s %s", r.Method, r.URL.Path)
				span.SetStatus(codes.Error, "session-invalid")
				if r.Method == http.MethodGet || r.Method == http.MethodHead {
					target := loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
					http.Redirect(w, r, target, http.StatusSeeOther)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), adminID, token)))
		})
	}
}
