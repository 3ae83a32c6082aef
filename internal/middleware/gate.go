package middleware

import (
	"net/http"

	"github.com/2beens/sitegate/internal/csrf"
	"github.com/2beens/sitegate/internal/ratelimit"
	"github.com/2beens/sitegate/internal/telemetry/metrics"
)

// Gate bundles what the route groups need to put the protections in front
// of a handler in the right order.
type Gate struct {
	Sessions   SessionResolver
	CookieName string
	LoginPath  string

	Limiter RequestRateLimiter
	IPs     ClientIPResolver

	Csrf            CsrfValidator
	CsrfFieldName   string
	CsrfHeaderName  string
	NonceCookieName string

	AllowedOrigins []string
	Metrics        *metrics.Manager
}

// Chain wraps h so that the first middleware is the outermost one.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func (g Gate) csrfCheck(scope csrf.Scope) func(http.Handler) http.Handler {
	return RequireCSRF(CsrfParams{
		Guard:           g.Csrf,
		Scope:           scope,
		FieldName:       g.CsrfFieldName,
		HeaderName:      g.CsrfHeaderName,
		NonceCookieName: g.NonceCookieName,
		Metrics:         g.Metrics,
	})
}

// Public protects a public form endpoint: origin check, optional rate limit
// (empty action skips it), anonymous csrf token.
func (g Gate) Public(action ratelimit.Action, h http.HandlerFunc) http.Handler {
	mws := []func(http.Handler) http.Handler{SameOrigin(g.AllowedOrigins)}
	if action != "" {
		mws = append(mws, RateLimit(g.Limiter, g.IPs, action, g.Metrics))
	}
	mws = append(mws, g.csrfCheck(csrf.ScopeAnonymous))
	return Chain(h, mws...)
}

// Admin protects an admin endpoint: origin check, session, session bound csrf token.
func (g Gate) Admin(h http.HandlerFunc) http.Handler {
	return Chain(h,
		SameOrigin(g.AllowedOrigins),
		RequireSession(g.Sessions, g.CookieName, g.LoginPath),
		g.csrfCheck(csrf.ScopeSession),
	)
}
