package middleware

import "context"

type ctxKey int

const (
	adminIDKey ctxKey = iota
	sessionTokenKey
)

func withSession(ctx context.Context, adminID, token string) context.Context {
	ctx = context.WithValue(ctx, adminIDKey, adminID)
	return context.WithValue(ctx, sessionTokenKey, token)
}

// AdminIDFromContext returns the admin resolved by RequireSession.
func AdminIDFromContext(ctx context.Context) (string, bool) {
	adminID, ok := ctx.Value(adminIDKey).(string)
	return adminID, ok && adminID != ""
}

func SessionTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionTokenKey).(string)
	return token, ok && token != ""
}
