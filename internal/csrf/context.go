package csrf

import (
	"fmt"

	"github.com/2beens/sitegate/pkg"
)

type Scope string

const (
	// ScopeSession tokens belong to an admin session and are single-use.
	ScopeSession Scope = "session"
	// ScopeAnonymous tokens belong to one rendering of a public form and are
	// multi-use within their ttl.
	ScopeAnonymous Scope = "anonymous"

	nonceBytes = 32
)

// Context is what a token is bound to. Only a hash of the session token or
// the form nonce is kept.
type Context struct {
	scope   Scope
	binding string
}

func SessionContext(sessionToken string) Context {
	if sessionToken == "" {
		return Context{scope: ScopeSession}
	}
	return Context{
		scope:   ScopeSession,
		binding: pkg.SHA256Hex(sessionToken),
	}
}

// NewAnonymousContext creates a context for a freshly rendered public form.
// The returned nonce has to reach the browser (cookie) so the submit can
// rebuild the context with AnonymousContext.
func NewAnonymousContext() (Context, string, error) {
	nonce, err := pkg.GenerateRandomString(nonceBytes)
	if err != nil {
		return Context{}, "", fmt.Errorf("generate nonce: %w", err)
	}
	return AnonymousContext(nonce), nonce, nil
}

func AnonymousContext(nonce string) Context {
	if nonce == "" {
		return Context{scope: ScopeAnonymous}
	}
	return Context{
		scope:   ScopeAnonymous,
		binding: pkg.SHA256Hex(nonce),
	}
}

func (c Context) Scope() Scope {
	return c.scope
}

func (c Context) bound() bool {
	return c.binding != ""
}
