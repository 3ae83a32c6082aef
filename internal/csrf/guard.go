package csrf

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2beens/sitegate/pkg"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSessionTTL   = time.Hour
	DefaultAnonymousTTL = time.Hour
	// freecache refuses anything smaller than 512KB anyway
	DefaultAnonymousCacheSize = 4 * 1024 * 1024

	idBytes     = 16
	secretBytes = 32
)

var (
	ErrMismatch       = errors.New("csrf token mismatch")
	ErrUnboundContext = errors.New("csrf context not bound")
)

type issuedToken struct {
	secret    string
	binding   string
	expiresAt time.Time
}

type GuardParams struct {
	SessionTTL         time.Duration
	AnonymousTTL       time.Duration
	AnonymousCacheSize int
}

// Guard issues and validates anti-forgery tokens of the form <id>.<secret>.
type Guard struct {
	sessionTTL   time.Duration
	anonymousTTL time.Duration

	mutex         sync.Mutex
	sessionTokens map[string]issuedToken

	anonymousTokens *freecache.Cache

	now       func() time.Time
	randBytes func(n int) ([]byte, error)
}

func NewGuard(params GuardParams) *Guard {
	if params.SessionTTL <= 0 {
		params.SessionTTL = DefaultSessionTTL
	}
	if params.AnonymousTTL <= 0 {
		params.AnonymousTTL = DefaultAnonymousTTL
	}
	if params.AnonymousCacheSize <= 0 {
		params.AnonymousCacheSize = DefaultAnonymousCacheSize
	}
	return &Guard{
		sessionTTL:      params.SessionTTL,
		anonymousTTL:    params.AnonymousTTL,
		sessionTokens:   make(map[string]issuedToken),
		anonymousTokens: freecache.NewCache(params.AnonymousCacheSize),
		now:             time.Now,
		randBytes:       pkg.GenerateRandomBytes,
	}
}

func (g *Guard) newIDAndSecret() (string, string, error) {
	id, err := g.randBytes(idBytes)
	if err != nil {
		return "", "", err
	}
	secret, err := g.randBytes(secretBytes)
	if err != nil {
		return "", "", err
	}
	return base64.RawURLEncoding.EncodeToString(id), base64.RawURLEncoding.EncodeToString(secret), nil
}

// Issue mints a new token bound to c.
func (g *Guard) Issue(c Context) (string, error) {
	if !c.bound() {
		return "", ErrUnboundContext
	}

	id, secret, err := g.newIDAndSecret()
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}

	switch c.scope {
	case ScopeSession:
		g.mutex.Lock()
		g.sessionTokens[id] = issuedToken{
			secret:    secret,
			binding:   c.binding,
			expiresAt: g.now().Add(g.sessionTTL),
		}
		g.mutex.Unlock()
	case ScopeAnonymous:
		expiresAt := g.now().Add(g.anonymousTTL)
		expireSeconds := int(math.Ceil(g.anonymousTTL.Seconds()))
		if err := g.anonymousTokens.Set([]byte(id), encodeAnonymous(c.binding, secret, expiresAt), expireSeconds); err != nil {
			return "", fmt.Errorf("store anonymous csrf token: %w", err)
		}
	default:
		return "", fmt.Errorf("unknown csrf scope: %s", c.scope)
	}

	return id + "." + secret, nil
}

// Validate fails closed: anything other than a known, unexpired token minted
// for the same context is false. Session tokens are consumed before true is returned.
func (g *Guard) Validate(c Context, submitted string) bool {
	if !c.bound() || submitted == "" {
		return false
	}

	id, secret, ok := strings.Cut(submitted, ".")
	if !ok || id == "" || secret == "" {
		return false
	}

	switch c.scope {
	case ScopeSession:
		return g.validateSession(c, id, secret)
	case ScopeAnonymous:
		return g.validateAnonymous(c, id, secret)
	default:
		return false
	}
}

func (g *Guard) validateSession(c Context, id, secret string) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	issued, ok := g.sessionTokens[id]
	if !ok {
		return false
	}
	if g.now().After(issued.expiresAt) {
		delete(g.sessionTokens, id)
		return false
	}
	if !secretsMatch(issued.secret, secret) || !secretsMatch(issued.binding, c.binding) {
		return false
	}

	delete(g.sessionTokens, id)
	return true
}

func (g *Guard) validateAnonymous(c Context, id, secret string) bool {
	value, err := g.anonymousTokens.Get([]byte(id))
	if err != nil {
		if !errors.Is(err, freecache.ErrNotFound) {
			log.Errorf("csrf guard, get anonymous token: %s", err)
		}
		return false
	}

	binding, storedSecret, expiresAt, err := decodeAnonymous(value)
	if err != nil {
		log.Errorf("csrf guard, decode anonymous token: %s", err)
		return false
	}
	if g.now().After(expiresAt) {
		g.anonymousTokens.Del([]byte(id))
		return false
	}

	return secretsMatch(storedSecret, secret) && secretsMatch(binding, c.binding)
}

func secretsMatch(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// Sweep drops expired session tokens; anonymous ones expire inside the cache.
func (g *Guard) Sweep() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	removed := 0
	for id, issued := range g.sessionTokens {
		if now.After(issued.expiresAt) {
			delete(g.sessionTokens, id)
			removed++
		}
	}
	return removed
}

func (g *Guard) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debugln("csrf guard: sweeper stopped")
			return
		case <-ticker.C:
			if removed := g.Sweep(); removed > 0 {
				log.Debugf("csrf guard: swept %d expired tokens", removed)
			}
		}
	}
}

// anonymous cache value: <expiry unix nano>|<binding>|<secret>
func encodeAnonymous(binding, secret string, expiresAt time.Time) []byte {
	return []byte(strconv.FormatInt(expiresAt.UnixNano(), 10) + "|" + binding + "|" + secret)
}

func decodeAnonymous(value []byte) (string, string, time.Time, error) {
	parts := strings.SplitN(string(value), "|", 3)
	if len(parts) != 3 {
		return "", "", time.Time{}, errors.New("malformed value")
	}
	expiresAtNano, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("parse expiry: %w", err)
	}
	return parts[1], parts[2], time.Unix(0, expiresAtNano), nil
}
