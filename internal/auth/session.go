package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/2beens/sitegate/internal/telemetry/metrics"
	"github.com/2beens/sitegate/pkg"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	// 32 random bytes, 256 bits of entropy
	sessionTokenBytes = 32
)

// Session is what a successful login hands out. Token is only ever known
// to the caller and the cookie, stores keep its SHA-256.
type Session struct {
	Token      string
	AdminID    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
}

// SessionRecord is the stored form of a session.
type SessionRecord struct {
	TokenHash  string    `json:"token_hash"`
	AdminID    string    `json:"admin_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func (r SessionRecord) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

type SessionStore interface {
	Save(ctx context.Context, rec SessionRecord) error
	// Get returns ErrSessionNotFound when there is no such session.
	Get(ctx context.Context, tokenHash string) (SessionRecord, error)
	Touch(ctx context.Context, tokenHash string, lastSeen time.Time) error
	Delete(ctx context.Context, tokenHash string) error
	DeleteByAdmin(ctx context.Context, adminID string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

type SessionManagerParams struct {
	Store        SessionStore
	TTL          time.Duration
	CookieName   string
	SecureCookie bool
	Metrics      *metrics.Manager
}

type SessionManager struct {
	store        SessionStore
	ttl          time.Duration
	cookieName   string
	secureCookie bool
	metrics      *metrics.Manager
	now          func() time.Time

	// ability to inject random string generator func for tokens (for unit and dev testing)
	RandStringFunc func(s int) (string, error)
}

func NewSessionManager(params SessionManagerParams) *SessionManager {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	cookieName := params.CookieName
	if cookieName == "" {
		cookieName = "admin_session"
	}
	return &SessionManager{
		store:          params.Store,
		ttl:            ttl,
		cookieName:     cookieName,
		secureCookie:   params.SecureCookie,
		metrics:        params.Metrics,
		now:            time.Now,
		RandStringFunc: pkg.GenerateRandomString,
	}
}

func (m *SessionManager) CookieName() string {
	return m.cookieName
}

// Create starts a new session for the admin. Expiry is fixed here and never extended.
func (m *SessionManager) Create(ctx context.Context, adminID string) (*Session, error) {
	if adminID == "" {
		return nil, errors.New("empty admin id")
	}

	token, err := m.RandStringFunc(sessionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	now := m.now()
	rec := SessionRecord{
		TokenHash:  pkg.SHA256Hex(token),
		AdminID:    adminID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		LastSeenAt: now,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	log.Debugf("session manager: new session [%s] for admin [%s]", pkg.Fingerprint(token), adminID)
	return &Session{
		Token:      token,
		AdminID:    adminID,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		LastSeenAt: rec.LastSeenAt,
	}, nil
}

// Resolve returns the admin owning the token, or ErrSessionInvalid.
func (m *SessionManager) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrSessionInvalid
	}

	tokenHash := pkg.SHA256Hex(token)
	rec, err := m.store.Get(ctx, tokenHash)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			log.Errorf("session manager, resolve [%s]: %s", pkg.Fingerprint(token), err)
		}
		return "", ErrSessionInvalid
	}

	if subtle.ConstantTimeCompare([]byte(rec.TokenHash), []byte(tokenHash)) != 1 {
		return "", ErrSessionInvalid
	}

	now := m.now()
	if rec.expired(now) {
		if err := m.store.Delete(ctx, tokenHash); err != nil {
			log.Errorf("session manager, delete expired [%s]: %s", pkg.Fingerprint(token), err)
		}
		return "", ErrSessionInvalid
	}

	if err := m.store.Touch(ctx, tokenHash, now); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// revoked between get and touch
			return "", ErrSessionInvalid
		}
		log.Warnf("session manager, touch [%s]: %s", pkg.Fingerprint(token), err)
	}

	return rec.AdminID, nil
}

// Revoke ends the session. Unknown tokens are not an error.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, pkg.SHA256Hex(token)); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (m *SessionManager) RevokeAll(ctx context.Context, adminID string) error {
	removed, err := m.store.DeleteByAdmin(ctx, adminID)
	if err != nil {
		return fmt.Errorf("delete sessions of %s: %w", adminID, err)
	}
	log.Debugf("session manager: revoked %d sessions of admin [%s]", removed, adminID)
	return nil
}

func (m *SessionManager) Cookie(s *Session) *http.Cookie {
	maxAge := int(s.ExpiresAt.Sub(m.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secureCookie,
		SameSite: http.SameSiteStrictMode,
	}
}

func (m *SessionManager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secureCookie,
		SameSite: http.SameSiteStrictMode,
	}
}

// ScanAndClean removes every expired session.
func (m *SessionManager) ScanAndClean(ctx context.Context) {
	removed, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		log.Errorf("!!! session manager, scan and clean: %s", err)
		return
	}
	if removed > 0 {
		log.Debugf("=> session manager, scan and clean: removed %d expired sessions", removed)
	}

	if m.metrics == nil {
		return
	}
	if count, err := m.store.Count(ctx); err != nil {
		log.Warnf("session manager, count sessions: %s", err)
	} else {
		m.metrics.GaugeActiveSessions.Set(float64(count))
	}
}

// RunSweeper blocks until ctx is done, cleaning expired sessions every interval.
func (m *SessionManager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debugln("session manager: sweeper stopped")
			return
		case <-ticker.C:
			m.ScanAndClean(ctx)
		}
	}
}
