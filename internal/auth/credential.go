package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	// bcrypt ignores everything past 72 bytes, so longer passwords are refused
	MaxPasswordBytes = 72
)

type AdminCredential struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

//go:generate mockgen -source=$GOFILE -destination=credential_mocks_test.go -package=auth_test
type CredentialRepo interface {
	Get(ctx context.Context, username string) (*AdminCredential, error)
	Add(ctx context.Context, cred *AdminCredential) error
	UpdatePasswordHash(ctx context.Context, username, passwordHash string, updatedAt time.Time) error
}

type SessionRevoker interface {
	RevokeAll(ctx context.Context, adminID string) error
}

type CredentialStore struct {
	repo     CredentialRepo
	sessions SessionRevoker
	cost     int
	// compared against when the username is unknown, so both paths cost one bcrypt run
	dummyHash []byte
	now       func() time.Time
}

func NewCredentialStore(repo CredentialRepo, sessions SessionRevoker, cost int) (*CredentialStore, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	dummyHash, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &CredentialStore{
		repo:      repo,
		sessions:  sessions,
		cost:      cost,
		dummyHash: dummyHash,
		now:       time.Now,
	}, nil
}

// Verify reports whether candidate is the password of username.
// It never errors; every failure (unknown user, repo error, bad input) is just false.
func (s *CredentialStore) Verify(ctx context.Context, username, candidate string) bool {
	if username == "" || candidate == "" {
		s.dummyCompare(candidate)
		return false
	}

	cred, err := s.repo.Get(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrCredentialNotFound) {
			log.Errorf("credential store, verify: get credential: %s", err)
		}
		s.dummyCompare(candidate)
		return false
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(candidate)); err != nil {
		log.Traceln("credential store: failed login")
		return false
	}

	// the dummy hash only matches hashes of the configured cost
	if cost, err := bcrypt.Cost([]byte(cred.PasswordHash)); err == nil && cost != s.cost {
		s.rehash(ctx, username, candidate, cost)
	}

	return true
}

// rehash moves a stored hash to the configured cost. Failing here does not fail the login.
func (s *CredentialStore) rehash(ctx context.Context, username, plain string, oldCost int) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cost)
	if err != nil {
		log.Warnf("credential store, rehash [%s]: %s", username, err)
		return
	}
	if err := s.repo.UpdatePasswordHash(ctx, username, string(hash), s.now()); err != nil {
		log.Warnf("credential store, rehash [%s]: %s", username, err)
		return
	}
	log.Infof("credential store: password hash of [%s] moved from cost %d to %d", username, oldCost, s.cost)
}

func (s *CredentialStore) dummyCompare(candidate string) {
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(candidate))
}

// ChangePassword re-hashes with a fresh salt and revokes all sessions of the admin.
func (s *CredentialStore) ChangePassword(ctx context.Context, username, newPlain string) error {
	if err := validatePassword(newPlain); err != nil {
		return err
	}

	if _, err := s.repo.Get(ctx, username); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPlain), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.repo.UpdatePasswordHash(ctx, username, string(hash), s.now()); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	if s.sessions != nil {
		if err := s.sessions.RevokeAll(ctx, username); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	}

	log.Debugf("credential store: password changed for [%s], all sessions revoked", username)
	return nil
}

func (s *CredentialStore) AddAdmin(ctx context.Context, username, plain string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrUsernameEmpty
	}
	if err := validatePassword(plain); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	return s.repo.Add(ctx, &AdminCredential{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func validatePassword(plain string) error {
	if len(plain) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len([]byte(plain)) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}
