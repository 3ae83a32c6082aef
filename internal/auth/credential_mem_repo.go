package auth

import (
	"context"
	"sync"
	"time"
)

var _ CredentialRepo = (*MemCredentialRepo)(nil)

// MemCredentialRepo keeps credentials in memory, used in tests and local dev.
type MemCredentialRepo struct {
	mutex sync.RWMutex
	creds map[string]AdminCredential
}

func NewMemCredentialRepo() *MemCredentialRepo {
	return &MemCredentialRepo{
		creds: make(map[string]AdminCredential),
	}
}

func (r *MemCredentialRepo) Get(_ context.Context, username string) (*AdminCredential, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	cred, ok := r.creds[username]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &cred, nil
}

func (r *MemCredentialRepo) Add(_ context.Context, cred *AdminCredential) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.creds[cred.Username]; ok {
		return ErrCredentialExists
	}
	r.creds[cred.Username] = *cred
	return nil
}

func (r *MemCredentialRepo) UpdatePasswordHash(_ context.Context, username, passwordHash string, updatedAt time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	cred, ok := r.creds[username]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.PasswordHash = passwordHash
	cred.UpdatedAt = updatedAt
	r.creds[username] = cred
	return nil
}
