package auth

import "errors"

var (
	// ErrSessionInvalid covers missing, expired and revoked sessions alike.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrSessionNotFound is only returned by session stores, never by the manager.
	ErrSessionNotFound = errors.New("session not found")

	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
	ErrPasswordTooShort   = errors.New("password too short")
	ErrPasswordTooLong    = errors.New("password too long")
	ErrUsernameEmpty      = errors.New("username empty")
)
