package site

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrAlreadySubscribed  = errors.New("already subscribed")
	ErrInvalidEmail       = errors.New("invalid email address")
)

type Subscriber struct {
	ID             int        `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name,omitempty"`
	Active         bool       `json:"active"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}

type SubscriberRepo interface {
	// Subscribe adds the address or reactivates it after an unsubscribe.
	Subscribe(ctx context.Context, email, name string, at time.Time) error
	Unsubscribe(ctx context.Context, email string, at time.Time) error
	ListActive(ctx context.Context) ([]Subscriber, error)
}

// NormalizeEmail lowercases a bare address; display names are rejected.
func NormalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || addr.Name != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return strings.ToLower(addr.Address), nil
}
