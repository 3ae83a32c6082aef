package site

import (
	"context"
	"errors"
	"time"
)

var ErrContactNotFound = errors.New("contact message not found")

type ContactMessage struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Subject   string     `json:"subject"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	Read      bool       `json:"read"`
	RepliedAt *time.Time `json:"replied_at,omitempty"`
}

type ContactRepo interface {
	Add(ctx context.Context, msg *ContactMessage) (*ContactMessage, error)
	Get(ctx context.Context, id int) (*ContactMessage, error)
	MarkRead(ctx context.Context, id int) error
	MarkReplied(ctx context.Context, id int, at time.Time) error
}
