package site

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ ContactRepo    = (*PsqlContactRepo)(nil)
	_ SubscriberRepo = (*PsqlSubscriberRepo)(nil)
)

type PsqlContactRepo struct {
	db *pgxpool.Pool
}

func NewPsqlContactRepo(db *pgxpool.Pool) *PsqlContactRepo {
	return &PsqlContactRepo{
		db: db,
	}
}

func (r *PsqlContactRepo) Add(ctx context.Context, msg *ContactMessage) (*ContactMessage, error) {
	if msg.Email == "" || msg.Message == "" || msg.CreatedAt.IsZero() {
		return nil, errors.New("contact email, message or timestamp empty")
	}

	var id int
	if err := r.db.QueryRow(
		ctx,
		`INSERT INTO contact_message (name, email, subject, message, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id;`,
		msg.Name, msg.Email, msg.Subject, msg.Message, msg.CreatedAt,
	).Scan(&id); err != nil {
		return nil, err
	}

	msg.ID = id
	return msg, nil
}

func (r *PsqlContactRepo) Get(ctx context.Context, id int) (*ContactMessage, error) {
	var msg ContactMessage
	err := r.db.QueryRow(
		ctx,
		`
			SELECT
				id, name, email, subject, message, created_at, is_read, replied_at
			FROM contact_message
			WHERE id = $1;`,
		id,
	).Scan(&msg.ID, &msg.Name, &msg.Email, &msg.Subject, &msg.Message, &msg.CreatedAt, &msg.Read, &msg.RepliedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return &msg, nil
}

func (r *PsqlContactRepo) MarkRead(ctx context.Context, id int) error {
	tag, err := r.db.Exec(ctx, `UPDATE contact_message SET is_read = TRUE WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

func (r *PsqlContactRepo) MarkReplied(ctx context.Context, id int, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE contact_message SET replied_at = $1 WHERE id = $2;`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

type PsqlSubscriberRepo struct {
	db *pgxpool.Pool
}

func NewPsqlSubscriberRepo(db *pgxpool.Pool) *PsqlSubscriberRepo {
	return &PsqlSubscriberRepo{
		db: db,
	}
}

func (r *PsqlSubscriberRepo) Subscribe(ctx context.Context, email, name string, at time.Time) error {
	// inserts, or reactivates an unsubscribed address; an active one is left alone
	tag, err := r.db.Exec(
		ctx,
		`
			INSERT INTO newsletter_subscriber (email, name, is_active, subscribed_at)
			VALUES ($1, $2, TRUE, $3)
			ON CONFLICT (email) DO UPDATE
				SET is_active = TRUE, name = EXCLUDED.name, subscribed_at = EXCLUDED.subscribed_at, unsubscribed_at = NULL
				WHERE newsletter_subscriber.is_active = FALSE;`,
		email, name, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadySubscribed
	}
	return nil
}

func (r *PsqlSubscriberRepo) Unsubscribe(ctx context.Context, email string, at time.Time) error {
	tag, err := r.db.Exec(
		ctx,
		`UPDATE newsletter_subscriber SET is_active = FALSE, unsubscribed_at = $1 WHERE email = $2 AND is_active = TRUE;`,
		at, email,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}
	return nil
}

func (r *PsqlSubscriberRepo) ListActive(ctx context.Context) ([]Subscriber, error) {
	rows, err := r.db.Query(
		ctx,
		`
			SELECT
				id, email, name, is_active, subscribed_at, unsubscribed_at
			FROM newsletter_subscriber
			WHERE is_active = TRUE
			ORDER BY subscribed_at;`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subscribers []Subscriber
	for rows.Next() {
		var s Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.Name, &s.Active, &s.SubscribedAt, &s.UnsubscribedAt); err != nil {
			return nil, err
		}
		subscribers = append(subscribers, s)
	}

	return subscribers, rows.Err()
}
