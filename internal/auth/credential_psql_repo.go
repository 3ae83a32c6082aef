package auth

import (
	"context"
	"errors"
	"time"

	"github.com/2beens/sitegate/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ CredentialRepo = (*PsqlCredentialRepo)(nil)

type PsqlCredentialRepo struct {
	db *pgxpool.Pool
}

func NewPsqlCredentialRepo(db *pgxpool.Pool) *PsqlCredentialRepo {
	return &PsqlCredentialRepo{
		db: db,
	}
}

func (r *PsqlCredentialRepo) Get(ctx context.Context, username string) (*AdminCredential, error) {
	var cred AdminCredential
	err := r.db.QueryRow(
		ctx,
		`SELECT username, password_hash, created_at, updated_at FROM admin_credential WHERE username = $1;`,
		username,
	).Scan(&cred.Username, &cred.PasswordHash, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &cred, nil
}

func (r *PsqlCredentialRepo) Add(ctx context.Context, cred *AdminCredential) error {
	_, err := r.db.Exec(
		ctx,
		`INSERT INTO admin_credential (username, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4);`,
		cred.Username, cred.PasswordHash, cred.CreatedAt, cred.UpdatedAt,
	)
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return ErrCredentialExists
		}
		return err
	}
	return nil
}

func (r *PsqlCredentialRepo) UpdatePasswordHash(ctx context.Context, username, passwordHash string, updatedAt time.Time) error {
	tag, err := r.db.Exec(
		ctx,
		`UPDATE admin_credential SET password_hash = $1, updated_at = $2 WHERE username = $3;`,
		passwordHash, updatedAt, username,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}
