package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"hermes/internal/domain/token"
	"hermes/pkg/errors"
)

// TokenRepository implements token.Repository on PostgreSQL. Expiry is
// enforced lazily: expired rows stay until redeemed or purged.
type TokenRepository struct {
	db DBTX
}

// NewTokenRepository creates a PostgreSQL-backed token repository.
func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

// Insert stores a freshly issued token.
func (r *TokenRepository) Insert(ctx context.Context, tok *token.Token) error {
	query := `
		INSERT INTO resumption_tokens (token, session_id, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		tok.Value,
		tok.SessionID,
		tok.UserID,
		tok.CreatedAt,
		tok.ExpiresAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.Wrap(errors.ErrAlreadyExists, "token collision")
		}
		return errors.Wrapf(errors.ErrStorage, "insert token: %v", err)
	}

	return nil
}

// Claim removes the token row and returns it. DELETE ... RETURNING makes
// the consume atomic: of concurrent claims for the same value exactly one
// gets the row, the rest see ErrNotFound. Expiry is not checked here; the
// registry decides what an expired row means.
func (r *TokenRepository) Claim(ctx context.Context, value string) (*token.Token, error) {
	query := `
		DELETE FROM resumption_tokens
		WHERE token = $1
		RETURNING token, session_id, user_id, created_at, expires_at
	`

	var tok token.Token
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&tok.Value,
		&tok.SessionID,
		&tok.UserID,
		&tok.CreatedAt,
		&tok.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "token not found")
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "claim token: %v", err)
	}

	return &tok, nil
}

// DeleteExpired reaps rows whose expiry has passed.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM resumption_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "delete expired tokens: %v", err)
	}
	return result.RowsAffected()
}
