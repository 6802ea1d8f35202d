package token

import (
	"context"
	"time"

	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// Registry issues and redeems resumption tokens. Tokens are strictly
// single-use: Redeem removes the token before reporting success, so a
// second presentation of the same value fails with ErrNotFound.
type Registry struct {
	repo Repository
	ttl  time.Duration
	log  *logger.Logger

	now func() time.Time
}

// NewRegistry creates a token registry with the given time-to-live.
func NewRegistry(repo Repository, ttl time.Duration) *Registry {
	return &Registry{
		repo: repo,
		ttl:  ttl,
		log:  logger.Get().With("component", "token_registry"),
		now:  time.Now,
	}
}

// Issue mints a fresh token for the session. Issuing never revokes
// previously issued tokens; each disconnect gets its own credential.
func (r *Registry) Issue(ctx context.Context, sessionID, userID string) (*Token, error) {
	if sessionID == "" || userID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "session_id and user_id are required")
	}

	value, err := NewValue()
	if err != nil {
		return nil, errors.Wrap(err, "generate token")
	}

	now := r.now()
	tok := &Token{
		Value:     value,
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	if err := r.repo.Insert(ctx, tok); err != nil {
		return nil, errors.Wrap(err, "store token")
	}

	r.log.Infow("token issued", "session_id", sessionID, "user_id", userID, "expires_at", tok.ExpiresAt)
	return tok, nil
}

// Redeem validates and consumes a token in one step. Consumption is a
// single atomic claim in the repository, so concurrent redemptions of the
// same value cannot both succeed. An expired token is consumed by the
// claim and reported as ErrTokenExpired; the retry sees ErrNotFound.
func (r *Registry) Redeem(ctx context.Context, value string) (*Token, error) {
	if value == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "token is required")
	}

	tok, err := r.repo.Claim(ctx, value)
	if err != nil {
		return nil, err
	}

	if tok.Expired(r.now()) {
		return nil, errors.Wrapf(errors.ErrTokenExpired, "session %s", tok.SessionID)
	}

	r.log.Infow("token redeemed", "session_id", tok.SessionID, "user_id", tok.UserID)
	return tok, nil
}

// PurgeExpired removes tokens past their expiry. Safe to call from a
// periodic sweep; backends with native TTL make this a no-op.
func (r *Registry) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := r.repo.DeleteExpired(ctx, r.now())
	if err != nil {
		return 0, errors.Wrap(err, "purge expired tokens")
	}
	if n > 0 {
		r.log.Infow("expired tokens purged", "count", n)
	}
	return n, nil
}
